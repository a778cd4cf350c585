package pmr

import "github.com/cockroachdb/errors"

// ErrConstraint is returned, wrapped with details, when a request's placement constraints are
// malformed or refer to pages the allocator does not manage. It is never retried.
var ErrConstraint = errors.New("page constraints are invalid")

// ErrResourceExhausted is returned when a request that is not allowed to block could not be
// satisfied from the free pools. Callers should treat it as recoverable.
var ErrResourceExhausted = errors.New("not enough free pages satisfy the request")
