package pmr

// ExhaustedCallback is called when a request could not be satisfied from the free pools, before the
// request either fails or goes to sleep. It is a good place to kick off page reclamation. The
// allocator's lock is not held while it runs, so it may free pages.
type ExhaustedCallback func(
	allocator *Allocator,
	count int,
	info AllocationCreateInfo,
	userData interface{},
)

type MemoryCallbackOptions struct {
	Exhausted ExhaustedCallback
	UserData  interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Allocator *Allocator
}

func (c *memoryCallbacks) Exhausted(count int, info AllocationCreateInfo) {
	if c.Callbacks != nil && c.Callbacks.Exhausted != nil {
		c.Callbacks.Exhausted(c.Allocator, count, info, c.Callbacks.UserData)
	}
}
