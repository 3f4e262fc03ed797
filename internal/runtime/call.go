package runtime

import "github.com/sandboxwasm/wasmcore/api"

// RunResult is the outcome of driving a Thread until it either runs to
// completion or needs a host function's results to proceed (spec.md §4.3
// "thread execution suspends at a host call boundary").
type RunResult struct {
	Done   bool
	Values []Val // valid when Done
	Call   *Call // valid when !Done
}

// Call is a suspended Thread handed across the store boundary to the
// embedder, waiting on a host function's results (spec.md §4.4
// Continuation, §6 Call object).
type Call struct {
	thread      *Thread
	hostIndex   uint32
	args        []Val
	instID      InstID
	resultArity int
}

// Index is the host function table index this call targets.
func (c *Call) Index() uint32 { return c.hostIndex }

// Args are the Wasm-side operands already popped for this call.
func (c *Call) Args() []Val { return c.args }

// Inst identifies the instance whose Wasm code made this call.
func (c *Call) Inst() InstID { return c.instID }

// Mem returns the calling instance's memory, or nil if it declares none.
func (c *Call) Mem() *Memory {
	inst := c.thread.store.mustInstance(c.instID)
	m, ok := inst.Memory.At(0)
	if !ok {
		return nil
	}
	return m
}

// Resume supplies the host function's results and continues the suspended
// thread from exactly where it left off.
func (c *Call) Resume(results []Val) (RunResult, error) {
	if len(results) != c.resultArity {
		return RunResult{}, api.NewTrap("host call returned %d value(s), want %d", len(results), c.resultArity)
	}
	c.thread.pushAll(results)
	return c.thread.run()
}
