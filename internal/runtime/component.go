package runtime

// Component associates an instance with its imported-then-defined entries
// of a given kind (spec.md §3 `Component<T>`): an ordered list of pointers
// into other owners (ext), followed by locally defined entries (int). An
// instance-local index below len(ext) follows the pointer; otherwise it
// indexes into int directly.
type Component[T any] struct {
	Ext []T
	Int []T
}

// Len is the combined imported+defined count.
func (c *Component[T]) Len() int { return len(c.Ext) + len(c.Int) }

// At resolves instance-local index x, reporting ok=false if out of range.
func (c *Component[T]) At(x uint32) (T, bool) {
	if int(x) < len(c.Ext) {
		return c.Ext[x], true
	}
	d := int(x) - len(c.Ext)
	if d >= len(c.Int) {
		var zero T
		return zero, false
	}
	return c.Int[d], true
}
