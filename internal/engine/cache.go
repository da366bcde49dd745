package engine

import "fmt"

// stmtCache holds compiled statements in a fixed-size slot table. Statement
// ids are slot indexes: allocation scans for the lowest free slot, so ids
// are reused as soon as they are closed. A full table answers allocation
// with ok=false, which the prepare path reports as a null id.
type stmtCache struct {
	slots []*statement
}

func newStmtCache(capacity int) *stmtCache {
	return &stmtCache{slots: make([]*statement, capacity)}
}

func (c *stmtCache) allocate(stmt *statement) (uint32, bool) {
	for i, slot := range c.slots {
		if slot == nil {
			c.slots[i] = stmt
			return uint32(i), true
		}
	}
	return 0, false
}

func (c *stmtCache) get(id uint32) (*statement, error) {
	if int(id) >= len(c.slots) || c.slots[id] == nil {
		return nil, fmt.Errorf("unknown statement %d", id)
	}
	return c.slots[id], nil
}

// remove frees a slot. Removing an id that is not allocated is a no-op,
// which is what makes statement close idempotent.
func (c *stmtCache) remove(id uint32) {
	if int(id) < len(c.slots) {
		c.slots[id] = nil
	}
}

// used reports how many slots are occupied.
func (c *stmtCache) used() int {
	n := 0
	for _, slot := range c.slots {
		if slot != nil {
			n++
		}
	}
	return n
}
