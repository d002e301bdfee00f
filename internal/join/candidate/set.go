// Package candidate accumulates prefix-match counts for the probe record
// currently being processed.
package candidate

// Set is a sparse accumulator over indexed record ids. Counts live in a side
// table addressed by record id; the ids touched since the last Clear are
// tracked separately so clearing costs only as much as the probe touched.
type Set struct {
	counts []uint32
	active []int32
}

// NewSet sizes the side table for record ids in [0, n).
func NewSet(n int) *Set {
	return &Set{
		counts: make([]uint32, n),
		active: make([]int32, 0, 64),
	}
}

// GetOrCreate returns the count slot of id. A slot holding zero is a first
// touch for this probe and registers id as active; callers increment the
// slot before touching id again.
func (s *Set) GetOrCreate(id int32) *uint32 {
	slot := &s.counts[id]
	if *slot == 0 {
		s.active = append(s.active, id)
	}
	return slot
}

// IDs are the ids touched since the last Clear, in first-touch order. The
// slice is only valid until the next Clear.
func (s *Set) IDs() []int32 { return s.active }

func (s *Set) Count(id int32) uint32 { return s.counts[id] }

// Reset zeroes the slot of id without unregistering it.
func (s *Set) Reset(id int32) { s.counts[id] = 0 }

func (s *Set) Len() int { return len(s.active) }

// Clear zeroes every touched slot, forgets the active ids, and returns how
// many slots it visited.
func (s *Set) Clear() int {
	n := len(s.active)
	for _, id := range s.active {
		s.counts[id] = 0
	}
	s.active = s.active[:0]
	return n
}
