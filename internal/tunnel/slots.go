package tunnel

import "sync"

// MaxSlots is the fixed size of a carrier's logical channel slot table
// (spec §4.E, §8 boundary: "Slot table of exactly 1024 channels rejects
// the 1025th").
const MaxSlots = 1024

// slotTable tracks which of a carrier's 1024 chann_id slots are in use and
// hands out the monotonically increasing magic that disambiguates reuse of
// a slot across its lifetime. Lowest-free-slot allocation is the spec's
// recommended improvement over the source's monotonic-index allocator
// (spec §9 Open Questions).
type slotTable struct {
	mu        sync.Mutex
	used      [MaxSlots]bool
	magic     [MaxSlots]uint32
	nextMagic uint32
	count     int
}

func newSlotTable() *slotTable {
	return &slotTable{}
}

// alloc reserves the lowest free slot and assigns it a magic strictly
// greater than any magic previously handed out on this table. ok is false
// if the table is full.
func (t *slotTable) alloc() (slot uint32, magic uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count >= MaxSlots {
		return 0, 0, false
	}
	for i := 0; i < MaxSlots; i++ {
		if !t.used[i] {
			t.nextMagic++
			t.used[i] = true
			t.magic[i] = t.nextMagic
			t.count++
			return uint32(i), t.nextMagic, true
		}
	}
	return 0, 0, false
}

// free releases a slot for reuse. A subsequent alloc() may return the same
// slot index, but with a strictly greater magic.
func (t *slotTable) free(slot uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot >= MaxSlots || !t.used[slot] {
		return
	}
	t.used[slot] = false
	t.count--
}

// magicOf returns the magic currently assigned to slot, and whether the
// slot is presently in use.
func (t *slotTable) magicOf(slot uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot >= MaxSlots || !t.used[slot] {
		return 0, false
	}
	return t.magic[slot], true
}

// matches reports whether (slot, magic) identifies the currently active
// logical channel occupying slot — used to discard delayed frames that
// target a slot that has since been recycled (spec §8 scenario 6).
func (t *slotTable) matches(slot, magic uint32) bool {
	cur, ok := t.magicOf(slot)
	return ok && cur == magic
}
