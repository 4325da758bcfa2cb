package flowtable

import "errors"

// Errors returned by ProcessFlow. Both are non-fatal to the table: its
// invariants hold after either is returned, and the caller decides how
// to react (rebase and retry, or drop the packet).
var (
	// ErrOffsetOutOfRange means now-base fell outside [MinOffset,
	// MaxOffset] before any probing happened. The caller should call
	// AdvanceBaseTimestamp and retry.
	ErrOffsetOutOfRange = errors.New("flowtable: timestamp offset out of range")
	// ErrProbeExhausted means MaxProbes slots were inspected without
	// finding a match or a reusable slot.
	ErrProbeExhausted = errors.New("flowtable: probe budget exhausted")
)

// Config bundles the tunable constants of the table. None of them are
// fixed; they are policy chosen by the operator.
type Config struct {
	Capacity          int
	MaxProbes         int
	C1                int64
	C2                int64
	ExpirationSeconds int64
	MinOffset         int32
	MaxOffset         int32
	// ThresholdingEnabled gates PacketCount tracking itself, not just
	// the thresholded-flows report: when false, ProcessFlow never
	// initializes or increments PacketCount, matching the C source's
	// DISABLE_FLOW_THRESHOLDING guard around num_packets.
	ThresholdingEnabled bool
}

// DefaultConfig returns the constants the reference deployment ships
// with: a 64k-entry table, an 8-probe budget, a 5-minute expiration
// horizon, and an offset range comfortably inside int32.
func DefaultConfig() Config {
	return Config{
		Capacity:            65536,
		MaxProbes:           8,
		C1:                  1,
		C2:                  3,
		ExpirationSeconds:   300,
		MinOffset:           -1 << 20,
		MaxOffset:           1<<20 - 1,
		ThresholdingEnabled: true,
	}
}

// Table is the fixed-capacity, open-addressed flow table that aggregates
// packets into unidirectional flows. It is single-threaded cooperative:
// ProcessFlow, WriteUpdate,
// WriteThresholdedIPs and AdvanceBaseTimestamp must be externally
// serialized by the caller (internal/agent runs every call on one
// goroutine). The table
// itself does no internal locking and never allocates after
// construction.
type Table struct {
	cfg Config
	hash HashFunc

	entries []Entry

	baseTimestampSeconds int64
	countLive            uint32
	countExpired         int64
	countDropped         int64
}

// Option configures a Table at construction time.
type Option func(*Table)

// WithHashFunc overrides the production hash function. Intended for
// tests that need to force specific collision patterns.
func WithHashFunc(h HashFunc) Option {
	return func(t *Table) { t.hash = h }
}

// New allocates a Table with the given Config. The entries array is
// allocated once, here, and never resized.
func New(cfg Config, opts ...Option) *Table {
	t := &Table{
		cfg:     cfg,
		hash:    fnv1a32,
		entries: make([]Entry, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CountLive is the number of slots currently OccupiedUnsent or
// OccupiedSent.
func (t *Table) CountLive() uint32 { return t.countLive }

// CountExpired is the cumulative number of lazy expirations observed
// along probe paths since construction.
func (t *Table) CountExpired() int64 { return t.countExpired }

// CountDropped is the cumulative number of insert attempts that could
// not be placed, whether due to an out-of-range timestamp or an
// exhausted probe budget.
func (t *Table) CountDropped() int64 { return t.countDropped }

// BaseTimestampSeconds is the epoch offset every live entry's
// LastUpdateOffset is measured from.
func (t *Table) BaseTimestampSeconds() int64 { return t.baseTimestampSeconds }

// Capacity is the fixed size of the entries array.
func (t *Table) Capacity() int { return t.cfg.Capacity }

// Entry returns a copy of the entry at idx. Intended for writers and
// tests; callers must not assume it stays current.
func (t *Table) Entry(idx int) Entry { return t.entries[idx] }

// PromoteSent transitions the slot at idx from OccupiedUnsent to
// OccupiedSent. It is the only mutation the update writer is allowed to
// make; it does not touch PacketCount, LastUpdateOffset, or the live
// counters.
func (t *Table) PromoteSent(idx int) {
	if t.entries[idx].Occupancy == OccupiedUnsent {
		t.entries[idx].Occupancy = OccupiedSent
	}
}

// slot computes the quadratic-probe slot index for probe i.
func (t *Table) slot(hash uint32, i int64) int {
	c1, c2 := t.cfg.C1, t.cfg.C2
	v := int64(hash) + c1*i + c2*i*i
	m := int64(t.cfg.Capacity)
	v %= m
	if v < 0 {
		v += m
	}
	return int(v)
}

// ProcessFlow locates the live entry matching key's 5-tuple and
// refreshes it, or inserts a new entry for it. It returns the slot
// index on success, or an error (ErrOffsetOutOfRange,
// ErrProbeExhausted) on failure. Each probe in the sequence lazily
// expires any stale entry it lands on, then checks for a key match to
// refresh, then remembers the first reusable (Empty or expired)
// slot it passes, and finally terminates the probe on a true Empty
// slot, falling back to the remembered reusable slot if the budget
// runs out without one.
func (t *Table) ProcessFlow(key FlowKey, nowSeconds int64) (int, error) {
	if t.countLive > 0 {
		offset := nowSeconds - t.baseTimestampSeconds
		if offset > int64(t.cfg.MaxOffset) || offset < int64(t.cfg.MinOffset) {
			t.countDropped++
			return -1, ErrOffsetOutOfRange
		}
	}

	hb := key.hashBytes()
	hash := t.hash(hb[:])

	firstAvailable := -1
	for i := int64(0); i < int64(t.cfg.MaxProbes); i++ {
		idx := t.slot(hash, i)
		entry := &t.entries[idx]

		if entry.isLive() &&
			t.baseTimestampSeconds+int64(entry.LastUpdateOffset)+t.cfg.ExpirationSeconds < nowSeconds {
			entry.Occupancy = Deleted
			t.countLive--
			t.countExpired++
		}

		if entry.isLive() && entry.Key == key {
			entry.LastUpdateOffset = int32(nowSeconds - t.baseTimestampSeconds)
			if t.cfg.ThresholdingEnabled && entry.Occupancy == OccupiedUnsent && entry.PacketCount < MaxPacketCount {
				entry.PacketCount++
			}
			return idx, nil
		}

		if !entry.isLive() {
			if firstAvailable < 0 {
				firstAvailable = idx
			}
			if entry.Occupancy == Empty {
				break
			}
		}
	}

	if firstAvailable < 0 {
		t.countDropped++
		return -1, ErrProbeExhausted
	}

	if t.countLive == 0 {
		t.baseTimestampSeconds = nowSeconds
	}

	entry := &t.entries[firstAvailable]
	entry.Key = key
	entry.Occupancy = OccupiedUnsent
	if t.cfg.ThresholdingEnabled {
		entry.PacketCount = 1
	} else {
		entry.PacketCount = 0
	}
	entry.LastUpdateOffset = int32(nowSeconds - t.baseTimestampSeconds)
	t.countLive++
	return firstAvailable, nil
}

// AdvanceBaseTimestamp rebases every live entry's offset so it remains
// representable after time has advanced, evicting (without counting
// toward CountExpired) any entry whose rebased offset would underflow
// MinOffset.
func (t *Table) AdvanceBaseTimestamp(newBaseSeconds int64) {
	shift := newBaseSeconds - t.baseTimestampSeconds
	for i := range t.entries {
		entry := &t.entries[i]
		if !entry.isLive() {
			continue
		}
		rebased := int64(entry.LastUpdateOffset) - shift
		if rebased < int64(t.cfg.MinOffset) {
			entry.Occupancy = Deleted
			t.countLive--
			continue
		}
		entry.LastUpdateOffset = int32(rebased)
	}
	t.baseTimestampSeconds = newBaseSeconds
}
