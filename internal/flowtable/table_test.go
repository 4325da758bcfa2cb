package flowtable

import (
	"errors"
	"testing"
)

func testKey(n uint32) FlowKey {
	return FlowKey{SrcIP: n, DstIP: n + 1, Protocol: 6, SrcPort: 1000, DstPort: 80}
}

func TestProcessFlow_InsertOnEmptyTable(t *testing.T) {
	tbl := New(DefaultConfig())

	idx, err := tbl.ProcessFlow(testKey(0x01010101), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx < 0 {
		t.Fatalf("expected valid slot index, got %d", idx)
	}
	if tbl.CountLive() != 1 {
		t.Fatalf("expected CountLive=1, got %d", tbl.CountLive())
	}
	if tbl.BaseTimestampSeconds() != 1000 {
		t.Fatalf("expected base timestamp 1000, got %d", tbl.BaseTimestampSeconds())
	}

	e := tbl.Entry(idx)
	if e.LastUpdateOffset != 0 {
		t.Errorf("expected offset 0, got %d", e.LastUpdateOffset)
	}
	if e.PacketCount != 1 {
		t.Errorf("expected packet count 1, got %d", e.PacketCount)
	}
	if e.Occupancy != OccupiedUnsent {
		t.Errorf("expected OccupiedUnsent, got %v", e.Occupancy)
	}
}

func TestProcessFlow_RefreshExistingUnsentIncrementsCount(t *testing.T) {
	tbl := New(DefaultConfig())
	key := testKey(42)

	idx1, err := tbl.ProcessFlow(key, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx2, err := tbl.ProcessFlow(key, 1005)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx1 != idx2 {
		t.Fatalf("expected same slot, got %d and %d", idx1, idx2)
	}
	e := tbl.Entry(idx2)
	if e.PacketCount != 2 {
		t.Errorf("expected packet count 2, got %d", e.PacketCount)
	}
	if e.LastUpdateOffset != 5 {
		t.Errorf("expected offset 5, got %d", e.LastUpdateOffset)
	}
}

func TestProcessFlow_SentEntryDoesNotIncrementPacketCount(t *testing.T) {
	tbl := New(DefaultConfig())
	key := testKey(7)

	idx, _ := tbl.ProcessFlow(key, 1000)
	tbl.entries[idx].Occupancy = OccupiedSent

	idx2, err := tbl.ProcessFlow(key, 1005)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx2 != idx {
		t.Fatalf("expected same slot")
	}
	e := tbl.Entry(idx)
	if e.PacketCount != 1 {
		t.Errorf("expected packet count to stay 1 while sent, got %d", e.PacketCount)
	}
	if e.LastUpdateOffset != 5 {
		t.Errorf("expected offset 5, got %d", e.LastUpdateOffset)
	}
}

func TestProcessFlow_PacketCountSaturatesAt63(t *testing.T) {
	tbl := New(DefaultConfig())
	key := testKey(99)

	for i := 0; i < 100; i++ {
		if _, err := tbl.ProcessFlow(key, 1000+int64(i)); err != nil {
			t.Fatalf("unexpected error on iteration %d: %v", i, err)
		}
	}
	idx, _ := tbl.ProcessFlow(key, 1100)
	if tbl.Entry(idx).PacketCount != MaxPacketCount {
		t.Errorf("expected packet count to saturate at %d, got %d", MaxPacketCount, tbl.Entry(idx).PacketCount)
	}
}

func TestProcessFlow_CollisionPathDropsAfterMaxProbes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxProbes = 4
	tbl := New(cfg, WithHashFunc(func([]byte) uint32 { return 7 }))

	accepted := 0
	for i := uint32(0); i < uint32(cfg.MaxProbes); i++ {
		if _, err := tbl.ProcessFlow(testKey(i), 1000); err != nil {
			t.Fatalf("expected probe %d to be accepted, got error %v", i, err)
		}
		accepted++
	}
	if accepted != cfg.MaxProbes {
		t.Fatalf("expected %d accepted flows, got %d", cfg.MaxProbes, accepted)
	}

	_, err := tbl.ProcessFlow(testKey(uint32(cfg.MaxProbes)), 1000)
	if !errors.Is(err, ErrProbeExhausted) {
		t.Fatalf("expected ErrProbeExhausted, got %v", err)
	}
	if tbl.CountDropped() != 1 {
		t.Errorf("expected CountDropped=1, got %d", tbl.CountDropped())
	}
}

func TestProcessFlow_ExpirationReplacesStaleSlotOnProbe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpirationSeconds = 100
	tbl := New(cfg, WithHashFunc(func([]byte) uint32 { return 3 }))

	keyA := testKey(1)
	idxA, err := tbl.ProcessFlow(keyA, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Probe the same slot with a different 5-tuple far enough past the
	// expiration horizon to force eviction of the first flow.
	keyB := testKey(2)
	staleTime := int64(cfg.ExpirationSeconds) + 5
	idxB, err := tbl.ProcessFlow(keyB, staleTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if idxA != idxB {
		t.Fatalf("expected second flow to reuse slot %d, got %d", idxA, idxB)
	}
	if tbl.CountExpired() != 1 {
		t.Errorf("expected CountExpired=1, got %d", tbl.CountExpired())
	}
	if tbl.Entry(idxB).Key != keyB {
		t.Errorf("expected slot to now hold the new key")
	}
}

func TestProcessFlow_OutOfRangeTimestampIsRefused(t *testing.T) {
	tbl := New(DefaultConfig())
	key := testKey(5)

	if _, err := tbl.ProcessFlow(key, 1_000_000_000); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}

	farFuture := int64(1_000_000_000) + int64(tbl.cfg.MaxOffset) + 1
	_, err := tbl.ProcessFlow(testKey(6), farFuture)
	if !errors.Is(err, ErrOffsetOutOfRange) {
		t.Fatalf("expected ErrOffsetOutOfRange, got %v", err)
	}
	if tbl.CountDropped() != 1 {
		t.Errorf("expected CountDropped=1, got %d", tbl.CountDropped())
	}
}

func TestAdvanceBaseTimestamp_PreservesAbsoluteTimeForSurvivors(t *testing.T) {
	tbl := New(DefaultConfig())
	key := testKey(11)

	idx, _ := tbl.ProcessFlow(key, 1000)
	absoluteBefore := tbl.BaseTimestampSeconds() + int64(tbl.Entry(idx).LastUpdateOffset)

	tbl.AdvanceBaseTimestamp(1050)

	if tbl.BaseTimestampSeconds() != 1050 {
		t.Fatalf("expected base timestamp 1050, got %d", tbl.BaseTimestampSeconds())
	}
	absoluteAfter := tbl.BaseTimestampSeconds() + int64(tbl.Entry(idx).LastUpdateOffset)
	if absoluteBefore != absoluteAfter {
		t.Errorf("expected reconstructed absolute time to be preserved: before=%d after=%d", absoluteBefore, absoluteAfter)
	}
}

func TestAdvanceBaseTimestamp_EvictsEntriesThatWouldUnderflow(t *testing.T) {
	cfg := DefaultConfig()
	tbl := New(cfg)
	key := testKey(12)

	idx, _ := tbl.ProcessFlow(key, 1000)
	_ = idx

	// Shift far enough that offset - shift < MinOffset.
	shift := int64(cfg.MaxOffset) - int64(cfg.MinOffset) + 10
	before := tbl.CountLive()
	tbl.AdvanceBaseTimestamp(1000 + shift)

	if tbl.CountLive() != before-1 {
		t.Fatalf("expected entry to be evicted, CountLive before=%d after=%d", before, tbl.CountLive())
	}
	if tbl.CountExpired() != 0 {
		t.Errorf("rebase eviction must not increment CountExpired, got %d", tbl.CountExpired())
	}
}

func TestAdvanceBaseTimestamp_DoesNotTouchPacketCountOrSentVariant(t *testing.T) {
	tbl := New(DefaultConfig())
	key := testKey(13)
	idx, _ := tbl.ProcessFlow(key, 1000)
	tbl.entries[idx].Occupancy = OccupiedSent
	tbl.entries[idx].PacketCount = 9

	tbl.AdvanceBaseTimestamp(1010)

	e := tbl.Entry(idx)
	if e.PacketCount != 9 {
		t.Errorf("expected packet count unchanged, got %d", e.PacketCount)
	}
	if e.Occupancy != OccupiedSent {
		t.Errorf("expected occupancy to stay OccupiedSent, got %v", e.Occupancy)
	}
}

func TestProcessFlow_ThresholdingDisabledNeverCountsPackets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThresholdingEnabled = false
	tbl := New(cfg)
	key := testKey(30)

	idx, _ := tbl.ProcessFlow(key, 1000)
	if tbl.Entry(idx).PacketCount != 0 {
		t.Fatalf("expected packet count 0 on insert with thresholding disabled, got %d", tbl.Entry(idx).PacketCount)
	}

	idx2, _ := tbl.ProcessFlow(key, 1005)
	if idx2 != idx {
		t.Fatalf("expected same slot, got %d and %d", idx, idx2)
	}
	if tbl.Entry(idx2).PacketCount != 0 {
		t.Fatalf("expected packet count to stay 0 on refresh with thresholding disabled, got %d", tbl.Entry(idx2).PacketCount)
	}
}

func TestInvariant_NoTwoLiveSlotsShareAKey(t *testing.T) {
	tbl := New(DefaultConfig())
	key := testKey(21)

	idx1, _ := tbl.ProcessFlow(key, 1000)
	idx2, _ := tbl.ProcessFlow(key, 1001)
	if idx1 != idx2 {
		t.Fatalf("re-inserting the same key must refresh the same slot")
	}

	seen := make(map[FlowKey]bool)
	for i := range tbl.entries {
		e := tbl.entries[i]
		if e.isLive() {
			if seen[e.Key] {
				t.Fatalf("duplicate live key %+v", e.Key)
			}
			seen[e.Key] = true
		}
	}
}
