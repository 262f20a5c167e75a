package nodecache

import "testing"

func TestSetGetRoundTrip(t *testing.T) {
	c := New(0)
	c.Set(1, 51.5074, -0.1278, nil)
	lat, lon, ok := c.Get(1)
	if !ok {
		t.Fatalf("Get(1) ok = false after Set")
	}
	if lat != 51.5074 || lon != -0.1278 {
		t.Fatalf("Get(1) = (%v, %v), want (51.5074, -0.1278)", lat, lon)
	}
}

func TestGetMissNeverReturnsStaleData(t *testing.T) {
	c := New(0)
	if _, _, ok := c.Get(999); ok {
		t.Fatalf("Get on never-set id reported a hit")
	}
}

func TestSetOverwritesPreviousValue(t *testing.T) {
	c := New(0)
	c.Set(1, 1.0, 1.0, nil)
	c.Set(1, 2.0, 2.0, nil)
	lat, lon, ok := c.Get(1)
	if !ok || lat != 2.0 || lon != 2.0 {
		t.Fatalf("Get(1) = (%v, %v, %v), want (2.0, 2.0, true)", lat, lon, ok)
	}
}

func TestSparseToDensePromotion(t *testing.T) {
	c := New(0)
	// Fill one block past sparseThreshold to force promotion, then
	// verify every entry is still retrievable afterward.
	for i := int64(0); i < sparseThreshold+10; i++ {
		c.Set(i, float64(i), float64(-i), nil)
	}
	for i := int64(0); i < sparseThreshold+10; i++ {
		lat, lon, ok := c.Get(i)
		if !ok || lat != float64(i) || lon != float64(-i) {
			t.Fatalf("Get(%d) = (%v, %v, %v), want (%v, %v, true)", i, lat, lon, ok, float64(i), float64(-i))
		}
	}
}

func TestEvictionUnderBudget(t *testing.T) {
	// A tiny budget forces eviction after a handful of distinct blocks
	// are touched; ids far enough apart land in different blocks.
	c := New(0)
	c.budgetBytes = bytesPerDenseBlock + 1 // room for roughly one dense block

	ids := []int64{0, blockSize * 2, blockSize * 4, blockSize * 6}
	for _, id := range ids {
		// Push each block into dense mode so its size counts toward the
		// budget meaningfully.
		for j := int64(0); j < sparseThreshold+1; j++ {
			c.Set(id+j, 1, 1, nil)
		}
	}

	stats := c.Stats()
	if stats.Evictions == 0 {
		t.Fatalf("expected at least one eviction under a tight budget, got 0")
	}
	// The earliest-touched block should have been evicted.
	if _, _, ok := c.Get(ids[0]); ok {
		t.Fatalf("Get(%d) still hit after it should have been evicted", ids[0])
	}
}

func TestStatsCountsHitsAndMisses(t *testing.T) {
	c := New(0)
	c.Set(1, 1, 1, nil)
	c.Get(1)
	c.Get(2)
	c.Get(1)

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Fatalf("Hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Fatalf("Misses = %d, want 1", stats.Misses)
	}
}
