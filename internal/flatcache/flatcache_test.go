package flatcache

import (
	"path/filepath"
	"testing"
)

func TestSetGetRoundTripFixedPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.cache")
	c, err := New(path, ModeFixedPoint, 10_000_000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Set(42, 51.5074, -0.1278); err != nil {
		t.Fatalf("Set: %v", err)
	}
	lat, lon, ok := c.Get(42)
	if !ok {
		t.Fatalf("Get(42) ok = false")
	}
	if abs(lat-51.5074) > 1e-6 || abs(lon-(-0.1278)) > 1e-6 {
		t.Fatalf("Get(42) = (%v, %v), want approx (51.5074, -0.1278)", lat, lon)
	}
}

func TestSetGetRoundTripDoubleMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.cache")
	c, err := New(path, ModeDouble, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Set(7, 12.3456789, -98.7654321); err != nil {
		t.Fatalf("Set: %v", err)
	}
	lat, lon, ok := c.Get(7)
	if !ok || lat != 12.3456789 || lon != -98.7654321 {
		t.Fatalf("Get(7) = (%v, %v, %v), want exact round trip in double mode", lat, lon, ok)
	}
}

func TestGetUnsetIDIsMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.cache")
	c, err := New(path, ModeFixedPoint, 10_000_000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, _, ok := c.Get(12345); ok {
		t.Fatalf("Get on never-set id reported a hit")
	}
}

func TestDeleteSentinelMasksRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.cache")
	c, err := New(path, ModeFixedPoint, 10_000_000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Set(1, 1.0, 2.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, ok := c.Get(1); ok {
		t.Fatalf("Get(1) after Delete reported a hit")
	}
}

func TestDeleteSentinelDoesNotCollideWithRealCoordinate(t *testing.T) {
	// A real-world coordinate near (0,0) must never be confused with the
	// delete sentinel (MinInt32 in fixed-point mode).
	path := filepath.Join(t.TempDir(), "nodes.cache")
	c, err := New(path, ModeFixedPoint, 10_000_000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Set(2, 0.0, 0.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	lat, lon, ok := c.Get(2)
	if !ok || lat != 0 || lon != 0 {
		t.Fatalf("Get(2) = (%v, %v, %v), want (0, 0, true)", lat, lon, ok)
	}
}

func TestGrowsPastInitialCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.cache")
	c, err := New(path, ModeFixedPoint, 10_000_000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	bigID := int64(growthRecords) * 4
	if err := c.Set(bigID, 10.0, 20.0); err != nil {
		t.Fatalf("Set(%d): %v", bigID, err)
	}
	lat, lon, ok := c.Get(bigID)
	if !ok || abs(lat-10.0) > 1e-6 || abs(lon-20.0) > 1e-6 {
		t.Fatalf("Get(%d) = (%v, %v, %v), want (10, 20, true)", bigID, lat, lon, ok)
	}
}

func TestOpenAppendModePreservesExistingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.cache")
	c, err := New(path, ModeFixedPoint, 10_000_000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Set(99, 33.0, 44.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, ModeFixedPoint, 10_000_000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if !reopened.IsAppend() {
		t.Fatalf("IsAppend() = false on a reopened cache")
	}
	lat, lon, ok := reopened.Get(99)
	if !ok || abs(lat-33.0) > 1e-6 || abs(lon-44.0) > 1e-6 {
		t.Fatalf("Get(99) after reopen = (%v, %v, %v), want (33, 44, true)", lat, lon, ok)
	}
}

func TestGetListPreservesOrderAndReportsMisses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.cache")
	c, err := New(path, ModeFixedPoint, 10_000_000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Set(1, 1.0, 1.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(3, 3.0, 3.0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	lats, lons, oks := c.GetList([]int64{1, 2, 3})
	wantOks := []bool{true, false, true}
	for i, ok := range oks {
		if ok != wantOks[i] {
			t.Fatalf("GetList oks[%d] = %v, want %v", i, ok, wantOks[i])
		}
	}
	if abs(lats[0]-1.0) > 1e-6 || abs(lons[0]-1.0) > 1e-6 {
		t.Fatalf("GetList id 1 = (%v, %v), want (1, 1)", lats[0], lons[0])
	}
	if abs(lats[2]-3.0) > 1e-6 || abs(lons[2]-3.0) > 1e-6 {
		t.Fatalf("GetList id 3 = (%v, %v), want (3, 3)", lats[2], lons[2])
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
