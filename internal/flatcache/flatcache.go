// Package flatcache implements the optional on-disk flat-file node
// coordinate cache described in §4.2: a direct-addressed file where
// record i lives at a fixed offset i*recordSize. It backs the RAM
// cache's lossy misses when flat_node_cache_enabled is set, and is the
// adaptation target for the teacher's internal/nodeindex mmap index
// (same addressing idea, generalized to the spec's record layout,
// NaN-sentinel deletes, and append-mode reopen).
package flatcache

import (
	"math"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
)

// Mode selects the on-disk coordinate representation.
type Mode int

const (
	// ModeFixedPoint stores two little-endian int32s per record
	// (8 bytes/record), coordinates scaled by Scale.
	ModeFixedPoint Mode = iota
	// ModeDouble stores two little-endian float64s per record
	// (16 bytes/record).
	ModeDouble
)

func (m Mode) recordSize() int64 {
	if m == ModeDouble {
		return 16
	}
	return 8
}

// growthRecords is how many records a freshly-created file is
// pre-sized for; the file grows (Truncate) on demand past that, so a
// small planet extract doesn't pay for a full-size sparse file.
const growthRecords = 1 << 20 // 1M ids ~ 8-16MB initial file

// Cache is a single-writer, direct-addressed coordinate file.
type Cache struct {
	file   *os.File
	data   mmap.MMap
	mode   Mode
	scale  int64
	size   int64 // current mapped size in bytes
	append bool
}

// New creates a fresh cache file at path, truncating any existing
// contents (initial-import mode). scale is only meaningful for
// ModeFixedPoint and is the fixed-point divisor (e.g. 1e7).
func New(path string, mode Mode, scale int64) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	c := &Cache{file: f, mode: mode, scale: scale}
	if err := c.growTo(growthRecords); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// Open reopens an existing cache file in append mode for a diff
// update; the file is not truncated.
func Open(path string, mode Mode, scale int64) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	c := &Cache{file: f, mode: mode, scale: scale, append: true}
	size := info.Size()
	if size == 0 {
		size = growthRecords * mode.recordSize()
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		// existing records are kept as they are; only space added by a
		// later grow is filled with the sentinel
		c.size = size
	}
	if err := c.mapSize(size); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) growTo(records int64) error {
	size := records * c.mode.recordSize()
	if err := c.file.Truncate(size); err != nil {
		return err
	}
	return c.mapSize(size)
}

func (c *Cache) mapSize(size int64) error {
	old := c.size
	if c.data != nil {
		c.data.Unmap()
	}
	data, err := mmap.MapRegion(c.file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return err
	}
	c.data = data
	c.size = size
	// Records in newly added file space get the NaN sentinel, so an id
	// that was never set reads back as a miss rather than as (0,0).
	rs := c.mode.recordSize()
	for off := old; off+rs <= size; off += rs {
		c.putRecord(off, math.NaN(), math.NaN())
	}
	return nil
}

func (c *Cache) ensureCapacity(id int64) error {
	need := (id + 1) * c.mode.recordSize()
	if need <= c.size {
		return nil
	}
	newSize := c.size
	for newSize < need {
		newSize *= 2
	}
	return c.mapSize2(newSize)
}

// mapSize2 grows the backing file and remaps, preserving existing
// records. mapSize fills the added records with the NaN sentinel (zero
// bytes would be a valid fixed-point encoding of (0,0)), so growth
// alone never fabricates a "set" record.
func (c *Cache) mapSize2(size int64) error {
	if err := c.file.Truncate(size); err != nil {
		return err
	}
	return c.mapSize(size)
}

// Set stores lat/lon for id.
func (c *Cache) Set(id int64, lat, lon float64) error {
	if err := c.ensureCapacity(id); err != nil {
		return err
	}
	off := id * c.mode.recordSize()
	c.putRecord(off, lat, lon)
	return nil
}

// Delete writes the NaN sentinel for id, marking it removed.
func (c *Cache) Delete(id int64) error {
	return c.Set(id, math.NaN(), math.NaN())
}

// Get returns the coordinates stored for id, or ok == false if id was
// never set, was deleted (NaN sentinel), or falls past the end of the
// mapped file.
func (c *Cache) Get(id int64) (lat, lon float64, ok bool) {
	off := id * c.mode.recordSize()
	if off < 0 || off+c.mode.recordSize() > c.size {
		return 0, 0, false
	}
	lat, lon = c.readRecord(off)
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, false
	}
	return lat, lon, true
}

// GetList resolves a batch of ids at once. It walks ids in ascending
// offset order so sequential page reads stay local, though the mmap
// itself makes batching mostly a matter of reducing per-call overhead
// rather than physical I/O. Results preserve input order; misses are
// reported via the parallel ok slice rather than compacted, since
// callers combine flat-file results with RAM-cache results before
// compacting.
func (c *Cache) GetList(ids []int64) (lats, lons []float64, oks []bool) {
	lats = make([]float64, len(ids))
	lons = make([]float64, len(ids))
	oks = make([]bool, len(ids))
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ids[order[a]] < ids[order[b]] })
	for _, i := range order {
		lats[i], lons[i], oks[i] = c.Get(ids[i])
	}
	return lats, lons, oks
}

func (c *Cache) putRecord(off int64, lat, lon float64) {
	switch c.mode {
	case ModeDouble:
		putFloat64(c.data[off:], lat)
		putFloat64(c.data[off+8:], lon)
	default:
		latFixed := int32(lat * float64(c.scale))
		lonFixed := int32(lon * float64(c.scale))
		if math.IsNaN(lat) {
			latFixed = fixedNaN
		}
		if math.IsNaN(lon) {
			lonFixed = fixedNaN
		}
		putInt32(c.data[off:], latFixed)
		putInt32(c.data[off+4:], lonFixed)
	}
}

// fixedNaN is the sentinel used in fixed-point mode, since an int32
// has no native NaN. math.MinInt32 never arises from a real scaled
// coordinate (|lat|<=90, |lon|<=180 at any sane scale), so it is safe
// to reserve as the delete/unset marker.
const fixedNaN = int32(-1) << 31 // math.MinInt32

func (c *Cache) readRecord(off int64) (lat, lon float64) {
	switch c.mode {
	case ModeDouble:
		return getFloat64(c.data[off:]), getFloat64(c.data[off+8:])
	default:
		latFixed := getInt32(c.data[off:])
		lonFixed := getInt32(c.data[off+4:])
		if latFixed == fixedNaN || lonFixed == fixedNaN {
			return math.NaN(), math.NaN()
		}
		return float64(latFixed) / float64(c.scale), float64(lonFixed) / float64(c.scale)
	}
}

// Sync flushes pending writes to disk.
func (c *Cache) Sync() error {
	return c.data.Flush()
}

// Close unmaps and closes the underlying file.
func (c *Cache) Close() error {
	if c.data != nil {
		if err := c.data.Unmap(); err != nil {
			c.file.Close()
			return err
		}
	}
	return c.file.Close()
}

// IsAppend reports whether this cache was opened in append mode.
func (c *Cache) IsAppend() bool {
	return c.append
}
