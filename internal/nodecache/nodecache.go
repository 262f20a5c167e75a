// Package nodecache implements the in-memory positional cache for node
// coordinates described in §4.1: a lossy, chunked store sized by a
// caller-supplied memory budget. The id space is partitioned into
// fixed-size blocks; a block is either dense (an array indexed by
// id mod blockSize) or, below an occupancy threshold, represented as a
// handful of entries in a sparse fallback map.
//
// The cache never returns a wrong coordinate: a miss is always
// reported as a miss, never as stale or foreign data. When the memory
// budget is exhausted, the least-recently-allocated block is evicted;
// evicted coordinates are simply gone and must be resolved downstream
// (flat-file cache or database).
package nodecache

const (
	// blockSize is the number of consecutive ids covered by one dense
	// block. A small power of two keeps the mod/div cheap and groups
	// typical PBF-file id locality well.
	blockSize = 1 << 13

	// sparseThreshold is the maximum number of occupied slots a block
	// may have before it is considered "dense enough" to deserve a full
	// array allocation; below it, entries live in the block's sparse
	// fallback instead of paying for blockSize*16 bytes up front.
	sparseThreshold = blockSize / 4

	bytesPerDenseBlock = blockSize * 16 // two float64s per slot
)

type coord struct {
	lat, lon float64
	set      bool
}

// block holds either a dense coordinate array or a sparse map, never
// both populated at once in steady state (a block is promoted from
// sparse to dense once it crosses sparseThreshold live entries).
type block struct {
	id     int64 // block index: firstID / blockSize
	dense  []coord
	sparse map[int64]coord
	// lruTick records when this block was allocated; the cache evicts
	// the block with the smallest lruTick when over budget.
	lruTick uint64
}

func newBlock(id int64) *block {
	return &block{id: id, sparse: make(map[int64]coord)}
}

func (b *block) size() int {
	if b.dense != nil {
		return bytesPerDenseBlock
	}
	return len(b.sparse) * 24 // id + two float64s, roughly
}

func (b *block) get(id int64) (lat, lon float64, ok bool) {
	if b.dense != nil {
		c := b.dense[id%blockSize]
		return c.lat, c.lon, c.set
	}
	c, ok := b.sparse[id]
	return c.lat, c.lon, ok
}

func (b *block) set(id int64, lat, lon float64) {
	if b.dense != nil {
		b.dense[id%blockSize] = coord{lat: lat, lon: lon, set: true}
		return
	}
	b.sparse[id] = coord{lat: lat, lon: lon, set: true}
	if len(b.sparse) > sparseThreshold {
		b.promote()
	}
}

// promote converts a sparse block to a dense array once its occupancy
// makes the flat array cheaper per live entry than the map overhead.
func (b *block) promote() {
	dense := make([]coord, blockSize)
	for id, c := range b.sparse {
		dense[id%blockSize] = c
	}
	b.dense = dense
	b.sparse = nil
}

// Cache is the RAM node cache. Lossy mode is always active: a Cache
// sized with budgetMB == 0 behaves as an unbounded cache (useful for
// tests and small imports); any positive budget enables eviction.
type Cache struct {
	budgetBytes int64
	usedBytes   int64
	blocks      map[int64]*block
	tick        uint64

	hits, misses, evictions int64
}

// New returns a Cache with the given memory budget in MiB. A budget of
// 0 disables eviction (the cache grows without bound).
func New(budgetMB int) *Cache {
	return &Cache{
		budgetBytes: int64(budgetMB) * 1024 * 1024,
		blocks:      make(map[int64]*block),
	}
}

func blockIndex(id int64) int64 {
	if id >= 0 {
		return id / blockSize
	}
	// floor division for negative ids, kept simple since OSM ids are
	// effectively always non-negative in practice but the cache must
	// not misbehave if one ever isn't.
	return (id - blockSize + 1) / blockSize
}

// Set stores coordinates for id. Tags are accepted to match the
// call-site shape used by node_set but are otherwise ignored by this
// cache (per §4.1).
func (c *Cache) Set(id int64, lat, lon float64, _ map[string]string) {
	c.tick++
	idx := blockIndex(id)
	b, ok := c.blocks[idx]
	if !ok {
		b = newBlock(idx)
		b.lruTick = c.tick
		c.blocks[idx] = b
	} else {
		c.usedBytes -= int64(b.size())
	}
	b.set(id, lat, lon)
	c.usedBytes += int64(b.size())

	c.evictIfOverBudget(idx)
}

// Get returns the coordinates stored for id, or ok == false on a miss
// (never-set id, or a block that was evicted under memory pressure).
func (c *Cache) Get(id int64) (lat, lon float64, ok bool) {
	idx := blockIndex(id)
	b, exists := c.blocks[idx]
	if !exists {
		c.misses++
		return 0, 0, false
	}
	lat, lon, ok = b.get(id)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return lat, lon, ok
}

// evictIfOverBudget drops the least-recently-allocated block other than
// justTouched until usedBytes fits the budget, or only one block
// remains.
func (c *Cache) evictIfOverBudget(justTouched int64) {
	if c.budgetBytes <= 0 {
		return
	}
	for c.usedBytes > c.budgetBytes && len(c.blocks) > 1 {
		var oldestIdx int64
		var oldest *block
		for idx, b := range c.blocks {
			if idx == justTouched {
				continue
			}
			if oldest == nil || b.lruTick < oldest.lruTick {
				oldest = b
				oldestIdx = idx
			}
		}
		if oldest == nil {
			return
		}
		c.usedBytes -= int64(oldest.size())
		delete(c.blocks, oldestIdx)
		c.evictions++
	}
}

// Stats reports cache hit/miss/eviction counters, useful for progress
// logging during a large import.
type Stats struct {
	Hits, Misses, Evictions int64
	Blocks                  int
	UsedBytes               int64
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Blocks:    len(c.blocks),
		UsedBytes: c.usedBytes,
	}
}
