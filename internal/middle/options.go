package middle

// Options configures a Backend/Store for one run, matching the option
// set enumerated in §6.
type Options struct {
	// ConnInfo is a raw libpq-style connection string. If empty, the
	// caller is expected to have built one from *config.Config and
	// passed it in anyway; the middle package does not import
	// internal/config to avoid a dependency cycle with the CLI layer.
	ConnInfo string

	// Prefix is the table-name prefix substituted for %p in SQL
	// templates (e.g. "planet_osm" yields planet_osm_nodes).
	Prefix string

	// TablespaceData and TablespaceIndex are optional tablespace names
	// substituted for %t and %i.
	TablespaceData  string
	TablespaceIndex string

	// Unlogged marks freshly created tables UNLOGGED (%m).
	Unlogged bool

	// Append selects diff-update mode: tables are not dropped/recreated,
	// and the id-width/append compatibility probe runs.
	Append bool

	// DropTemp, if set, drops the tables at Stop() instead of building
	// the array indexes.
	DropTemp bool

	// CacheMB sizes the RAM node cache (§4.1). 0 disables the RAM cache.
	CacheMB int

	// Scale is the fixed-point divisor used for node coordinates
	// (power of ten, default 10^7).
	Scale int64

	// FlatNodeCacheEnabled selects the on-disk flat-file coordinate
	// cache (§4.2) in place of per-node table storage/lookup.
	FlatNodeCacheEnabled bool
	// FlatNodeFile is the path to the flat-file cache.
	FlatNodeFile string
}

func (o Options) scaleOrDefault() int64 {
	if o.Scale <= 0 {
		return DefaultScale
	}
	return o.Scale
}
