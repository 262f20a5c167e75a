package middle

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/go-osm/middle/internal/config"
	"github.com/go-osm/middle/internal/flatcache"
	"github.com/go-osm/middle/internal/idtracker"
	"github.com/go-osm/middle/internal/logger"
	"github.com/go-osm/middle/internal/nodecache"
	"github.com/go-osm/middle/internal/pgarray"
	"github.com/go-osm/middle/internal/sqltemplate"
)

// middlePrefix names the table family this store owns: %p_nodes,
// %p_ways, %p_rels. A configurable prefix belongs to Options/the
// future multi-schema CLI surface; the pipeline's single-database
// deployment has always used this name and changing it would break
// existing append-mode databases, so it stays a constant here.
const middlePrefix = "planet_osm"

// MiddleStore manages the "middle tables" that store raw OSM data:
// node coordinates/tags, way node lists/tags, and relation member
// lists/tags, plus the dependency indexes diff updates need to find
// what a changed node/way/relation touches. Tags, way node lists and
// relation parts are stored as Postgres array literals (§3) rather
// than JSONB, so they can be indexed with GIN and searched with the
// native array && overlap operator instead of a JSONB containment scan.
type MiddleStore struct {
	cfg  *config.Config
	pool *pgxpool.Pool
	log  *zap.Logger

	opts  Options
	nodes tableSQL
	ways  tableSQL
	rels  tableSQL

	ram  *nodecache.Cache
	flat *flatcache.Cache

	// nodesBackend/waysBackend/relsBackend are the dedicated per-table
	// connections §4.4 requires, opened by connectBackends once the
	// tables exist. nil until then (and after Stop releases them), in
	// which case the prepared* helpers fall back to ad hoc queries
	// against the shared pool.
	nodesBackend *tableBackend
	waysBackend  *tableBackend
	relsBackend  *tableBackend

	wayTracker *idtracker.Tracker
	relTracker *idtracker.Tracker

	// Statistics
	NodesInserted     atomic.Int64
	WaysInserted      atomic.Int64
	RelationsInserted atomic.Int64
}

// NewMiddleStore creates a new middle table store. The RAM node cache
// and, if cfg.FlatNodesFile is set, the on-disk flat node cache (§4.1,
// §4.2) are opened lazily the first time EnsureTables runs, since only
// then do we know whether this is a fresh import or an append run.
func NewMiddleStore(cfg *config.Config, pool *pgxpool.Pool) *MiddleStore {
	opts := Options{
		Prefix:               middlePrefix,
		TablespaceData:       cfg.TablespaceMain,
		TablespaceIndex:      cfg.TablespaceIndex,
		Unlogged:             true,
		Append:               cfg.AppendMode,
		DropTemp:             cfg.DropMiddle,
		CacheMB:              cfg.MemoryMB,
		Scale:                cfg.Scale,
		FlatNodeCacheEnabled: cfg.FlatNodesFile != "",
		FlatNodeFile:         cfg.FlatNodesFile,
	}
	vars := sqltemplate.Vars{
		Prefix:          opts.Prefix,
		TableTablespace: opts.TablespaceData,
		IndexTablespace: opts.TablespaceIndex,
		Unlogged:        opts.Unlogged,
	}
	return &MiddleStore{
		cfg:        cfg,
		pool:       pool,
		log:        logger.Get(),
		opts:       opts,
		nodes:      nodesTableSQL("double precision").expand(vars),
		ways:       waysTableSQL().expand(vars),
		rels:       relsTableSQL().expand(vars),
		wayTracker: idtracker.New(),
		relTracker: idtracker.New(),
	}
}

// EnsureTables creates the middle tables if they don't exist (or drops
// and recreates them when dropExisting is set) and opens the node
// coordinate caches.
//
// Unlike the original program, this does not CREATE EXTENSION intarray:
// the && overlap operator used throughout (GetWaysForNode,
// GetRelationsForMember, the GIN indexes in CreateIndexes) is native
// Postgres array support (the built-in array_ops GIN opclass handles
// any array type, bigint[] included) — nothing here needs intarray's
// int4[]-specific opclasses. The original's startup check actually
// warns and aborts if intarray IS installed, because on the Postgres
// versions it targeted intarray's gist__intbig_ops opclass could get
// picked over the plain array GIN index and stall diff updates. That
// failure mode doesn't apply to a GIN index with the default opclass,
// so there's nothing to probe for here.
func (m *MiddleStore) EnsureTables(ctx context.Context, dropExisting bool) error {
	if m.opts.Append && !dropExisting {
		if err := m.checkIDWidth(ctx); err != nil {
			return err
		}
	}

	for _, t := range []tableSQL{m.nodes, m.ways, m.rels} {
		if dropExisting {
			m.log.Info("Dropping middle table", zap.String("table", t.name))
			if _, err := m.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", t.name)); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", t.name, err)
			}
		}
		m.log.Info("Creating middle table", zap.String("table", t.name))
		create := t.create
		if !dropExisting {
			create = strings.Replace(create, " TABLE ", " TABLE IF NOT EXISTS ", 1)
		}
		if _, err := m.pool.Exec(ctx, create); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
	}

	if err := m.openCaches(); err != nil {
		return err
	}
	if err := m.connectBackends(ctx); err != nil {
		return err
	}
	return nil
}

// checkIDWidth guards the original's "can't append with mismatched
// osmid_t width" check (middle_pgsql_t::start comparing PQfsize against
// sizeof(osmid_t)). This package only ever declares id columns as
// bigint, so the real failure mode today is an existing database built
// by something that used a narrower int4 id column; catch that before
// a 32-bit id silently wraps during an append run.
func (m *MiddleStore) checkIDWidth(ctx context.Context) error {
	var udtName string
	err := m.pool.QueryRow(ctx, `
		SELECT udt_name FROM information_schema.columns
		WHERE table_name = $1 AND column_name = 'id'
	`, tableBaseName(m.nodes.name)).Scan(&udtName)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check id column width: %w", err)
	}
	if udtName != "int8" {
		return fmt.Errorf("middle: table %s has a %q id column, but this program requires bigint (int8); "+
			"re-create the database or use a matching version", m.nodes.name, udtName)
	}
	return nil
}

// tableBaseName strips a leading schema-qualifying prefix like "public."
// from a fully expanded table name, since information_schema.columns is
// queried by bare table_name.
func tableBaseName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (m *MiddleStore) openCaches() error {
	if m.opts.CacheMB > 0 && m.ram == nil {
		m.ram = nodecache.New(m.opts.CacheMB)
	}
	if m.opts.FlatNodeCacheEnabled && m.flat == nil {
		var (
			flat *flatcache.Cache
			err  error
		)
		if m.opts.Append {
			flat, err = flatcache.Open(m.opts.FlatNodeFile, flatcache.ModeFixedPoint, m.opts.scaleOrDefault())
		} else {
			flat, err = flatcache.New(m.opts.FlatNodeFile, flatcache.ModeFixedPoint, m.opts.scaleOrDefault())
		}
		if err != nil {
			return fmt.Errorf("open flat node cache: %w", err)
		}
		m.flat = flat
	}
	return nil
}

// LoadNodes bulk inserts nodes from a channel into %p_nodes, writing
// through to the RAM/flat node caches when enabled. Rows are streamed
// as hand-built COPY TEXT lines (see copyText) so the array-literal
// tag encoding goes out exactly as pgarray composed it, rather than
// through pgx's binary array codec.
func (m *MiddleStore) LoadNodes(ctx context.Context, nodes <-chan RawNode) (int64, error) {
	m.log.Info("Starting middle table node load")

	conn, release, err := m.tableConn(ctx, m.nodesBackend, m.nodes)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()
	if m.nodesBackend != nil {
		m.nodesBackend.copyMode = true
		defer m.nodesBackend.endCopy()
	}

	scale := m.opts.scaleOrDefault()
	count, err := copyText(ctx, conn.Conn().PgConn(), m.nodes.name, m.nodes.copyColumns, func(w *bufio.Writer) error {
		for node := range nodes {
			lat := UnscaleCoordWithScale(node.Lat, scale)
			lon := UnscaleCoordWithScale(node.Lon, scale)
			if m.ram != nil {
				m.ram.Set(node.ID, lat, lon, node.Tags)
			}
			if m.flat != nil {
				if err := m.flat.Set(node.ID, lat, lon); err != nil {
					m.log.Warn("flat node cache set failed", zap.Int64("id", node.ID), zap.Error(err))
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				formatCopyInt(node.ID), formatCopyFloat(lat), formatCopyFloat(lon), pgarray.EncodeTagsCopy(node.Tags))
			m.NodesInserted.Add(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("COPY to %s failed: %w", m.nodes.name, err)
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("ALTER TABLE %s SET LOGGED", m.nodes.name)); err != nil {
		// Only meaningful when Unlogged was set; harmless otherwise.
	}

	m.log.Info("Middle table node load complete", zap.Int64("rows", count))
	return count, nil
}

// LoadWays bulk inserts ways from a channel into %p_ways.
func (m *MiddleStore) LoadWays(ctx context.Context, ways <-chan RawWay) (int64, error) {
	m.log.Info("Starting middle table way load")

	conn, release, err := m.tableConn(ctx, m.waysBackend, m.ways)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()
	if m.waysBackend != nil {
		m.waysBackend.copyMode = true
		defer m.waysBackend.endCopy()
	}

	count, err := copyText(ctx, conn.Conn().PgConn(), m.ways.name, m.ways.copyColumns, func(w *bufio.Writer) error {
		for way := range ways {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				formatCopyInt(way.ID), pgarray.EncodeIDs(way.Nodes), pgarray.EncodeTagsCopy(way.Tags))
			m.WaysInserted.Add(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("COPY to %s failed: %w", m.ways.name, err)
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("ALTER TABLE %s SET LOGGED", m.ways.name)); err != nil {
	}

	m.log.Info("Middle table way load complete", zap.Int64("rows", count))
	return count, nil
}

// LoadRelations bulk inserts relations from a channel into %p_rels,
// recomputing parts/way_off/rel_off from each relation's members.
func (m *MiddleStore) LoadRelations(ctx context.Context, relations <-chan RawRelation) (int64, error) {
	m.log.Info("Starting middle table relation load")

	conn, release, err := m.tableConn(ctx, m.relsBackend, m.rels)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()
	if m.relsBackend != nil {
		m.relsBackend.copyMode = true
		defer m.relsBackend.endCopy()
	}

	count, err := copyText(ctx, conn.Conn().PgConn(), m.rels.name, m.rels.copyColumns, func(w *bufio.Writer) error {
		for rel := range relations {
			parts, wayOff, relOff := partitionMembers(rel.Members)
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
				formatCopyInt(rel.ID), wayOff, relOff,
				pgarray.EncodeIDs(parts),
				pgarray.EncodeTagsCopy(serializeMembers(rel.Members)),
				pgarray.EncodeTagsCopy(rel.Tags))
			m.RelationsInserted.Add(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("COPY to %s failed: %w", m.rels.name, err)
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("ALTER TABLE %s SET LOGGED", m.rels.name)); err != nil {
	}

	m.log.Info("Middle table relation load complete", zap.Int64("rows", count))
	return count, nil
}

// CreateIndexes creates the GIN array indexes dependency lookups run
// against, and ANALYZEs all three tables. Built after the initial bulk
// load rather than up front, matching the original's deferred-index
// strategy for COPY-speed imports.
func (m *MiddleStore) CreateIndexes(ctx context.Context) error {
	m.log.Info("Creating middle table indexes")

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SET maintenance_work_mem = '2GB'"); err != nil {
		// Ignore: a restricted role may not be allowed to set this.
	}

	for _, t := range []tableSQL{m.ways, m.rels} {
		if t.arrayIndex == "" {
			continue
		}
		m.log.Info("Creating index", zap.String("table", t.name))
		if _, err := conn.Exec(ctx, t.arrayIndex); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", t.name, err)
		}
	}

	for _, t := range []tableSQL{m.nodes, m.ways, m.rels} {
		if _, err := conn.Exec(ctx, t.analyze); err != nil {
			return fmt.Errorf("failed to analyze %s: %w", t.name, err)
		}
	}

	m.log.Info("Middle table indexes created")
	return nil
}

// GetNode retrieves a node by ID, consulting the RAM/flat caches
// before falling back to the get_node prepared statement.
func (m *MiddleStore) GetNode(ctx context.Context, id int64) (*RawNode, error) {
	scale := m.opts.scaleOrDefault()
	if m.ram != nil {
		if lat, lon, ok := m.ram.Get(id); ok {
			return &RawNode{ID: id, Lat: ScaleCoordWithScale(lat, scale), Lon: ScaleCoordWithScale(lon, scale)}, nil
		}
	}
	if m.flat != nil {
		if lat, lon, ok := m.flat.Get(id); ok {
			return &RawNode{ID: id, Lat: ScaleCoordWithScale(lat, scale), Lon: ScaleCoordWithScale(lon, scale)}, nil
		}
	}

	node := RawNode{ID: id}
	var lat, lon float64
	var tagsRaw string

	err := m.preparedQueryRow(ctx, m.nodesBackend, "get_node",
		fmt.Sprintf("SELECT lat, lon, tags FROM %s WHERE id = $1", m.nodes.name), id).
		Scan(&lat, &lon, &tagsRaw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	node.Lat = ScaleCoordWithScale(lat, scale)
	node.Lon = ScaleCoordWithScale(lon, scale)
	node.Tags = pgarray.ParseTags(tagsRaw)
	return &node, nil
}

// GetWay retrieves a way by ID via get_way, then resolves its member
// node coordinates through NodeGetList — the original's ways_get
// fetches tags/nodes, then hands the node-id list to nodes_get_list so
// the caller gets real coordinates, not just ids (§4.5 "way_get(id) →
// (tags, coords[])").
func (m *MiddleStore) GetWay(ctx context.Context, id int64) (*RawWay, error) {
	way := RawWay{ID: id}
	var nodesRaw, tagsRaw string

	err := m.preparedQueryRow(ctx, m.waysBackend, "get_way",
		fmt.Sprintf("SELECT nodes, tags FROM %s WHERE id = $1", m.ways.name), id).
		Scan(&nodesRaw, &tagsRaw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	way.Nodes = pgarray.ParseIDs(nodesRaw)
	way.Tags = pgarray.ParseTags(tagsRaw)

	if len(way.Nodes) > 0 {
		resolved, err := m.NodeGetList(ctx, way.Nodes)
		if err != nil {
			return nil, fmt.Errorf("resolve coordinates for way %d: %w", id, err)
		}
		way.Coords = make([]NodeCoord, len(resolved))
		for i, n := range resolved {
			way.Coords[i] = NodeCoord{Lat: n.Lat, Lon: n.Lon}
		}
	}
	return &way, nil
}

// NodeGetList resolves coordinates for a batch of node ids (§4.5
// node_get_list): RAM/flat cache hits first, then a single get_node_list
// query for the rest. Results are merged back into input order and
// compacted — ids that don't resolve anywhere (node no longer exists)
// are elided from the returned slice, matching ways_get_list/
// local_nodes_get_list's "holes get compacted out" behavior in the
// original.
func (m *MiddleStore) NodeGetList(ctx context.Context, ids []int64) ([]RawNode, error) {
	scale := m.opts.scaleOrDefault()
	out := make([]RawNode, len(ids))
	hit := make([]bool, len(ids))
	var missing []int64

	for i, id := range ids {
		if m.ram != nil {
			if lat, lon, ok := m.ram.Get(id); ok {
				out[i] = RawNode{ID: id, Lat: ScaleCoordWithScale(lat, scale), Lon: ScaleCoordWithScale(lon, scale)}
				hit[i] = true
				continue
			}
		}
		if m.flat != nil {
			if lat, lon, ok := m.flat.Get(id); ok {
				out[i] = RawNode{ID: id, Lat: ScaleCoordWithScale(lat, scale), Lon: ScaleCoordWithScale(lon, scale)}
				hit[i] = true
				continue
			}
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		rows, err := m.preparedQuery(ctx, m.nodesBackend, "get_node_list",
			fmt.Sprintf("SELECT id, lat, lon FROM %s WHERE id = ANY($1::bigint[])", m.nodes.name),
			pgarray.EncodeIDs(missing))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		dbNodes := make(map[int64]RawNode)
		for rows.Next() {
			var id int64
			var lat, lon float64
			if err := rows.Scan(&id, &lat, &lon); err != nil {
				return nil, err
			}
			dbNodes[id] = RawNode{ID: id, Lat: ScaleCoordWithScale(lat, scale), Lon: ScaleCoordWithScale(lon, scale)}
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		for i, id := range ids {
			if hit[i] {
				continue
			}
			if n, ok := dbNodes[id]; ok {
				out[i] = n
				hit[i] = true
			}
		}
	}

	compacted := make([]RawNode, 0, len(ids))
	for i, ok := range hit {
		if ok {
			compacted = append(compacted, out[i])
		}
	}
	return compacted, nil
}

// WayGetList batch-looks-up ways via get_way_list, rematching rows
// (returned in arbitrary order) back to the caller's id order (§4.5
// "way_get_list", grounded on ways_get_list in the original). Ids that
// don't exist are simply absent from the result, not elided with a
// placeholder.
func (m *MiddleStore) WayGetList(ctx context.Context, ids []int64) ([]RawWay, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := m.preparedQuery(ctx, m.waysBackend, "get_way_list",
		fmt.Sprintf("SELECT id, nodes, tags FROM %s WHERE id = ANY($1::bigint[])", m.ways.name),
		pgarray.EncodeIDs(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dbWays := make(map[int64]RawWay, len(ids))
	for rows.Next() {
		var id int64
		var nodesRaw, tagsRaw string
		if err := rows.Scan(&id, &nodesRaw, &tagsRaw); err != nil {
			return nil, err
		}
		dbWays[id] = RawWay{ID: id, Nodes: pgarray.ParseIDs(nodesRaw), Tags: pgarray.ParseTags(tagsRaw)}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]RawWay, 0, len(ids))
	for _, id := range ids {
		if w, ok := dbWays[id]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

// GetWaysForNode finds all ways that contain a given node ID, via the
// mark_ways_by_node prepared statement (GIN-indexed && overlap against
// nodes).
func (m *MiddleStore) GetWaysForNode(ctx context.Context, nodeID int64) ([]int64, error) {
	rows, err := m.preparedQuery(ctx, m.waysBackend, "mark_ways_by_node",
		fmt.Sprintf("SELECT id FROM %s WHERE nodes && ARRAY[$1::bigint]", m.ways.name),
		nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wayIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		wayIDs = append(wayIDs, id)
	}

	return wayIDs, rows.Err()
}

// GetRelationsForMember finds all relations that have memberRef as a
// member of the given type ("n", "w" or "r"), via the matching
// mark_rels_by_node / rels_using_way / mark_rels prepared statement —
// each restricts the GIN search to the matching slice of parts
// (node/way/relation) so a shared id that happens to collide across
// member types isn't mistaken for a match.
func (m *MiddleStore) GetRelationsForMember(ctx context.Context, memberType string, memberRef int64) ([]int64, error) {
	var stmt, slice string
	switch memberType {
	case "n":
		stmt, slice = "mark_rels_by_node", "parts[1:way_off]"
	case "w":
		stmt, slice = "rels_using_way", "parts[way_off+1:rel_off]"
	case "r":
		stmt, slice = "mark_rels", "parts[rel_off+1:array_length(parts,1)]"
	default:
		return nil, fmt.Errorf("middle: unknown member type %q", memberType)
	}

	rows, err := m.preparedQuery(ctx, m.relsBackend, stmt,
		fmt.Sprintf("SELECT id FROM %s WHERE parts && ARRAY[$1::bigint] AND %s && ARRAY[$1::bigint]", m.rels.name, slice),
		memberRef,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		relIDs = append(relIDs, id)
	}

	return relIDs, rows.Err()
}

// GetRelation retrieves a relation by ID via get_rel, reconstructing
// its ordered member list from parts/way_off/rel_off.
func (m *MiddleStore) GetRelation(ctx context.Context, id int64) (*RawRelation, error) {
	rel := RawRelation{ID: id}
	var partsRaw, membersRaw, tagsRaw string

	err := m.preparedQueryRow(ctx, m.relsBackend, "get_rel",
		fmt.Sprintf("SELECT parts, way_off, rel_off, members, tags FROM %s WHERE id = $1", m.rels.name), id,
	).Scan(&partsRaw, &rel.WayOff, &rel.RelOff, &membersRaw, &tagsRaw)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rel.Parts = pgarray.ParseIDs(partsRaw)
	rel.Members = deserializeMembers(pgarray.ParseTags(membersRaw), rel.Parts, rel.WayOff, rel.RelOff)
	rel.Tags = pgarray.ParseTags(tagsRaw)
	return &rel, nil
}

// UpdateNode updates or inserts a node, writing through to the RAM/flat
// caches so a subsequent GetNode in the same run doesn't round-trip.
func (m *MiddleStore) UpdateNode(ctx context.Context, node *RawNode) error {
	scale := m.opts.scaleOrDefault()
	lat := UnscaleCoordWithScale(node.Lat, scale)
	lon := UnscaleCoordWithScale(node.Lon, scale)

	if m.ram != nil {
		m.ram.Set(node.ID, lat, lon, node.Tags)
	}
	if m.flat != nil {
		if err := m.flat.Set(node.ID, lat, lon); err != nil {
			return fmt.Errorf("flat cache set node %d: %w", node.ID, err)
		}
	}

	_, err := m.pool.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s (id, lat, lon, tags)
			VALUES ($1, $2, $3, $4::text[])
			ON CONFLICT (id) DO UPDATE SET lat = $2, lon = $3, tags = $4::text[]
		`, m.nodes.name),
		node.ID, lat, lon, pgarray.EncodeTags(node.Tags),
	)
	return err
}

// UpdateWay updates or inserts a way.
func (m *MiddleStore) UpdateWay(ctx context.Context, way *RawWay) error {
	_, err := m.pool.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s (id, nodes, tags)
			VALUES ($1, $2::bigint[], $3::text[])
			ON CONFLICT (id) DO UPDATE SET nodes = $2::bigint[], tags = $3::text[]
		`, m.ways.name),
		way.ID, pgarray.EncodeIDs(way.Nodes), pgarray.EncodeTags(way.Tags),
	)
	return err
}

// UpdateRelation updates or inserts a relation, recomputing
// parts/way_off/rel_off from Members.
func (m *MiddleStore) UpdateRelation(ctx context.Context, rel *RawRelation) error {
	parts, wayOff, relOff := partitionMembers(rel.Members)
	_, err := m.pool.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s (id, way_off, rel_off, parts, members, tags)
			VALUES ($1, $2, $3, $4::bigint[], $5::text[], $6::text[])
			ON CONFLICT (id) DO UPDATE SET
				way_off = $2, rel_off = $3, parts = $4::bigint[], members = $5::text[], tags = $6::text[]
		`, m.rels.name),
		rel.ID, wayOff, relOff, pgarray.EncodeIDs(parts), pgarray.EncodeTags(serializeMembers(rel.Members)), pgarray.EncodeTags(rel.Tags),
	)
	return err
}

// DeleteNode removes a node from the middle tables and the flat node
// cache (writing the NaN/MinInt32 delete sentinel). The RAM cache is
// left alone: until the id's block is evicted or the id is set again,
// GetNode and NodeGetList can still return the deleted node's last
// coordinates from it.
func (m *MiddleStore) DeleteNode(ctx context.Context, id int64) error {
	if m.flat != nil {
		if err := m.flat.Delete(id); err != nil {
			return fmt.Errorf("flat cache delete node %d: %w", id, err)
		}
	}
	return m.preparedExec(ctx, m.nodesBackend, "delete_node",
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", m.nodes.name), id)
}

// DeleteWay removes a way from middle tables via delete_way.
func (m *MiddleStore) DeleteWay(ctx context.Context, id int64) error {
	return m.preparedExec(ctx, m.waysBackend, "delete_way",
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", m.ways.name), id)
}

// DeleteRelation removes a relation from middle tables. Before the row
// is gone, it runs the mark_ways_by_rel lookup (§4.5) to find every way
// this relation referenced and marks each one in the way tracker, so a
// subsequent IterateWays pass re-renders them without whatever
// relation-derived styling this relation used to contribute — matching
// the original's relations_delete, which issues mark_ways_by_rel before
// delete_rel and marks every returned id into ways_pending_tracker.
func (m *MiddleStore) DeleteRelation(ctx context.Context, id int64) error {
	wayIDs, err := m.waysByRelation(ctx, id)
	if err != nil {
		return fmt.Errorf("mark ways by relation %d: %w", id, err)
	}

	err = m.preparedExec(ctx, m.relsBackend, "delete_rel",
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", m.rels.name), id)
	if err != nil {
		return err
	}

	for _, wayID := range wayIDs {
		m.wayTracker.Mark(wayID)
	}
	return nil
}

// waysByRelation runs the mark_ways_by_rel prepared statement: every
// way id found among this relation's way-slice of parts.
func (m *MiddleStore) waysByRelation(ctx context.Context, relID int64) ([]int64, error) {
	rows, err := m.preparedQuery(ctx, m.waysBackend, "mark_ways_by_rel",
		fmt.Sprintf("SELECT id FROM %s WHERE id IN (SELECT unnest(parts[way_off+1:rel_off]) FROM %s WHERE id = $1)",
			m.ways.name, m.rels.name),
		relID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DropTables drops all middle tables.
func (m *MiddleStore) DropTables(ctx context.Context) error {
	m.log.Info("Dropping middle tables")

	for _, t := range []tableSQL{m.nodes, m.ways, m.rels} {
		if _, err := m.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", t.name)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", t.name, err)
		}
	}

	return nil
}

// WayChanged marks every relation that references wayID as dirty in
// the relation tracker, via GetRelationsForMember("w", wayID).
func (m *MiddleStore) WayChanged(ctx context.Context, wayID int64) error {
	relIDs, err := m.GetRelationsForMember(ctx, "w", wayID)
	if err != nil {
		return err
	}
	for _, id := range relIDs {
		m.relTracker.Mark(id)
	}
	return nil
}

// NodeChanged marks every way and relation that references nodeID as
// dirty in their respective trackers.
func (m *MiddleStore) NodeChanged(ctx context.Context, nodeID int64) error {
	wayIDs, err := m.GetWaysForNode(ctx, nodeID)
	if err != nil {
		return err
	}
	for _, id := range wayIDs {
		m.wayTracker.Mark(id)
	}
	relIDs, err := m.GetRelationsForMember(ctx, "n", nodeID)
	if err != nil {
		return err
	}
	for _, id := range relIDs {
		m.relTracker.Mark(id)
	}
	return nil
}

// RelationChanged marks every relation that contains relID as a
// relation-member as dirty.
func (m *MiddleStore) RelationChanged(ctx context.Context, relID int64) error {
	relIDs, err := m.GetRelationsForMember(ctx, "r", relID)
	if err != nil {
		return err
	}
	for _, id := range relIDs {
		m.relTracker.Mark(id)
	}
	return nil
}

// PendingWays returns the way-id dirty tracker diff updates drain after
// propagating changes.
func (m *MiddleStore) PendingWays() *idtracker.Tracker { return m.wayTracker }

// PendingRelations returns the relation-id dirty tracker.
func (m *MiddleStore) PendingRelations() *idtracker.Tracker { return m.relTracker }

// RelationsUsingWay finds every relation that has wayID as a way
// member (§4.5 "relations_using_way(way_id) → ids[]"), via the
// rels_using_way prepared statement.
func (m *MiddleStore) RelationsUsingWay(ctx context.Context, wayID int64) ([]int64, error) {
	return m.GetRelationsForMember(ctx, "w", wayID)
}

// WayCallback is the output-sink signature iterate_ways invokes per
// pending way (§4.6/§6): id, tags, the ordered node-id list, and
// exists — true in append mode, where the way still needs re-emitting
// even though nothing about the callback's own data changed except
// what it derives from a dependency.
type WayCallback func(id int64, tags map[string]string, nodes []int64, exists bool) error

// RelationCallback is the symmetric callback for iterate_relations.
type RelationCallback func(id int64, members []RelationMember, tags map[string]string, exists bool) error

// IterateWays flushes the ways/nodes copy streams, then drains the way
// tracker in ascending id order, fetching each way via GetWay (which
// resolves coordinates) and invoking cb. A way that no longer exists
// (deleted after being marked, e.g. by a later delete in the same
// batch) is silently skipped rather than passed to cb with a nil way.
// Progress is logged every 1000 ids, matching §4.5.
func (m *MiddleStore) IterateWays(ctx context.Context, cb WayCallback) error {
	m.waysBackend.endCopy()
	m.nodesBackend.endCopy()

	processed := 0
	for {
		id := m.wayTracker.Pop()
		if id == idtracker.Sentinel {
			break
		}
		way, err := m.GetWay(ctx, id)
		if err != nil {
			return fmt.Errorf("iterate_ways: get_way %d: %w", id, err)
		}
		if way == nil {
			continue
		}
		if err := cb(way.ID, way.Tags, way.Nodes, m.opts.Append); err != nil {
			return fmt.Errorf("iterate_ways: callback for way %d: %w", id, err)
		}
		processed++
		if processed%1000 == 0 {
			m.log.Info("iterate_ways progress", zap.Int("processed", processed))
		}
	}
	m.log.Info("iterate_ways complete", zap.Int("processed", processed))
	return nil
}

// IterateRelations is the relation-tracker counterpart of IterateWays,
// reporting progress every 10 ids per §4.5 (relations are far less
// numerous than ways per import, so a finer-grained cadence still
// prints at a sane rate).
func (m *MiddleStore) IterateRelations(ctx context.Context, cb RelationCallback) error {
	m.relsBackend.endCopy()

	processed := 0
	for {
		id := m.relTracker.Pop()
		if id == idtracker.Sentinel {
			break
		}
		rel, err := m.GetRelation(ctx, id)
		if err != nil {
			return fmt.Errorf("iterate_relations: get_rel %d: %w", id, err)
		}
		if rel == nil {
			continue
		}
		if err := cb(rel.ID, rel.Members, rel.Tags, m.opts.Append); err != nil {
			return fmt.Errorf("iterate_relations: callback for relation %d: %w", id, err)
		}
		processed++
		if processed%10 == 0 {
			m.log.Info("iterate_relations progress", zap.Int("processed", processed))
		}
	}
	m.log.Info("iterate_relations complete", zap.Int("processed", processed))
	return nil
}

// Commit flushes copy mode on every table connection, then commits and
// reopens each one's transaction (§4.5 "commit()"). Safe to call
// repeatedly across a diff run's batches.
func (m *MiddleStore) Commit(ctx context.Context) error {
	for _, b := range []*tableBackend{m.nodesBackend, m.waysBackend, m.relsBackend} {
		if b == nil {
			continue
		}
		b.endCopy()
		if !b.txnMode {
			continue
		}
		if _, err := b.conn.Exec(ctx, "COMMIT"); err != nil {
			return fmt.Errorf("commit %s: %w", b.name, err)
		}
		if _, err := b.conn.Exec(ctx, "BEGIN"); err != nil {
			return fmt.Errorf("begin %s: %w", b.name, err)
		}
	}
	return nil
}

// Analyze issues the per-table ANALYZE (§4.5 "analyze()").
func (m *MiddleStore) Analyze(ctx context.Context) error {
	for _, t := range []tableSQL{m.nodes, m.ways, m.rels} {
		if _, err := m.pool.Exec(ctx, t.analyze); err != nil {
			return fmt.Errorf("analyze %s: %w", t.name, err)
		}
	}
	return nil
}

// Stop tears the store down (§4.5 "stop()"): drop the RAM/flat caches,
// then either drop the tables outright (when Options.DropTemp is set —
// a scratch run whose middle data has no further use) or build the
// array indexes for ways/rels, one worker per table via errgroup,
// mirroring the original's "parallel index build at stop" (§5). Before
// either, every table connection's transaction is committed, so the DDL
// does not wait on locks those connections hold; afterwards every table
// connection is released.
func (m *MiddleStore) Stop(ctx context.Context) error {
	if m.ram != nil {
		m.ram = nil
	}
	if m.flat != nil {
		if err := m.flat.Close(); err != nil {
			m.log.Warn("failed to close flat node cache", zap.Error(err))
		}
		m.flat = nil
	}

	if err := m.Commit(ctx); err != nil {
		m.releaseBackends()
		return err
	}

	if m.opts.DropTemp {
		m.log.Info("Dropping middle tables at stop (DropTemp)")
		if err := m.DropTables(ctx); err != nil {
			m.releaseBackends()
			return err
		}
		m.releaseBackends()
		return nil
	}

	pairs := []struct {
		t tableSQL
		b *tableBackend
	}{
		{m.ways, m.waysBackend},
		{m.rels, m.relsBackend},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			if p.b != nil {
				p.b.endCopy()
			}
			if p.t.arrayIndex == "" {
				return nil
			}
			m.log.Info("Creating index", zap.String("table", p.t.name))
			if _, err := m.pool.Exec(gctx, p.t.arrayIndex); err != nil {
				return fmt.Errorf("create index on %s: %w", p.t.name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.releaseBackends()
		return err
	}

	if err := m.Commit(ctx); err != nil {
		m.releaseBackends()
		return err
	}
	m.releaseBackends()
	return nil
}
