package middle

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tableBackend owns one dedicated connection for one middle table,
// mirroring table_desc's sql_conn/copyMode/transactionMode fields in
// the original. The three middle tables never share a connection: a
// connection streaming a COPY-in cannot serve any other statement, so
// node inserts, way lookups and relation deletes each need a
// connection free to act independently of what the others are doing
// (§4.4).
type tableBackend struct {
	name string
	conn *pgxpool.Conn

	// copyMode and txnMode track the two flags §4.4 requires per
	// connection: whether a bulk-copy stream is currently open, and
	// whether an explicit transaction is. Every read/prepared-write
	// operation must flush copyMode before using the connection.
	copyMode bool
	txnMode  bool
}

// connectTableBackend acquires a dedicated connection for one table,
// sets synchronous_commit off (§4.4/§6 — the importer trades a few
// lost commits on crash for throughput, since a restart-from-scratch
// is the only recovery path anyway), opens the per-table transaction,
// and registers the table's prepared-statement catalog by name.
func connectTableBackend(ctx context.Context, pool *pgxpool.Pool, t tableSQL) (*tableBackend, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for %s: %w", t.name, err)
	}
	if _, err := conn.Exec(ctx, "SET synchronous_commit TO off"); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set synchronous_commit off on %s connection: %w", t.name, err)
	}
	if _, err := conn.Exec(ctx, "BEGIN"); err != nil {
		conn.Release()
		return nil, fmt.Errorf("begin transaction on %s connection: %w", t.name, err)
	}
	for _, stmt := range t.prepare {
		if _, err := conn.Conn().Prepare(ctx, stmt.name, stmt.sql); err != nil {
			conn.Release()
			return nil, fmt.Errorf("prepare %s on %s connection: %w", stmt.name, t.name, err)
		}
	}
	return &tableBackend{name: t.name, conn: conn, txnMode: true}, nil
}

// endCopy flushes copy_mode. The actual end-of-copy marker and
// CommandComplete drain happen inside copyText's own Close sequence
// once the writer side finishes; by the time any other method on this
// backend runs, that has already completed, so clearing the flag here
// is the only bookkeeping left — matching pgsql_endCopy's role as a
// guard callers consult before issuing a non-COPY statement.
func (b *tableBackend) endCopy() {
	if b == nil {
		return
	}
	b.copyMode = false
}

func (b *tableBackend) release() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Release()
}

// connectBackends opens the three per-table connections — the backend
// half of §4.5's start(options). Called once EnsureTables has
// created/verified the tables, since preparing statements against a
// nonexistent table would fail.
func (m *MiddleStore) connectBackends(ctx context.Context) error {
	var err error
	if m.nodesBackend, err = connectTableBackend(ctx, m.pool, m.nodes); err != nil {
		return err
	}
	if m.waysBackend, err = connectTableBackend(ctx, m.pool, m.ways); err != nil {
		return err
	}
	if m.relsBackend, err = connectTableBackend(ctx, m.pool, m.rels); err != nil {
		return err
	}
	return nil
}

func (m *MiddleStore) releaseBackends() {
	m.nodesBackend.release()
	m.waysBackend.release()
	m.relsBackend.release()
	m.nodesBackend = nil
	m.waysBackend = nil
	m.relsBackend = nil
}

// tableConn returns the connection a COPY load into t should stream
// over: b's dedicated connection when one is open (the common case —
// the per-table backend, not a borrowed pool connection, is what
// carries copy_mode), or a freshly acquired pool connection otherwise,
// paired with the right release func for either case. Loading reuses
// the same dedicated connection the rest of this table's operations
// use, rather than a separate ad hoc one, so copy_mode tracked on b
// reflects reality.
func (m *MiddleStore) tableConn(ctx context.Context, b *tableBackend, t tableSQL) (*pgxpool.Conn, func(), error) {
	if b != nil {
		return b.conn, func() {}, nil
	}
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, conn.Release, nil
}

// preparedQueryRow runs a named prepared statement against b, flushing
// copy mode first, and requesting text-format results so array columns
// scan into plain Go strings. When b is nil (a backend connection was
// never opened, e.g. in package tests that exercise SQL text directly
// against a pool), it falls back to running sql literally against the
// shared pool — the same query the prepared statement would run, just
// unprepared.
func (m *MiddleStore) preparedQueryRow(ctx context.Context, b *tableBackend, name, sql string, args ...any) pgx.Row {
	formats := pgx.QueryResultFormats{pgx.TextFormatCode}
	if b != nil {
		b.endCopy()
		return b.conn.QueryRow(ctx, name, append([]any{formats}, args...)...)
	}
	return m.pool.QueryRow(ctx, sql, append([]any{formats}, args...)...)
}

// preparedQuery is the multi-row counterpart of preparedQueryRow.
func (m *MiddleStore) preparedQuery(ctx context.Context, b *tableBackend, name, sql string, args ...any) (pgx.Rows, error) {
	formats := pgx.QueryResultFormats{pgx.TextFormatCode}
	if b != nil {
		b.endCopy()
		return b.conn.Query(ctx, name, append([]any{formats}, args...)...)
	}
	return m.pool.Query(ctx, sql, append([]any{formats}, args...)...)
}

// preparedExec runs a named prepared statement that doesn't return
// rows (insert/delete), falling back the same way preparedQueryRow
// does when b is nil.
func (m *MiddleStore) preparedExec(ctx context.Context, b *tableBackend, name, sql string, args ...any) error {
	if b != nil {
		b.endCopy()
		_, err := b.conn.Exec(ctx, name, args...)
		return err
	}
	_, err := m.pool.Exec(ctx, sql, args...)
	return err
}
