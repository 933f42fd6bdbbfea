// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: the teacher's composable-pipeline idiom (func.go,
// compose.go) applied to connection establishment, and its Dialer/Config
// wiring convention generalized from a single DNS/HTTP/TLS client into
// the full pool+transaction+metadata-cache facade spec §6 calls a
// Catalog.

package mssql

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hugr-lab/mssql-extension/internal/connstate"
	"github.com/hugr-lab/mssql-extension/internal/encoding"
	"github.com/hugr-lab/mssql-extension/internal/handshake"
	"github.com/hugr-lab/mssql-extension/internal/metadata"
	"github.com/hugr-lab/mssql-extension/internal/pool"
	"github.com/hugr-lab/mssql-extension/internal/pushdown"
	"github.com/hugr-lab/mssql-extension/internal/resultstream"
	"github.com/hugr-lab/mssql-extension/internal/token"
	"github.com/hugr-lab/mssql-extension/internal/txn"
	"github.com/hugr-lab/mssql-extension/internal/typemap"
	"github.com/hugr-lab/mssql-extension/internal/wire"
	"github.com/hugr-lab/mssql-extension/internal/writer"
)

// version is the package's reported build version (spec §6 outbound
// version() scalar function).
const version = "0.1.0"

// Version returns the package's reported version string.
func Version() string { return version }

// Catalog is the attached-database facade: one connection pool, one
// transaction manager, and one metadata cache for a single SQL Server
// instance (spec §6).
type Catalog struct {
	cfg    *Config
	sec    *Secret
	pool   *pool.Pool
	txns   *txn.Manager
	cache  *metadata.Cache
	streams *resultstream.Registry
}

// cancelWatchDialer wraps a [Dialer] so every socket it opens is handed
// through the [Func] pipeline `dial -> CancelWatchFunc`: if the caller's
// context is cancelled while the PRELOGIN/LOGIN7 handshake is still
// blocked on I/O, the watch closes the socket instead of leaving the
// dial goroutine stuck past its caller's deadline. This is the one place
// Compose2 and CancelWatchFunc, both carried from the teacher, actually
// run in the connection-establishment pipeline described in doc.go.
type cancelWatchDialer struct {
	inner Dialer
}

func (d cancelWatchDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dial := FuncAdapter[Unit, net.Conn](func(ctx context.Context, _ Unit) (net.Conn, error) {
		return d.inner.DialContext(ctx, network, address)
	})
	watch := FuncAdapter[net.Conn, net.Conn](NewCancelWatchFunc().Call)
	pipeline := Compose2[Unit, net.Conn, net.Conn](dial, watch)
	return pipeline.Call(ctx, Unit{})
}

// strategyFor derives the handshake [Strategy] appropriate for sec:
// federated auth with a pre-resolved access token when one is
// configured (the host engine's secret store has already exchanged
// AzureSecretName for a token by the time [Open] runs), password auth
// otherwise.
func strategyFor(sec *Secret) handshake.Strategy {
	if sec.AccessToken != "" {
		return handshake.StaticTokenStrategy{Token: sec.AccessToken}
	}
	return handshake.PasswordStrategy{Username: sec.User, Password: sec.Password}
}

// Open builds the connection pool for sec's server, the transaction
// manager, and the metadata cache, and returns a ready [*Catalog]. It does
// not dial the server itself; connections are opened on first acquire (or
// in the background when MinConnections > 0). cfg may be nil, in which
// case [NewConfig]'s defaults apply.
func Open(sec *Secret, cfg *Config) (*Catalog, error) {
	if sec == nil {
		return nil, NewCatalogError("mssql: Open requires a non-nil Secret")
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	if sec.Host == "" {
		return nil, NewCatalogError("mssql: Secret.Host is required")
	}

	p := pool.New(pool.Config{
		Dialer:          cancelWatchDialer{inner: cfg.Dialer},
		Address:         fmt.Sprintf("%s:%d", sec.Host, sec.Port),
		Database:        sec.Database,
		Encrypt:         sec.UseEncrypt,
		Strategy:        strategyFor(sec),
		ConnectionLimit: cfg.ConnectionLimit,
		MinConnections:  cfg.MinConnections,
		ConnectionCache: cfg.ConnectionCache,
		ConnectTimeout:  cfg.ConnectTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		AcquireTimeout:  cfg.AcquireTimeout,
		Logger:          cfg.Logger,
		Now:             cfg.TimeNow,
	})

	discoverer := metadata.SQLDiscoverer{Query: catalogQueryFunc(p)}
	cache, err := metadata.New(discoverer, metadata.Config{
		TTL:          cfg.MetadataCacheTTL,
		SchemaFilter: sec.SchemaFilter,
		TableFilter:  sec.TableFilter,
		Now:          cfg.TimeNow,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("mssql: compiling catalog filters: %w", err)
	}

	return &Catalog{
		cfg:     cfg,
		sec:     sec,
		pool:    p,
		txns:    txn.NewManager(p, cfg.Logger),
		cache:   cache,
		streams: resultstream.NewRegistry(),
	}, nil
}

// Close shuts down the pool, closing every idle and active connection.
func (c *Catalog) Close() error {
	c.pool.Close()
	return nil
}

// Ping acquires and immediately releases a connection, verifying the
// catalog is reachable (spec §6 outbound ping(handle)).
func (c *Catalog) Ping(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	c.pool.Release(ctx, conn)
	return nil
}

// PoolStats reports the pool's observable counters (spec §6 outbound
// pool_stats).
func (c *Catalog) PoolStats() pool.Stats {
	return c.pool.Stats()
}

// RefreshCache drops every cached schema/table/column so the next access
// re-runs discovery (spec §6 outbound refresh_cache).
func (c *Catalog) RefreshCache() {
	c.cache.InvalidateAll()
}

// PreloadCatalog runs the bulk-discovery preload and returns a short
// human-readable status (spec §6 outbound preload_catalog). The preload
// always covers every schema; a non-empty schema only changes the status
// text, not what is loaded.
func (c *Catalog) PreloadCatalog(ctx context.Context, schema string) (string, error) {
	if err := c.cache.PreloadAll(ctx); err != nil {
		return "", err
	}
	if schema != "" {
		return fmt.Sprintf("preloaded schema %q", schema), nil
	}
	return "preloaded all schemas", nil
}

// Schemas lists visible schema names.
func (c *Catalog) Schemas(ctx context.Context) ([]string, error) {
	return c.cache.Schemas(ctx)
}

// Tables lists visible tables/views of schemaName.
func (c *Catalog) Tables(ctx context.Context, schemaName string) ([]metadata.Table, error) {
	return c.cache.Tables(ctx, schemaName)
}

// Table returns one table's metadata, loading its columns on first
// access.
func (c *Catalog) Table(ctx context.Context, schemaName, tableName string) (*metadata.Table, error) {
	return c.cache.Table(ctx, schemaName, tableName)
}

// BeginTransaction starts a new pending transaction (spec §4.7); no
// connection is acquired until the transaction's first operation.
func (c *Catalog) BeginTransaction() *txn.Transaction {
	return c.txns.Begin()
}

// Scan binds sql for streaming read (spec §6 outbound scan(catalog,
// sql)) and registers the resulting stream, returning a handle the host
// engine polls via Registry.Get until the scan completes or is
// cancelled.
func (c *Catalog) Scan(ctx context.Context, sql string) (int, *resultstream.Stream, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, nil, err
	}
	stream, err := resultstream.Bind(ctx, conn, sql, resultstream.Config{Logger: c.cfg.Logger})
	if err != nil {
		c.pool.Release(ctx, conn)
		return 0, nil, err
	}
	return c.streams.Register(stream), stream, nil
}

// ReleaseScan returns the connection backing a completed or abandoned
// scan to the pool and forgets the stream.
func (c *Catalog) ReleaseScan(ctx context.Context, handle int) {
	stream, err := c.streams.Get(handle)
	if err != nil {
		return
	}
	stream.Cancel(ctx)
	c.streams.Release(handle)
}

// requireTable loads schemaName.tableName's metadata, reporting a
// [KindCatalog] error instead of a silent nil when it does not exist or
// is filtered out.
func (c *Catalog) requireTable(ctx context.Context, schemaName, tableName string) (*metadata.Table, error) {
	table, err := c.cache.Table(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if table == nil {
		return nil, NewCatalogError(fmt.Sprintf("mssql: table %s.%s not found", schemaName, tableName))
	}
	return table, nil
}

// PlanTableScan builds a SELECT statement projecting projection's columns
// from schemaName.tableName, pushing filters into a WHERE clause through
// [pushdown.Translate] (spec §6 Inbound: plan_table_scan). Each filter in
// filters is AND-combined with the others at the top level; any column
// whose collation cannot round-trip through UTF-8 is wrapped in
// CAST(... AS NVARCHAR(MAX)) (spec §4.12). fullySupported reports whether
// every filter was represented in the generated SQL — the host engine
// must re-apply the full, original filter set locally whenever it is
// false, since the returned SQL may only be a subset of it.
func (c *Catalog) PlanTableScan(ctx context.Context, schemaName, tableName string, projection []string, filters []pushdown.Expr) (sql string, fullySupported bool, err error) {
	table, err := c.requireTable(ctx, schemaName, tableName)
	if err != nil {
		return "", false, err
	}

	if len(projection) == 0 {
		projection = make([]string, len(table.Columns))
		for i, col := range table.Columns {
			projection[i] = col.Name
		}
	}
	byName := make(map[string]metadata.Column, len(table.Columns))
	for _, col := range table.Columns {
		byName[col.Name] = col
	}

	selectList := make([]string, len(projection))
	for i, name := range projection {
		col, ok := byName[name]
		if !ok {
			return "", false, NewCatalogError(fmt.Sprintf("mssql: column %q not found on %s.%s", name, schemaName, tableName))
		}
		ident := typemap.EscapeIdentifier(col.Name)
		if typemap.RequiresUTF16Cast(col.Type, col.Collation) {
			selectList[i] = fmt.Sprintf("CAST(%s AS NVARCHAR(MAX)) AS %s", ident, ident)
		} else {
			selectList[i] = ident
		}
	}

	resolve := func(projectionIndex int) (string, bool) {
		if projectionIndex < 0 || projectionIndex >= len(projection) {
			return "", false
		}
		return typemap.EscapeIdentifier(projection[projectionIndex]), true
	}

	fullySupported = true
	var whereParts []string
	for _, f := range filters {
		r := pushdown.Translate(f, resolve)
		if r.SQL == "" {
			fullySupported = false
			continue
		}
		if !r.FullySupported {
			fullySupported = false
		}
		whereParts = append(whereParts, r.SQL)
	}

	sql = fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectList, ", "), table.QualifiedName())
	if len(whereParts) > 0 {
		sql += " WHERE " + strings.Join(whereParts, " AND ")
	}
	return sql, fullySupported, nil
}

// ScanTable plans a filtered, projected scan of schemaName.tableName via
// [Catalog.PlanTableScan] and binds it the same way [Catalog.Scan] binds
// raw SQL, additionally reporting whether every filter was pushed down.
func (c *Catalog) ScanTable(ctx context.Context, schemaName, tableName string, projection []string, filters []pushdown.Expr) (handle int, stream *resultstream.Stream, fullySupported bool, err error) {
	sql, fullySupported, err := c.PlanTableScan(ctx, schemaName, tableName, projection, filters)
	if err != nil {
		return 0, nil, false, err
	}
	handle, stream, err = c.Scan(ctx, sql)
	return handle, stream, fullySupported, err
}

// PlanInsert builds an INSERT plan for schemaName.tableName from the
// table's cached columns (spec §6 Inbound: plan_insert). identityColumns
// names the columns the caller's own schema marks as identity — this
// catalog's discovery SQL does not probe sys.columns.is_identity, so the
// caller supplies it — and attemptedIdentityValues names any of them the
// caller tried to also give an explicit value, which [writer.NewInsertPlan]
// rejects at plan time.
func (c *Catalog) PlanInsert(ctx context.Context, schemaName, tableName string, identityColumns, returning, attemptedIdentityValues []string, maxRowsPerStatement, maxSQLBytes int) (*writer.InsertPlan, error) {
	table, err := c.requireTable(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	identitySet := make(map[string]bool, len(identityColumns))
	for _, name := range identityColumns {
		identitySet[strings.ToLower(name)] = true
	}
	cols := make([]writer.Column, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = writer.Column{Name: col.Name, Identity: identitySet[strings.ToLower(col.Name)]}
	}
	plan, err := writer.NewInsertPlan(schemaName, tableName, cols, returning, attemptedIdentityValues, maxRowsPerStatement, maxSQLBytes)
	if err != nil {
		return nil, NewPlanError("mssql: " + err.Error())
	}
	return plan, nil
}

// PlanUpdate builds an UPDATE plan for schemaName.tableName (spec §6
// Inbound: plan_update), deriving the primary key (in key-ordinal order)
// from cached metadata and rejecting tables with no primary key or a
// setColumns entry that overlaps it.
func (c *Catalog) PlanUpdate(ctx context.Context, schemaName, tableName string, setColumns []string) (*writer.UpdatePlan, error) {
	table, err := c.requireTable(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	plan, err := writer.NewUpdatePlan(schemaName, tableName, primaryKeyNames(table.PrimaryKey()), setColumns)
	if err != nil {
		return nil, NewPlanError("mssql: " + err.Error())
	}
	return plan, nil
}

// PlanDelete builds a DELETE plan for schemaName.tableName (spec §6
// Inbound: plan_delete), deriving the primary key the same way PlanUpdate
// does.
func (c *Catalog) PlanDelete(ctx context.Context, schemaName, tableName string) (*writer.DeletePlan, error) {
	table, err := c.requireTable(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	plan, err := writer.NewDeletePlan(schemaName, tableName, primaryKeyNames(table.PrimaryKey()))
	if err != nil {
		return nil, NewPlanError("mssql: " + err.Error())
	}
	return plan, nil
}

// PlanCreateTableAs builds a CTAS plan targeting schemaName.tableName
// (spec §6 Inbound: plan_create_table_as) directly from a source scan's
// output schema, so the generated DDL's column types flow from the same
// read-side type mapping ([resultstream.ColumnSchema.HostType]) a scan
// of that source would itself produce.
func (c *Catalog) PlanCreateTableAs(schemaName, tableName string, sourceColumns []resultstream.ColumnSchema, replace, dropOnInsertFailure bool) *writer.CTASPlan {
	cols := make([]writer.CTASColumn, len(sourceColumns))
	for i, sc := range sourceColumns {
		cols[i] = writer.CTASColumn{
			Name:      sc.Name,
			Type:      sc.HostType,
			Precision: int(sc.Precision),
			Scale:     int(sc.Scale),
			MaxLength: sc.MaxLength,
			Nullable:  sc.Nullable,
		}
	}
	return &writer.CTASPlan{
		Schema: schemaName, Table: tableName, Columns: cols,
		Replace: replace, DropOnInsertFailure: dropOnInsertFailure,
	}
}

// primaryKeyNames projects a table's primary-key columns down to their
// bare names, in the order PrimaryKey returned them.
func primaryKeyNames(cols []metadata.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Exec runs sql as a single batch outside any transaction and returns the
// cumulative row count across every DONE/DONEPROC/DONEINPROC carrying one (spec §6
// outbound exec(catalog, sql)).
func (c *Catalog) Exec(ctx context.Context, sql string) (int64, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer c.pool.Release(ctx, conn)
	return execBatch(ctx, conn, sql)
}

// paramPattern matches a single `@name` SQL parameter marker.
var paramPattern = regexp.MustCompile(`@[A-Za-z_][A-Za-z0-9_]*`)

// catalogQueryFunc adapts the pool into the [metadata.QueryFunc] shape
// discovery needs: acquire a connection, inline args into the named
// parameter markers the discovery queries use, bind, and drain every row
// into row-major cells.
func catalogQueryFunc(p *pool.Pool) metadata.QueryFunc {
	return func(ctx context.Context, sql string, args ...any) ([][]any, error) {
		conn, err := p.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer p.Release(ctx, conn)

		stream, err := resultstream.Bind(ctx, conn, inlineParams(sql, args), resultstream.Config{})
		if err != nil {
			return nil, err
		}
		var rows [][]any
		for {
			chunk, done, err := stream.Next(ctx)
			if err != nil {
				return nil, err
			}
			if chunk != nil {
				rows = append(rows, chunkToRows(chunk)...)
			}
			if done {
				break
			}
		}
		return rows, nil
	}
}

// inlineParams substitutes each distinct `@name` marker found in sql, in
// first-occurrence order, with the corresponding positional arg rendered
// as a literal. The discovery queries in internal/metadata each reference
// at most one distinct parameter name, so first-occurrence-order
// positional substitution is unambiguous.
func inlineParams(sql string, args []any) string {
	if len(args) == 0 {
		return sql
	}
	seen := make(map[string]bool)
	var names []string
	for _, m := range paramPattern.FindAllString(sql, -1) {
		if !seen[m] {
			seen[m] = true
			names = append(names, m)
		}
	}
	out := sql
	for i, name := range names {
		if i >= len(args) {
			break
		}
		out = strings.ReplaceAll(out, name, sqlLiteral(args[i]))
	}
	return out
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return "N'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// chunkToRows transposes a columnar [resultstream.Chunk] into row-major
// cells, substituting nil for any cell the token stream marked NULL.
func chunkToRows(c *resultstream.Chunk) [][]any {
	rows := make([][]any, c.RowCount)
	for r := 0; r < c.RowCount; r++ {
		row := make([]any, len(c.Columns))
		for col := range c.Columns {
			if col < len(c.Nulls) && r < len(c.Nulls[col]) && c.Nulls[col][r] {
				row[col] = nil
				continue
			}
			if r < len(c.Columns[col]) {
				row[col] = c.Columns[col][r]
			}
		}
		rows[r] = row
	}
	return rows
}

// execBatch drains sql's token stream directly (rather than through
// resultstream.Stream, which assumes a row-producing SELECT) and sums
// every DONE/DONEPROC/DONEINPROC row count, per spec §4.9's
// multi-statement DONE-skip handling generalized to non-SELECT batches.
func execBatch(ctx context.Context, conn *connstate.Connection, sql string) (int64, error) {
	utf16, err := encoding.EncodeUTF16LE(sql)
	if err != nil {
		return 0, fmt.Errorf("mssql: encoding batch: %w", err)
	}
	var header []byte
	if conn.TransactionDescriptor != nil {
		header = encodeAllHeaders(*conn.TransactionDescriptor)
	}
	if err := conn.Stream.WriteMessage(ctx, wire.PacketSQLBatch, append(header, utf16...)); err != nil {
		conn.MarkDirty()
		return 0, NewWireError(err)
	}

	parser := token.NewParser(wire.NewMessageReader(conn.Stream))
	var affected int64
	var failure error
	for {
		tok, err := parser.Next()
		if err != nil {
			conn.MarkDirty()
			return 0, NewWireError(err)
		}
		switch tok.Tag {
		case token.TagError:
			if tok.Error.IsFailure() {
				failure = NewServerError(tok.Error.Number, tok.Error.Message)
			}
		case token.TagDone, token.TagDoneProc, token.TagDoneInProc:
			if tok.Done.HasCount() {
				affected += int64(tok.Done.RowCount)
			}
			if tok.Done.IsFinal() {
				return affected, failure
			}
		}
	}
}

// encodeAllHeaders builds the ALL_HEADERS transaction-descriptor prefix
// a batch sent inside a pinned transaction must carry (mirrors
// internal/resultstream's unexported helper of the same purpose; this
// copy must stay in lockstep with it since the root package cannot
// import an internal package's unexported symbol).
func encodeAllHeaders(descriptor uint64) []byte {
	const headerType = 0x0002
	buf := make([]byte, 4+4+2+8+4)
	headerLen := uint32(len(buf) - 4)
	totalLen := uint32(len(buf))
	putUint32LE(buf[0:4], totalLen)
	putUint32LE(buf[4:8], headerLen)
	buf[8] = headerType
	buf[9] = 0
	putUint64LE(buf[10:18], descriptor)
	putUint32LE(buf[18:22], 1)
	return buf
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// handleRegistry is the package-level handle table backing the scalar
// function surface's open(secret)/close(handle)/ping(handle) triad
// (spec §6 outbound), since those functions are called by name with a
// plain integer handle rather than a Go value.
type handleRegistry struct {
	mu      sync.Mutex
	next    int64
	catalogs map[int64]*Catalog
}

var handles = &handleRegistry{catalogs: make(map[int64]*Catalog)}

// OpenHandle opens sec and returns an opaque handle for the scalar
// function surface.
func OpenHandle(sec *Secret, cfg *Config) (int64, error) {
	cat, err := Open(sec, cfg)
	if err != nil {
		return 0, err
	}
	h := atomic.AddInt64(&handles.next, 1)
	handles.mu.Lock()
	handles.catalogs[h] = cat
	handles.mu.Unlock()
	return h, nil
}

// CatalogForHandle returns the [*Catalog] behind handle, or nil if it
// does not exist (already closed, or never opened).
func CatalogForHandle(handle int64) *Catalog {
	handles.mu.Lock()
	defer handles.mu.Unlock()
	return handles.catalogs[handle]
}

// CloseHandle closes and forgets handle, reporting whether it existed.
func CloseHandle(handle int64) bool {
	handles.mu.Lock()
	cat, ok := handles.catalogs[handle]
	delete(handles.catalogs, handle)
	handles.mu.Unlock()
	if !ok {
		return false
	}
	cat.Close()
	return true
}
