// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: spec §4.8's load-state description ("double-checked
// locking: cheap atomic check, per-level mutex, re-check, load, publish")
// and §9's "names-only vs columns-loaded decoupling" fix note. Collapsing
// concurrent loaders of the same level uses golang.org/x/sync/singleflight
// rather than a hand-rolled per-key mutex map, since the teacher's own
// retrieval pack already depends on golang.org/x/sync for this purpose.
package metadata

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoadState is a cache level's lazy-load status.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
)

// Column describes one column of a table or view (spec §4.8 discovery SQL).
type Column struct {
	Name      string
	Ordinal   int
	Type      string
	MaxLength int
	Precision int
	Scale     int
	Nullable  bool
	Collation string
	IsPrimaryKey bool
	KeyOrdinal   int
}

// Table describes one table or view, names-only until Columns is loaded.
type Table struct {
	Schema      string
	Name        string
	Kind        string // "U" table, "V" view
	RowCount    int64

	mu          sync.Mutex
	columnState LoadState
	columnsAt   time.Time
	Columns     []Column
}

// Schema groups the tables/views discovered for one schema name.
type Schema struct {
	Name string

	mu         sync.Mutex
	tableState LoadState
	tablesAt   time.Time
	tables     map[string]*Table
}

// Discoverer is the SQL-execution capability Cache needs; implemented by
// the catalog-facing connection wrapper so this package stays free of any
// wire/pool dependency.
type Discoverer interface {
	ListSchemas(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, schema string) ([]Table, error)
	ListColumns(ctx context.Context, schema, table string) ([]Column, error)
	BulkPreload(ctx context.Context) (map[string]map[string][]Column, error)
}

// Cache is the three-level schema→table→column metadata cache.
type Cache struct {
	discoverer Discoverer
	ttl        time.Duration
	now        func() time.Time

	schemaFilter *regexp.Regexp
	tableFilter  *regexp.Regexp

	mu          sync.Mutex
	schemaState LoadState
	schemasAt   time.Time
	schemas     map[string]*Schema

	group singleflight.Group
}

// Config configures a Cache's TTL and visibility filters.
type Config struct {
	TTL          time.Duration
	SchemaFilter string // case-insensitive regex; empty means "no filter"
	TableFilter  string
	Now          func() time.Time
}

// New compiles cfg's filters once and returns an empty Cache backed by d.
func New(d Discoverer, cfg Config) (*Cache, error) {
	c := &Cache{discoverer: d, ttl: cfg.TTL, schemas: make(map[string]*Schema)}
	c.now = cfg.Now
	if c.now == nil {
		c.now = time.Now
	}
	if cfg.SchemaFilter != "" {
		re, err := regexp.Compile("(?i)" + cfg.SchemaFilter)
		if err != nil {
			return nil, fmt.Errorf("metadata: compiling schema_filter: %w", err)
		}
		c.schemaFilter = re
	}
	if cfg.TableFilter != "" {
		re, err := regexp.Compile("(?i)" + cfg.TableFilter)
		if err != nil {
			return nil, fmt.Errorf("metadata: compiling table_filter: %w", err)
		}
		c.tableFilter = re
	}
	return c, nil
}

func (c *Cache) schemaVisible(name string) bool {
	if c.schemaFilter == nil {
		return true
	}
	return c.schemaFilter.MatchString(name)
}

func (c *Cache) tableVisible(schema, table string) bool {
	if c.tableFilter == nil {
		return true
	}
	return c.tableFilter.MatchString(schema + "." + table)
}

// Schemas returns the (filtered) names-only list of visible user schemas,
// loading them on first call.
func (c *Cache) Schemas(ctx context.Context) ([]string, error) {
	if err := c.ensureSchemasLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name := range c.schemas {
		if c.schemaVisible(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (c *Cache) ensureSchemasLoaded(ctx context.Context) error {
	c.mu.Lock()
	if c.schemaState == Loaded && c.now().Sub(c.schemasAt) < c.ttl {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.group.Do("schemas", func() (any, error) {
		c.mu.Lock()
		if c.schemaState == Loaded && c.now().Sub(c.schemasAt) < c.ttl {
			c.mu.Unlock()
			return nil, nil
		}
		c.schemaState = Loading
		c.mu.Unlock()

		names, err := c.discoverer.ListSchemas(ctx)
		if err != nil {
			c.mu.Lock()
			c.schemaState = NotLoaded
			c.mu.Unlock()
			return nil, err
		}
		c.mu.Lock()
		existing := c.schemas
		c.schemas = make(map[string]*Schema, len(names))
		for _, n := range names {
			if s, ok := existing[n]; ok {
				c.schemas[n] = s
			} else {
				c.schemas[n] = &Schema{Name: n}
			}
		}
		c.schemaState = Loaded
		c.schemasAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// schemaByName returns the (possibly not-yet-table-loaded) Schema for
// name, or nil if it does not exist or is filtered out — filtered and
// nonexistent names are indistinguishable to a caller, per spec §4.8's
// "filters ... never cause a user-supplied named object to silently
// return empty — a filtered name lookup returns 'not found'".
func (c *Cache) schemaByName(ctx context.Context, name string) (*Schema, error) {
	if !c.schemaVisible(name) {
		return nil, nil
	}
	if err := c.ensureSchemasLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	s := c.schemas[name]
	c.mu.Unlock()
	return s, nil
}

// Tables returns the names-only list of visible tables/views in schema.
func (c *Cache) Tables(ctx context.Context, schemaName string) ([]Table, error) {
	s, err := c.schemaByName(ctx, schemaName)
	if err != nil || s == nil {
		return nil, err
	}
	if err := c.ensureTablesLoaded(ctx, s); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Table, 0, len(s.tables))
	for name, t := range s.tables {
		if c.tableVisible(schemaName, name) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (c *Cache) ensureTablesLoaded(ctx context.Context, s *Schema) error {
	s.mu.Lock()
	if s.tableState == Loaded && c.now().Sub(s.tablesAt) < c.ttl {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err, _ := c.group.Do("tables:"+s.Name, func() (any, error) {
		s.mu.Lock()
		if s.tableState == Loaded && c.now().Sub(s.tablesAt) < c.ttl {
			s.mu.Unlock()
			return nil, nil
		}
		s.tableState = Loading
		s.mu.Unlock()

		tables, err := c.discoverer.ListTables(ctx, s.Name)
		if err != nil {
			s.mu.Lock()
			s.tableState = NotLoaded
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Lock()
		existing := s.tables
		s.tables = make(map[string]*Table, len(tables))
		for i := range tables {
			t := tables[i]
			if old, ok := existing[t.Name]; ok {
				old.RowCount = t.RowCount
				old.Kind = t.Kind
				s.tables[t.Name] = old
			} else {
				s.tables[t.Name] = &t
			}
		}
		s.tableState = Loaded
		s.tablesAt = c.now()
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// Table returns the named table/view, loading its columns on first real
// access (the "names-only" fix: enumeration never forces a column load).
func (c *Cache) Table(ctx context.Context, schemaName, tableName string) (*Table, error) {
	s, err := c.schemaByName(ctx, schemaName)
	if err != nil || s == nil {
		return nil, err
	}
	if err := c.ensureTablesLoaded(ctx, s); err != nil {
		return nil, err
	}
	if !c.tableVisible(schemaName, tableName) {
		return nil, nil
	}
	s.mu.Lock()
	t := s.tables[tableName]
	s.mu.Unlock()
	if t == nil {
		return nil, nil
	}
	if err := c.ensureColumnsLoaded(ctx, schemaName, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Cache) ensureColumnsLoaded(ctx context.Context, schemaName string, t *Table) error {
	t.mu.Lock()
	if t.columnState == Loaded && c.now().Sub(t.columnsAt) < c.ttl {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	_, err, _ := c.group.Do("columns:"+schemaName+"."+t.Name, func() (any, error) {
		t.mu.Lock()
		if t.columnState == Loaded && c.now().Sub(t.columnsAt) < c.ttl {
			t.mu.Unlock()
			return nil, nil
		}
		t.columnState = Loading
		t.mu.Unlock()

		cols, err := c.discoverer.ListColumns(ctx, schemaName, t.Name)
		if err != nil {
			t.mu.Lock()
			t.columnState = NotLoaded
			t.mu.Unlock()
			return nil, err
		}
		t.mu.Lock()
		t.Columns = cols
		t.columnState = Loaded
		t.columnsAt = c.now()
		t.mu.Unlock()
		return nil, nil
	})
	return err
}

// InvalidateAll forces every level to reload on next access.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.schemaState = NotLoaded
	c.schemas = make(map[string]*Schema)
	c.mu.Unlock()
}

// InvalidateSchema forces a schema's table list (and transitively its
// tables' columns, since they are replaced wholesale on reload) to
// reload on next access.
func (c *Cache) InvalidateSchema(schema string) {
	c.mu.Lock()
	s := c.schemas[schema]
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.tableState = NotLoaded
	s.tables = nil
	s.mu.Unlock()
}

// InvalidateTable forces one table's column list to reload on next
// access.
func (c *Cache) InvalidateTable(schema, table string) {
	c.mu.Lock()
	s := c.schemas[schema]
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	t := s.tables[table]
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.mu.Lock()
	t.columnState = NotLoaded
	t.mu.Unlock()
}

// fallbackDiscoverer is implemented by discoverers that can assemble a
// bulk preload from per-schema, per-table queries when BulkPreload's
// single JOIN fails (e.g. missing sys.* permissions).
type fallbackDiscoverer interface {
	PreloadAllFallback(ctx context.Context) (map[string]map[string][]Column, error)
}

// PreloadAll runs the bulk-discovery query and populates every level at
// once, the preferred mode for catalogs with thousands of tables (spec
// §4.8). If the bulk query fails and the discoverer supports it, PreloadAll
// falls back to assembling the same result from per-table queries.
func (c *Cache) PreloadAll(ctx context.Context) error {
	grouped, err := c.discoverer.BulkPreload(ctx)
	if err != nil {
		fb, ok := c.discoverer.(fallbackDiscoverer)
		if !ok {
			return fmt.Errorf("metadata: bulk preload: %w", err)
		}
		grouped, err = fb.PreloadAllFallback(ctx)
		if err != nil {
			return fmt.Errorf("metadata: bulk preload fallback: %w", err)
		}
	}
	now := c.now()
	c.mu.Lock()
	c.schemas = make(map[string]*Schema, len(grouped))
	for schemaName, tables := range grouped {
		s := &Schema{Name: schemaName, tableState: Loaded, tablesAt: now, tables: make(map[string]*Table, len(tables))}
		for tableName, cols := range tables {
			s.tables[tableName] = &Table{
				Schema: schemaName, Name: tableName, Kind: "U",
				columnState: Loaded, columnsAt: now, Columns: cols,
			}
		}
		c.schemas[schemaName] = s
	}
	c.schemaState = Loaded
	c.schemasAt = now
	c.mu.Unlock()
	return nil
}

// PrimaryKey returns t's columns that form its primary key, ordered by
// key ordinal, or nil if the table has none.
func (t *Table) PrimaryKey() []Column {
	var pk []Column
	for _, col := range t.Columns {
		if col.IsPrimaryKey {
			pk = append(pk, col)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].KeyOrdinal < pk[j].KeyOrdinal })
	return pk
}

// QualifiedName returns "schema.table" using the identifier-escaping
// rules of identifier brackets, doubling any literal ']'.
func (t *Table) QualifiedName() string {
	return fmt.Sprintf("[%s].[%s]", escapeIdent(t.Schema), escapeIdent(t.Name))
}

func escapeIdent(name string) string {
	return strings.ReplaceAll(name, "]", "]]")
}
