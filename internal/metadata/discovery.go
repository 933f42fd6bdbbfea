// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: spec §4.8's discovery SQL description (system-view
// queries for schemas/tables/columns/primary keys, plus a single
// bulk-preload JOIN). golang.org/x/sync/errgroup bounds the bulk-preload
// path's structured concurrency, matching the teacher pack's own use of
// golang.org/x/sync for goroutine lifetime management.
package metadata

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// SchemasQuery enumerates user schemas, excluding system and db_* ones.
const SchemasQuery = `
SELECT s.name
FROM sys.schemas s
WHERE s.name NOT IN ('sys', 'INFORMATION_SCHEMA')
  AND s.name NOT LIKE 'db[_]%'
ORDER BY s.name`

// TablesQuery enumerates non-shipped tables and views of one schema, with
// an approximate row count from partition-level statistics.
const TablesQuery = `
SELECT o.name, o.type,
       ISNULL((SELECT SUM(p.rows) FROM sys.partitions p
               WHERE p.object_id = o.object_id AND p.index_id IN (0, 1)), 0) AS approx_rows
FROM sys.objects o
JOIN sys.schemas s ON s.schema_id = o.schema_id
WHERE s.name = @schema
  AND o.type IN ('U', 'V')
  AND o.is_ms_shipped = 0
ORDER BY o.name`

// ColumnsQuery enumerates one table/view's columns by OBJECT_ID.
const ColumnsQuery = `
SELECT c.name, c.column_id, t.name AS type_name, c.max_length, c.precision,
       c.scale, c.is_nullable, CONVERT(sysname, c.collation_name)
FROM sys.columns c
JOIN sys.types t ON t.user_type_id = c.user_type_id
WHERE c.object_id = OBJECT_ID(@qualifiedName)
ORDER BY c.column_id`

// PrimaryKeyQuery enumerates the key columns of a table's primary key,
// in key-ordinal order.
const PrimaryKeyQuery = `
SELECT c.name, ic.key_ordinal
FROM sys.key_constraints kc
JOIN sys.indexes i ON i.object_id = kc.parent_object_id AND i.index_id = kc.unique_index_id
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
WHERE kc.parent_object_id = OBJECT_ID(@qualifiedName)
  AND kc.type = 'PK'
ORDER BY ic.key_ordinal`

// BulkPreloadQuery materializes every user schema/table/column in one
// JOIN, the preferred discovery mode for catalogs with thousands of
// tables (spec §4.8).
const BulkPreloadQuery = `
SELECT s.name, o.name, o.type, c.name, c.column_id, t.name, c.max_length,
       c.precision, c.scale, c.is_nullable, CONVERT(sysname, c.collation_name)
FROM sys.schemas s
JOIN sys.objects o ON o.schema_id = s.schema_id
JOIN sys.columns c ON c.object_id = o.object_id
JOIN sys.types t ON t.user_type_id = c.user_type_id
WHERE s.name NOT IN ('sys', 'INFORMATION_SCHEMA')
  AND s.name NOT LIKE 'db[_]%'
  AND o.type IN ('U', 'V')
  AND o.is_ms_shipped = 0
ORDER BY s.name, o.name, c.column_id`

// QueryFunc executes sql and returns its single result set as rows of
// untyped cells, decoupling this package from the wire/token/result-stream
// layers; the catalog facade supplies a QueryFunc backed by a real
// connection.
type QueryFunc func(ctx context.Context, sql string, args ...any) ([][]any, error)

// SQLDiscoverer implements [Discoverer] by running the queries above
// through a QueryFunc.
type SQLDiscoverer struct {
	Query QueryFunc
	// MaxConcurrentPreloadQueries bounds how many per-table primary-key
	// queries PreloadAllFallback runs at once when the single bulk JOIN
	// is unavailable; BulkPreload itself is always a single query.
	MaxConcurrentPreloadQueries int
}

func (d SQLDiscoverer) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := d.Query(ctx, SchemasQuery)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if len(r) > 0 {
			if s, ok := r[0].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (d SQLDiscoverer) ListTables(ctx context.Context, schema string) ([]Table, error) {
	rows, err := d.Query(ctx, TablesQuery, schema)
	if err != nil {
		return nil, err
	}
	out := make([]Table, 0, len(rows))
	for _, r := range rows {
		if len(r) < 3 {
			continue
		}
		name, _ := r[0].(string)
		kind, _ := r[1].(string)
		var rowCount int64
		switch v := r[2].(type) {
		case int64:
			rowCount = v
		case int32:
			rowCount = int64(v)
		}
		out = append(out, Table{Schema: schema, Name: name, Kind: kind, RowCount: rowCount})
	}
	return out, nil
}

func (d SQLDiscoverer) ListColumns(ctx context.Context, schema, table string) ([]Column, error) {
	qualified := fmt.Sprintf("[%s].[%s]", escapeIdent(schema), escapeIdent(table))
	pkRows, err := d.Query(ctx, PrimaryKeyQuery, qualified)
	if err != nil {
		return nil, err
	}
	pkOrdinal := make(map[string]int, len(pkRows))
	for _, r := range pkRows {
		if len(r) < 2 {
			continue
		}
		name, _ := r[0].(string)
		pkOrdinal[name] = toInt(r[1])
	}
	return d.listColumnsWithPrimaryKeys(ctx, schema, table, pkOrdinal)
}

// listColumnsWithPrimaryKeys runs ColumnsQuery and applies a
// precomputed name→ordinal primary-key map, letting callers that
// already batched PrimaryKeyQuery across many tables (PreloadAllFallback)
// skip re-querying it per table.
func (d SQLDiscoverer) listColumnsWithPrimaryKeys(ctx context.Context, schema, table string, pkOrdinal map[string]int) ([]Column, error) {
	qualified := fmt.Sprintf("[%s].[%s]", escapeIdent(schema), escapeIdent(table))
	rows, err := d.Query(ctx, ColumnsQuery, qualified)
	if err != nil {
		return nil, err
	}
	out := make([]Column, 0, len(rows))
	for _, r := range rows {
		if len(r) < 8 {
			continue
		}
		name, _ := r[0].(string)
		col := Column{
			Name:      name,
			Ordinal:   toInt(r[1]),
			Type:      stringOr(r[2]),
			MaxLength: toInt(r[3]),
			Precision: toInt(r[4]),
			Scale:     toInt(r[5]),
			Nullable:  boolOr(r[6]),
			Collation: stringOr(r[7]),
		}
		if ord, ok := pkOrdinal[name]; ok {
			col.IsPrimaryKey = true
			col.KeyOrdinal = ord
		}
		out = append(out, col)
	}
	return out, nil
}

func (d SQLDiscoverer) BulkPreload(ctx context.Context) (map[string]map[string][]Column, error) {
	rows, err := d.Query(ctx, BulkPreloadQuery)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string][]Column)
	for _, r := range rows {
		if len(r) < 11 {
			continue
		}
		schema := stringOr(r[0])
		table := stringOr(r[1])
		col := Column{
			Name:      stringOr(r[3]),
			Ordinal:   toInt(r[4]),
			Type:      stringOr(r[5]),
			MaxLength: toInt(r[6]),
			Precision: toInt(r[7]),
			Scale:     toInt(r[8]),
			Nullable:  boolOr(r[9]),
			Collation: stringOr(r[10]),
		}
		if out[schema] == nil {
			out[schema] = make(map[string][]Column)
		}
		out[schema][table] = append(out[schema][table], col)
	}
	return out, nil
}

// PreloadAllFallback assembles the same shape BulkPreload returns from
// per-schema, per-table queries instead of the single bulk JOIN, for
// catalogs where the service account lacks permission on one of the
// joined sys.* views. It issues PrimaryKeyQuery once per table, running a
// schema's queries concurrently through primaryKeysConcurrently.
func (d SQLDiscoverer) PreloadAllFallback(ctx context.Context) (map[string]map[string][]Column, error) {
	schemas, err := d.ListSchemas(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string][]Column, len(schemas))
	for _, schema := range schemas {
		tables, err := d.ListTables(ctx, schema)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(tables))
		for i, t := range tables {
			names[i] = t.Name
		}
		pks, err := d.primaryKeysConcurrently(ctx, schema, names)
		if err != nil {
			return nil, err
		}
		perTable := make(map[string][]Column, len(tables))
		for _, t := range tables {
			cols, err := d.listColumnsWithPrimaryKeys(ctx, schema, t.Name, pks[t.Name])
			if err != nil {
				return nil, err
			}
			perTable[t.Name] = cols
		}
		out[schema] = perTable
	}
	return out, nil
}

// primaryKeysConcurrently fetches primary keys for many tables at once,
// bounding concurrency with an errgroup — used by callers that preload a
// schema's tables without the single bulk JOIN (e.g. a schema-scoped
// refresh after DDL).
func (d SQLDiscoverer) primaryKeysConcurrently(ctx context.Context, schema string, tableNames []string) (map[string]map[string]int, error) {
	limit := d.MaxConcurrentPreloadQueries
	if limit <= 0 {
		limit = 8
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]map[string]int, len(tableNames))
	for i, name := range tableNames {
		i, name := i, name
		g.Go(func() error {
			qualified := fmt.Sprintf("[%s].[%s]", escapeIdent(schema), escapeIdent(name))
			rows, err := d.Query(ctx, PrimaryKeyQuery, qualified)
			if err != nil {
				return err
			}
			m := make(map[string]int, len(rows))
			for _, r := range rows {
				if len(r) < 2 {
					continue
				}
				m[stringOr(r[0])] = toInt(r[1])
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int, len(tableNames))
	for i, name := range tableNames {
		out[name] = results[i]
	}
	return out, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int16:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

func boolOr(v any) bool {
	b, _ := v.(bool)
	return b
}
