// SPDX-License-Identifier: GPL-3.0-or-later
//
// New code per spec §4.11's CTAS (two-phase, non-atomic) description.
package writer

import (
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/internal/typemap"
)

// CTASColumn is one column of a CREATE TABLE ... AS SELECT target.
type CTASColumn struct {
	Name      string
	Type      typemap.HostType
	Precision int
	Scale     int
	MaxLength int
	Nullable  bool
}

// CTASPlan builds the CREATE TABLE DDL for a CTAS sink; the bulk-INSERT
// phase that follows reuses [InsertPlan] against the same table.
type CTASPlan struct {
	Schema  string
	Table   string
	Columns []CTASColumn

	// Replace requests DROP TABLE before CREATE TABLE (OR REPLACE),
	// explicitly non-atomic per spec §4.11.
	Replace bool
	// DropOnInsertFailure opts into a best-effort DROP TABLE if the
	// bulk-insert phase fails; off by default, the table is kept.
	DropOnInsertFailure bool
}

// CreateStatements returns the DDL statement(s) for phase one: an
// optional DROP TABLE (when Replace is set) followed by CREATE TABLE.
func (p *CTASPlan) CreateStatements() ([]string, error) {
	defs := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		def, err := typemap.ColumnDDL(c.Name, c.Type, c.Precision, c.Scale, c.MaxLength, c.Nullable)
		if err != nil {
			return nil, fmt.Errorf("writer: column %q: %w", c.Name, err)
		}
		defs[i] = def
	}

	table := typemap.QualifiedName(p.Schema, p.Table)
	create := fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", table, strings.Join(defs, ",\n  "))

	if !p.Replace {
		return []string{create}, nil
	}
	drop := fmt.Sprintf("IF OBJECT_ID('%s', 'U') IS NOT NULL DROP TABLE %s;", strings.ReplaceAll(table, "'", "''"), table)
	return []string{drop, create}, nil
}

// DropStatement returns the best-effort cleanup DDL used when
// DropOnInsertFailure is set and the insert phase fails.
func (p *CTASPlan) DropStatement() string {
	table := typemap.QualifiedName(p.Schema, p.Table)
	return fmt.Sprintf("DROP TABLE %s;", table)
}

// InsertPlanForCTAS returns the InsertPlan the second CTAS phase uses to
// bulk-load rows into the freshly created table; CTAS targets are always
// freshly created and never carry identity columns from a prior schema,
// so every CTASColumn is insertable.
func (p *CTASPlan) InsertPlanForCTAS(maxRowsPerStatement, maxSQLBytes int) *InsertPlan {
	cols := make([]Column, len(p.Columns))
	for i, c := range p.Columns {
		cols[i] = Column{Name: c.Name}
	}
	return &InsertPlan{
		Schema: p.Schema, Table: p.Table, Columns: cols,
		MaxRowsPerStatement: maxRowsPerStatement, MaxSQLBytes: maxSQLBytes,
	}
}
