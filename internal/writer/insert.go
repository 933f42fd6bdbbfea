// SPDX-License-Identifier: GPL-3.0-or-later
//
// New code per spec §4.11's INSERT (bulk-values mode) template; identifier
// escaping reuses internal/typemap's escaper (itself grounded on
// sqldef/sqldef's adapter/mssql/mssql.go).
package writer

import (
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/internal/typemap"
)

// Column describes one target column for an INSERT/UPDATE/DELETE plan.
type Column struct {
	Name     string
	Identity bool
}

// InsertPlan builds bulk-values INSERT statements for one table.
type InsertPlan struct {
	Schema    string
	Table     string
	Columns   []Column
	Returning []string // host-visible RETURNING column names, mapped to OUTPUT INSERTED.col

	MaxRowsPerStatement int
	MaxSQLBytes         int
}

// NewInsertPlan validates that no identity column appears with an
// explicit value request (identityValuesProvided names any identity
// columns the caller attempted to supply values for) and returns a ready
// plan, rejecting at plan time per spec §4.11.
func NewInsertPlan(schema, table string, columns []Column, returning []string, identityValuesProvided []string, maxRowsPerStatement, maxSQLBytes int) (*InsertPlan, error) {
	if len(identityValuesProvided) > 0 {
		return nil, fmt.Errorf("writer: providing an explicit identity value is not supported (columns: %s)", strings.Join(identityValuesProvided, ", "))
	}
	return &InsertPlan{
		Schema: schema, Table: table, Columns: columns, Returning: returning,
		MaxRowsPerStatement: maxRowsPerStatement, MaxSQLBytes: maxSQLBytes,
	}, nil
}

// insertableColumns returns Columns with identity columns omitted, per
// spec §4.11.
func (p *InsertPlan) insertableColumns() []Column {
	out := make([]Column, 0, len(p.Columns))
	for _, c := range p.Columns {
		if !c.Identity {
			out = append(out, c)
		}
	}
	return out
}

// BuildStatements serializes rows (one []string of already-encoded T-SQL
// literals per row, aligned with insertableColumns()) into one or more
// INSERT statements, batched by row/byte caps.
func (p *InsertPlan) BuildStatements(rows [][]string) ([]string, error) {
	cols := p.insertableColumns()
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("writer: row %d has %d values, expected %d", i, len(row), len(cols))
		}
	}

	tuples := make([]string, len(rows))
	for i, row := range rows {
		tuples[i] = "(" + strings.Join(row, ", ") + ")"
	}

	batcher := RowBatcher{MaxRows: p.MaxRowsPerStatement, MaxBytes: p.MaxSQLBytes}
	batches, err := batcher.Batches(tuples)
	if err != nil {
		return nil, err
	}

	colList := make([]string, len(cols))
	for i, c := range cols {
		colList[i] = typemap.EscapeIdentifier(c.Name)
	}

	var outputClause string
	if len(p.Returning) > 0 {
		outCols := make([]string, len(p.Returning))
		for i, name := range p.Returning {
			outCols[i] = "INSERTED." + typemap.EscapeIdentifier(name)
		}
		outputClause = " OUTPUT " + strings.Join(outCols, ", ")
	}

	table := fmt.Sprintf("%s.%s", typemap.EscapeIdentifier(p.Schema), typemap.EscapeIdentifier(p.Table))
	stmts := make([]string, len(batches))
	for i, batch := range batches {
		stmts[i] = fmt.Sprintf("INSERT INTO %s (%s)%s VALUES %s;",
			table, strings.Join(colList, ", "), outputClause, strings.Join(batch, ", "))
	}
	return stmts, nil
}
