// SPDX-License-Identifier: GPL-3.0-or-later
//
// New code per spec §4.11's DELETE (VALUES-join mode) template.
package writer

import (
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/internal/typemap"
)

// DeletePlan builds a VALUES-join DELETE statement for one table.
type DeletePlan struct {
	Schema     string
	Table      string
	PrimaryKey []string
}

// NewDeletePlan rejects at plan time if the table has no primary key.
func NewDeletePlan(schema, table string, primaryKey []string) (*DeletePlan, error) {
	if len(primaryKey) == 0 {
		return nil, fmt.Errorf("writer: UPDATE/DELETE requires a primary key")
	}
	return &DeletePlan{Schema: schema, Table: table, PrimaryKey: primaryKey}, nil
}

// BuildStatement serializes rows (each []string holding PK literals in
// key-ordinal order) into one VALUES-join DELETE statement.
func (p *DeletePlan) BuildStatement(rows [][]string) (string, error) {
	for i, row := range rows {
		if len(row) != len(p.PrimaryKey) {
			return "", fmt.Errorf("writer: row %d has %d values, expected %d", i, len(row), len(p.PrimaryKey))
		}
	}

	table := fmt.Sprintf("%s.%s", typemap.EscapeIdentifier(p.Schema), typemap.EscapeIdentifier(p.Table))

	vColumns := make([]string, len(p.PrimaryKey))
	onClauses := make([]string, len(p.PrimaryKey))
	for i, c := range p.PrimaryKey {
		ident := typemap.EscapeIdentifier(c)
		vColumns[i] = ident
		onClauses[i] = fmt.Sprintf("t.%s = v.%s", ident, ident)
	}

	tuples := make([]string, len(rows))
	for i, row := range rows {
		tuples[i] = "(" + strings.Join(row, ", ") + ")"
	}

	return fmt.Sprintf(
		"DELETE t\nFROM %s AS t\nJOIN (VALUES %s) AS v(%s)\nON %s;",
		table, strings.Join(tuples, ", "), strings.Join(vColumns, ", "), strings.Join(onClauses, " AND "),
	), nil
}
