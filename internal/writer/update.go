// SPDX-License-Identifier: GPL-3.0-or-later
//
// New code per spec §4.11's UPDATE (VALUES-join mode) template.
package writer

import (
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/internal/typemap"
)

// UpdatePlan builds a VALUES-join UPDATE statement for one table.
type UpdatePlan struct {
	Schema        string
	Table         string
	PrimaryKey    []string // key-ordinal order
	SetColumns    []string
}

// NewUpdatePlan rejects at plan time if any PK column is also targeted
// for update, or if the table has no primary key, per spec §4.11.
func NewUpdatePlan(schema, table string, primaryKey, setColumns []string) (*UpdatePlan, error) {
	if len(primaryKey) == 0 {
		return nil, fmt.Errorf("writer: UPDATE/DELETE requires a primary key")
	}
	pkSet := make(map[string]bool, len(primaryKey))
	for _, c := range primaryKey {
		pkSet[strings.ToLower(c)] = true
	}
	for _, c := range setColumns {
		if pkSet[strings.ToLower(c)] {
			return nil, fmt.Errorf("writer: updating primary key columns is not supported")
		}
	}
	return &UpdatePlan{Schema: schema, Table: table, PrimaryKey: primaryKey, SetColumns: setColumns}, nil
}

// BuildStatement serializes rows (each []string holding PK literals
// followed by SetColumns literals, in that order) into one VALUES-join
// UPDATE statement.
func (p *UpdatePlan) BuildStatement(rows [][]string) (string, error) {
	width := len(p.PrimaryKey) + len(p.SetColumns)
	for i, row := range rows {
		if len(row) != width {
			return "", fmt.Errorf("writer: row %d has %d values, expected %d", i, len(row), width)
		}
	}

	table := fmt.Sprintf("%s.%s", typemap.EscapeIdentifier(p.Schema), typemap.EscapeIdentifier(p.Table))

	vColumns := make([]string, 0, width)
	for _, c := range p.PrimaryKey {
		vColumns = append(vColumns, typemap.EscapeIdentifier(c))
	}
	for _, c := range p.SetColumns {
		vColumns = append(vColumns, typemap.EscapeIdentifier(c))
	}

	tuples := make([]string, len(rows))
	for i, row := range rows {
		tuples[i] = "(" + strings.Join(row, ", ") + ")"
	}

	setClauses := make([]string, len(p.SetColumns))
	for i, c := range p.SetColumns {
		ident := typemap.EscapeIdentifier(c)
		setClauses[i] = fmt.Sprintf("t.%s = v.%s", ident, ident)
	}

	onClauses := make([]string, len(p.PrimaryKey))
	for i, c := range p.PrimaryKey {
		ident := typemap.EscapeIdentifier(c)
		onClauses[i] = fmt.Sprintf("t.%s = v.%s", ident, ident)
	}

	return fmt.Sprintf(
		"UPDATE t\nSET %s\nFROM %s AS t\nJOIN (VALUES %s) AS v(%s)\nON %s;",
		strings.Join(setClauses, ", "), table, strings.Join(tuples, ", "),
		strings.Join(vColumns, ", "), strings.Join(onClauses, " AND "),
	), nil
}
