package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeletePlanRejectsMissingPrimaryKey(t *testing.T) {
	_, err := NewDeletePlan("dbo", "Orders", nil)
	assert.Error(t, err)
}

func TestDeletePlanBuildStatement(t *testing.T) {
	p, err := NewDeletePlan("dbo", "Orders", []string{"id"})
	require.NoError(t, err)

	stmt, err := p.BuildStatement([][]string{{"1"}, {"2"}})
	require.NoError(t, err)
	assert.Equal(t,
		"DELETE t\n"+
			"FROM [dbo].[Orders] AS t\n"+
			"JOIN (VALUES (1), (2)) AS v([id])\n"+
			"ON t.[id] = v.[id];",
		stmt)
}

func TestDeletePlanRejectsMismatchedRowWidth(t *testing.T) {
	p, err := NewDeletePlan("dbo", "Orders", []string{"id"})
	require.NoError(t, err)

	_, err = p.BuildStatement([][]string{{"1", "2"}})
	assert.Error(t, err)
}
