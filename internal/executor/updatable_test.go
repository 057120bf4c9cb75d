package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdatableHandle_BuildWhereJoinsKeyColumnsInOrder(t *testing.T) {
	u := &UpdatableHandle{table: "Orders", keyColumns: []string{"id", "shard"}}
	where, params, err := u.buildWhere(map[string]interface{}{"id": "o-1", "shard": 3})
	require.NoError(t, err)
	assert.Equal(t, `"id" = ? AND "shard" = ?`, where)
	assert.Equal(t, []interface{}{"o-1", 3}, params)
}

func TestUpdatableHandle_BuildWhereErrorsOnMissingKeyColumn(t *testing.T) {
	u := &UpdatableHandle{table: "Orders", keyColumns: []string{"id"}}
	_, _, err := u.buildWhere(map[string]interface{}{"other": "x"})
	assert.Error(t, err)
}

func TestUpdatableHandle_UpdateRowNoopOnEmptySets(t *testing.T) {
	u := &UpdatableHandle{table: "Orders", keyColumns: []string{"id"}}
	err := u.UpdateRow(nil, map[string]interface{}{"id": "o-1"}, nil)
	assert.NoError(t, err, "an empty set list must be a no-op and never touch the retry engine or remote client")
}
