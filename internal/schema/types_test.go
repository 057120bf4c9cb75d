package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver_SingleTypeNoNulls(t *testing.T) {
	o := NewObserver("orders")
	o.Observe("total", SQLNumeric)
	o.Observe("total", SQLNumeric)
	o.Observe("total", SQLNumeric)

	cols := o.Resolve("sampling")
	col, ok := cols["total"]
	require.True(t, ok)
	assert.Equal(t, SQLNumeric, col.ResolvedSQLType)
	assert.False(t, col.Nullable)
	assert.False(t, col.HasTypeConflict)
	assert.Equal(t, 1.0, col.TypeConfidence)
	assert.Equal(t, "sampling", col.DiscoverySource)
}

func TestObserver_ConflictAlwaysCollapsesToVarcharRegardlessOfCount(t *testing.T) {
	o := NewObserver("orders")
	// Numeric observed far more often, but any multi-type conflict collapses
	// to VARCHAR, the universal textual form.
	o.Observe("amount", SQLNumeric)
	o.Observe("amount", SQLNumeric)
	o.Observe("amount", SQLNumeric)
	o.Observe("amount", SQLVarchar)

	cols := o.Resolve("sampling")
	col := cols["amount"]
	assert.True(t, col.HasTypeConflict)
	assert.Equal(t, SQLVarchar, col.ResolvedSQLType, "multi-type conflicts must collapse to VARCHAR")
}

func TestObserver_BinaryBooleanConflictCollapsesToVarchar(t *testing.T) {
	o := NewObserver("orders")
	o.Observe("x", SQLBoolean)
	o.Observe("x", SQLBoolean)
	o.Observe("x", SQLBinary)

	cols := o.Resolve("sampling")
	col := cols["x"]
	// {BINARY, BOOLEAN} is a conflict like any other multi-type case: it
	// collapses to VARCHAR rather than to whichever type is most observed.
	assert.True(t, col.HasTypeConflict)
	assert.Equal(t, SQLVarchar, col.ResolvedSQLType)
}

func TestObserver_AllNullColumnResolvesToNull(t *testing.T) {
	o := NewObserver("orders")
	o.ObserveAbsentOrNull("deleted_at")
	o.ObserveAbsentOrNull("deleted_at")

	cols := o.Resolve("sampling")
	col := cols["deleted_at"]
	assert.Equal(t, SQLNull, col.ResolvedSQLType)
	assert.True(t, col.Nullable)
	assert.Equal(t, 0.0, col.TypeConfidence)
}

func TestObserver_MixedNullAndTypedObservationsIsNullable(t *testing.T) {
	o := NewObserver("orders")
	o.Observe("email", SQLVarchar)
	o.ObserveAbsentOrNull("email")

	cols := o.Resolve("sampling")
	col := cols["email"]
	assert.True(t, col.Nullable)
	assert.Equal(t, SQLVarchar, col.ResolvedSQLType)
	assert.Equal(t, 1.0, col.TypeConfidence, "confidence is computed over non-null observations only")
}

func TestSQLTypeForTag(t *testing.T) {
	cases := map[string]SQLType{
		"S":    SQLVarchar,
		"N":    SQLNumeric,
		"BOOL": SQLBoolean,
		"B":    SQLBinary,
		"SS":   SQLArray,
		"NS":   SQLArray,
		"L":    SQLArray,
		"M":    SQLStruct,
		"NULL": SQLNull,
		"???":  SQLVarchar,
	}
	for tag, want := range cases {
		assert.Equal(t, want, SQLTypeForTag(tag), "tag %q", tag)
	}
}

func TestDefaultColumnSize(t *testing.T) {
	assert.Equal(t, 2048, defaultColumnSize(SQLVarchar))
	assert.Equal(t, 2048, defaultColumnSize(SQLClob))
	assert.Equal(t, 38, defaultColumnSize(SQLNumeric))
	assert.Equal(t, 1, defaultColumnSize(SQLBoolean))
	assert.Equal(t, 1024, defaultColumnSize(SQLBinary))
	assert.Equal(t, 0, defaultColumnSize(SQLStruct))
}
