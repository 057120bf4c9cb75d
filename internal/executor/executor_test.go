package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ddbsql/ddbsql/internal/rewriter"
)

func limitPtr(n int) *int { return &n }

func TestEffectivePageLimit_SQLLimitBeatsMaxRowsAndFetchSize(t *testing.T) {
	e := &Executor{cfg: Config{FetchSize: 50, MaxRows: 20}}
	got := e.effectivePageLimit(rewriter.Rewritten{Limit: limitPtr(5)})
	assert.Equal(t, 5, got)
}

func TestEffectivePageLimit_SQLLimitClampedByFetchSize(t *testing.T) {
	e := &Executor{cfg: Config{FetchSize: 10}}
	got := e.effectivePageLimit(rewriter.Rewritten{Limit: limitPtr(100)})
	assert.Equal(t, 10, got)
}

func TestEffectivePageLimit_FallsBackToMaxRowsThenFetchSize(t *testing.T) {
	e := &Executor{cfg: Config{FetchSize: 50, MaxRows: 30}}
	assert.Equal(t, 30, e.effectivePageLimit(rewriter.Rewritten{}))

	e2 := &Executor{cfg: Config{FetchSize: 50}}
	assert.Equal(t, 50, e2.effectivePageLimit(rewriter.Rewritten{}))
}

func TestExtractFilters_MultipleEqualityPredicates(t *testing.T) {
	sql := `SELECT * FROM information_schema.columns WHERE table_name = 'Orders' AND column_name = 'id'`
	got := extractFilters(sql)
	assert.Equal(t, "Orders", got["table_name"])
	assert.Equal(t, "id", got["column_name"])
}

func TestExtractTableName_QuotedAndUnquoted(t *testing.T) {
	assert.Equal(t, "Orders", extractTableName(`SELECT * FROM "Orders"`))
	assert.Equal(t, "Orders", extractTableName(`SELECT * FROM Orders`))
	assert.Equal(t, "Orders", extractTableName(`SELECT * FROM "Orders"."idx1"`))
	assert.Equal(t, "", extractTableName(`SELECT 1`))
}

func TestIsSimpleSingleTableSelect_PlainScanIsEligible(t *testing.T) {
	assert.True(t, isSimpleSingleTableSelect(`SELECT * FROM "Orders"`))
	assert.True(t, isSimpleSingleTableSelect(`SELECT * FROM "Orders" WHERE "id" = 1`))
}

func TestIsSimpleSingleTableSelect_ExcludesJoinGroupUnionAggregate(t *testing.T) {
	assert.False(t, isSimpleSingleTableSelect(`SELECT * FROM "Orders" JOIN "Customers" ON "Orders"."custId" = "Customers"."id"`))
	assert.False(t, isSimpleSingleTableSelect(`SELECT "status", COUNT(*) FROM "Orders" GROUP BY "status"`))
	assert.False(t, isSimpleSingleTableSelect(`SELECT * FROM "Orders" UNION SELECT * FROM "Archive"`))
	assert.False(t, isSimpleSingleTableSelect(`SELECT SUM("total") FROM "Orders"`))
}
