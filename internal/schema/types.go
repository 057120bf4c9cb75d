// Package schema implements the Type Resolver & Column Metadata (C5), the
// Schema Sampler (C6), Concurrent Discovery (C7), the Lazy Schema Loader
// (C8), and the Background-Refreshing Schema Cache (C9).
//
// None of these exist in the teacher (2lar-b2 owns a fixed, hand-written
// domain schema — Node/Edge/Category structs — and never infers one from
// live data), so the algorithms here are built directly from spec.md
// §4.5–§4.9. What carries over from the teacher is idiom: the
// per-attribute-observation counters mirror the teacher's metrics Collector
// shape (internal/infrastructure/observability/metrics.go, a struct of
// named counters built up incrementally), and the SQL type names reuse
// database/sql's conventional type-name strings the way the teacher's own
// repository layer names things close to their DynamoDB/SQL counterparts.
package schema

import "sync"

// SQLType is the resolved JDBC/ODBC-style SQL type name (spec.md §4.5).
type SQLType string

const (
	SQLVarchar SQLType = "VARCHAR"
	SQLClob    SQLType = "CLOB"
	SQLNumeric SQLType = "NUMERIC"
	SQLDouble  SQLType = "DOUBLE"
	SQLArray   SQLType = "ARRAY"
	SQLStruct  SQLType = "STRUCT"
	SQLBinary  SQLType = "BINARY"
	SQLBoolean SQLType = "BOOLEAN"
	SQLNull    SQLType = "NULL"
)

// defaultColumnSize implements spec.md §4.5's size defaults by resolved type.
func defaultColumnSize(t SQLType) int {
	switch t {
	case SQLVarchar, SQLClob:
		return 2048
	case SQLNumeric, SQLDouble:
		return 38
	case SQLBoolean:
		return 1
	case SQLBinary:
		return 1024
	default:
		return 0
	}
}

// ColumnMetadata is the per-attribute, per-table record of spec.md §3.
type ColumnMetadata struct {
	TableName          string
	ColumnName         string
	TypeObservations   map[SQLType]int
	TotalObservations  int
	NullObservations   int
	ResolvedSQLType    SQLType
	TypeName           string
	Nullable           bool
	ColumnSize         int
	DecimalDigits      int
	TypeConfidence     float64
	HasTypeConflict    bool
	DiscoverySource    string // "sampling", "hints", or "declared-key"
}

// ColumnMap is a table's full column metadata, keyed by column name.
type ColumnMap map[string]*ColumnMetadata

// Observer accumulates per-attribute type observations across sampled items
// and resolves them into ColumnMetadata (C5). One Observer instance is built
// per table-sampling pass and discarded once Resolve is called.
type Observer struct {
	mu      sync.Mutex
	table   string
	columns map[string]*ColumnMetadata
}

func NewObserver(table string) *Observer {
	return &Observer{table: table, columns: make(map[string]*ColumnMetadata)}
}

// ObserveAbsentOrNull records that columnName was absent from an item or
// explicitly tagged NULL.
func (o *Observer) ObserveAbsentOrNull(columnName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	col := o.columnFor(columnName)
	col.TotalObservations++
	col.NullObservations++
}

// Observe records one non-null observation of sqlType for columnName.
func (o *Observer) Observe(columnName string, sqlType SQLType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	col := o.columnFor(columnName)
	col.TotalObservations++
	col.TypeObservations[sqlType]++
}

func (o *Observer) columnFor(name string) *ColumnMetadata {
	col, ok := o.columns[name]
	if !ok {
		col = &ColumnMetadata{
			TableName:        o.table,
			ColumnName:       name,
			TypeObservations: make(map[SQLType]int),
		}
		o.columns[name] = col
	}
	return col
}

// Resolve finalizes every observed column's ColumnMetadata per the §4.5
// conflict-resolution and nullability/confidence rules, tagging
// DiscoverySource on each.
func (o *Observer) Resolve(source string) ColumnMap {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := make(ColumnMap, len(o.columns))
	for name, col := range o.columns {
		resolveOne(col)
		col.DiscoverySource = source
		result[name] = col
	}
	return result
}

func resolveOne(col *ColumnMetadata) {
	col.Nullable = col.NullObservations > 0 || col.TotalObservations == col.NullObservations
	nonNull := col.TotalObservations - col.NullObservations

	if len(col.TypeObservations) == 0 {
		col.ResolvedSQLType = SQLNull
		col.TypeName = string(SQLNull)
		col.ColumnSize = 0
		col.TypeConfidence = 0
		return
	}

	col.HasTypeConflict = len(col.TypeObservations) > 1

	dominant := SQLType("")
	dominantCount := -1
	for t, count := range col.TypeObservations {
		if count > dominantCount || (count == dominantCount && t < dominant) {
			dominant, dominantCount = t, count
		}
	}

	// A single observed type keeps its type. A multi-type conflict collapses
	// to VARCHAR, the universal textual form every observed value can be
	// represented in, rather than to whichever conflicting type happens to
	// be most common (spec.md §4.5's conflict-resolution property).
	best := dominant
	if col.HasTypeConflict {
		best = SQLVarchar
	}

	col.ResolvedSQLType = best
	col.TypeName = string(best)
	col.ColumnSize = defaultColumnSize(best)
	if nonNull > 0 {
		col.TypeConfidence = float64(dominantCount) / float64(nonNull)
	} else {
		col.TypeConfidence = 0
	}
	if best == SQLNumeric {
		col.DecimalDigits = 0 // always integral; not refined from observed values
	}
}

// SQLTypeForTag maps a remote attribute tag to its SQL type per spec.md
// §4.5's table. Defined here (rather than in package remote) because the
// mapping is a schema-inference concern, not a wire-decoding one.
func SQLTypeForTag(tag string) SQLType {
	switch tag {
	case "S":
		return SQLVarchar
	case "N":
		return SQLNumeric
	case "BOOL":
		return SQLBoolean
	case "B":
		return SQLBinary
	case "SS", "NS", "L":
		return SQLArray
	case "M":
		return SQLStruct
	case "NULL":
		return SQLNull
	default:
		return SQLVarchar
	}
}
