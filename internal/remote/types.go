// Package remote wraps the AWS SDK v2 DynamoDB client behind the operations
// this driver needs (ExecuteStatement, DescribeTable, ListTables, plus Scan,
// Ping, ExecuteTransaction and ExecuteStatementWithParams),
// translating between dynamodb/types.AttributeValue and the tagged Value
// model spec.md §3 describes. Grounded on the teacher's
// internal/repository/ddb/ddb.go, which shows the same
// attributevalue.MarshalMap/UnmarshalMap and aws.String idiom this package
// uses, generalized from fixed domain structs (ddbNode/ddbEdge) to the
// schemaless tagged-value model a SQL-over-DynamoDB driver needs.
package remote

// Tag identifies the DynamoDB attribute-value variant carried by a Value.
type Tag string

const (
	TagString Tag = "S"
	TagNumber Tag = "N"
	TagBool   Tag = "BOOL"
	TagBinary Tag = "B"
	TagNull   Tag = "NULL"
	TagStringSet Tag = "SS"
	TagNumberSet Tag = "NS"
	TagList      Tag = "L"
	TagMap       Tag = "M"
)

// Value is a tagged DynamoDB attribute value (spec.md §3).
type Value struct {
	Tag    Tag
	S      string
	N      string
	Bool   bool
	B      []byte
	SS     []string
	NS     []string
	L      []Value
	M      map[string]Value
}

// Item is a single DynamoDB item: attribute name -> tagged value.
type Item map[string]Value

// PageResponse is one page of a PartiQL ExecuteStatement call (spec.md §3).
type PageResponse struct {
	Items             []Item
	NextToken         string
	ConsumedCapacity  float64
}

// KeySchemaElement describes one component of a table's primary key.
type KeySchemaElement struct {
	AttributeName string
	KeyType       string // "HASH" or "RANGE"
}

// AttributeDefinition describes a declared attribute's scalar type.
type AttributeDefinition struct {
	AttributeName string
	AttributeType string // "S", "N", or "B"
}

// SecondaryIndex describes a GSI or LSI.
type SecondaryIndex struct {
	IndexName string
	KeySchema []KeySchemaElement
}

// TableDescription is the subset of DescribeTable this driver consumes.
type TableDescription struct {
	TableName             string
	KeySchema             []KeySchemaElement
	AttributeDefinitions  []AttributeDefinition
	GlobalSecondaryIndexes []SecondaryIndex
	LocalSecondaryIndexes  []SecondaryIndex
	ItemCount             int64
}
