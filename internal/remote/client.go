package remote

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client is the thin seam between this driver and the AWS SDK v2 DynamoDB
// client. It is the only package in this module that imports
// aws-sdk-go-v2/service/dynamodb directly, mirroring the teacher's comment
// "This is the only layer that should have knowledge of DynamoDB specifics"
// (internal/repository/ddb/ddb.go).
type Client struct {
	sdk *dynamodb.Client
}

func New(sdk *dynamodb.Client) *Client {
	return &Client{sdk: sdk}
}

// ExecuteStatement runs one PartiQL statement and returns a single page.
// limit bounds the number of items DynamoDB returns for this page; nextToken
// resumes a previous page when non-empty.
func (c *Client) ExecuteStatement(ctx context.Context, statement string, nextToken string, limit int32) (PageResponse, error) {
	input := &dynamodb.ExecuteStatementInput{
		Statement: aws.String(statement),
	}
	if nextToken != "" {
		input.NextToken = aws.String(nextToken)
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	out, err := c.sdk.ExecuteStatement(ctx, input)
	if err != nil {
		return PageResponse{}, fmt.Errorf("remote: ExecuteStatement failed: %w", err)
	}

	items := make([]Item, 0, len(out.Items))
	for _, raw := range out.Items {
		item, convErr := fromAttributeValueMap(raw)
		if convErr != nil {
			return PageResponse{}, fmt.Errorf("remote: decoding item: %w", convErr)
		}
		items = append(items, item)
	}

	resp := PageResponse{Items: items}
	if out.NextToken != nil {
		resp.NextToken = *out.NextToken
	}
	if out.ConsumedCapacity != nil && out.ConsumedCapacity.CapacityUnits != nil {
		resp.ConsumedCapacity = *out.ConsumedCapacity.CapacityUnits
	}
	return resp, nil
}

// DescribeTable returns key schema, attribute definitions, and index
// metadata for schema hinting (C6's hints-based inference fallback).
func (c *Client) DescribeTable(ctx context.Context, tableName string) (TableDescription, error) {
	out, err := c.sdk.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err != nil {
		return TableDescription{}, fmt.Errorf("remote: DescribeTable failed for %q: %w", tableName, err)
	}
	td := out.Table
	desc := TableDescription{TableName: tableName}
	if td.ItemCount != nil {
		desc.ItemCount = *td.ItemCount
	}
	for _, k := range td.KeySchema {
		desc.KeySchema = append(desc.KeySchema, KeySchemaElement{
			AttributeName: aws.ToString(k.AttributeName),
			KeyType:       string(k.KeyType),
		})
	}
	for _, a := range td.AttributeDefinitions {
		desc.AttributeDefinitions = append(desc.AttributeDefinitions, AttributeDefinition{
			AttributeName: aws.ToString(a.AttributeName),
			AttributeType: string(a.AttributeType),
		})
	}
	for _, gsi := range td.GlobalSecondaryIndexes {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, toSecondaryIndex(aws.ToString(gsi.IndexName), gsi.KeySchema))
	}
	for _, lsi := range td.LocalSecondaryIndexes {
		desc.LocalSecondaryIndexes = append(desc.LocalSecondaryIndexes, toSecondaryIndex(aws.ToString(lsi.IndexName), lsi.KeySchema))
	}
	return desc, nil
}

func toSecondaryIndex(name string, keys []ddbtypes.KeySchemaElement) SecondaryIndex {
	si := SecondaryIndex{IndexName: name}
	for _, k := range keys {
		si.KeySchema = append(si.KeySchema, KeySchemaElement{AttributeName: aws.ToString(k.AttributeName), KeyType: string(k.KeyType)})
	}
	return si
}

// Ping issues a minimal, single-page ListTables call to validate that the
// underlying client can still reach the service. Used by the connection
// pool's testOnBorrow/testOnReturn/testWhileIdle validation (C11).
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.sdk.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("remote: ping failed: %w", err)
	}
	return nil
}

// ListTables returns all table names visible to this client, paginating
// through ExclusiveStartTableName as needed.
func (c *Client) ListTables(ctx context.Context, filterPrefix string) ([]string, error) {
	var names []string
	var startTable *string
	for {
		out, err := c.sdk.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: startTable})
		if err != nil {
			return nil, fmt.Errorf("remote: ListTables failed: %w", err)
		}
		for _, n := range out.TableNames {
			if filterPrefix == "" || hasPrefix(n, filterPrefix) {
				names = append(names, n)
			}
		}
		if out.LastEvaluatedTableName == nil {
			break
		}
		startTable = out.LastEvaluatedTableName
	}
	return names, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Scan issues a bounded Scan, used by the C6 sampler's fallback path when
// ExecuteStatement-based sampling isn't appropriate (e.g. a table with a
// composite key where PartiQL SELECT * would still require a full scan
// anyway, but the caller wants a raw item projection for sampling).
func (c *Client) Scan(ctx context.Context, tableName string, limit int32) (PageResponse, error) {
	out, err := c.sdk.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(tableName),
		Limit:     aws.Int32(limit),
	})
	if err != nil {
		return PageResponse{}, fmt.Errorf("remote: Scan failed for %q: %w", tableName, err)
	}
	items := make([]Item, 0, len(out.Items))
	for _, raw := range out.Items {
		item, convErr := fromAttributeValueMap(raw)
		if convErr != nil {
			return PageResponse{}, fmt.Errorf("remote: decoding scanned item: %w", convErr)
		}
		items = append(items, item)
	}
	return PageResponse{Items: items}, nil
}

func fromAttributeValueMap(raw map[string]ddbtypes.AttributeValue) (Item, error) {
	item := make(Item, len(raw))
	for k, v := range raw {
		val, err := fromAttributeValue(v)
		if err != nil {
			return nil, err
		}
		item[k] = val
	}
	return item, nil
}

func fromAttributeValue(av ddbtypes.AttributeValue) (Value, error) {
	switch t := av.(type) {
	case *ddbtypes.AttributeValueMemberS:
		return Value{Tag: TagString, S: t.Value}, nil
	case *ddbtypes.AttributeValueMemberN:
		return Value{Tag: TagNumber, N: t.Value}, nil
	case *ddbtypes.AttributeValueMemberBOOL:
		return Value{Tag: TagBool, Bool: t.Value}, nil
	case *ddbtypes.AttributeValueMemberB:
		return Value{Tag: TagBinary, B: t.Value}, nil
	case *ddbtypes.AttributeValueMemberNULL:
		return Value{Tag: TagNull}, nil
	case *ddbtypes.AttributeValueMemberSS:
		return Value{Tag: TagStringSet, SS: t.Value}, nil
	case *ddbtypes.AttributeValueMemberNS:
		return Value{Tag: TagNumberSet, NS: t.Value}, nil
	case *ddbtypes.AttributeValueMemberL:
		list := make([]Value, 0, len(t.Value))
		for _, e := range t.Value {
			v, err := fromAttributeValue(e)
			if err != nil {
				return Value{}, err
			}
			list = append(list, v)
		}
		return Value{Tag: TagList, L: list}, nil
	case *ddbtypes.AttributeValueMemberM:
		m, err := fromAttributeValueMap(t.Value)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: TagMap, M: m}, nil
	default:
		return Value{}, fmt.Errorf("remote: unsupported attribute value type %T", av)
	}
}

// marshalParameters converts Go values passed as ExecuteStatement parameters
// into AttributeValues, for ExecuteStatementWithParams. Its only caller is
// the executor's UPDATE/DELETE write-back path; no INSERT is synthesized.
func marshalParameters(values []interface{}) ([]ddbtypes.AttributeValue, error) {
	params := make([]ddbtypes.AttributeValue, 0, len(values))
	for _, v := range values {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("remote: marshaling parameter %v: %w", v, err)
		}
		params = append(params, av)
	}
	return params, nil
}

// ExecuteTransaction commits a batch of PartiQL statements atomically via
// DynamoDB's native ExecuteTransaction operation — the "remote service's
// native transactional API" spec.md §1's Non-goals point to as the only
// transactional boundary this driver honors.
func (c *Client) ExecuteTransaction(ctx context.Context, statements []string) error {
	stmts := make([]ddbtypes.ParameterizedStatement, 0, len(statements))
	for _, s := range statements {
		stmts = append(stmts, ddbtypes.ParameterizedStatement{Statement: aws.String(s)})
	}
	_, err := c.sdk.ExecuteTransaction(ctx, &dynamodb.ExecuteTransactionInput{
		TransactStatements: stmts,
	})
	if err != nil {
		return fmt.Errorf("remote: ExecuteTransaction failed: %w", err)
	}
	return nil
}

// ExecuteStatementWithParams is used by the updatable result set's
// write-back, which synthesizes UPDATE and DELETE statements only (no INSERT).
func (c *Client) ExecuteStatementWithParams(ctx context.Context, statement string, params []interface{}) error {
	avParams, err := marshalParameters(params)
	if err != nil {
		return err
	}
	_, err = c.sdk.ExecuteStatement(ctx, &dynamodb.ExecuteStatementInput{
		Statement:  aws.String(statement),
		Parameters: avParams,
	})
	if err != nil {
		return fmt.Errorf("remote: ExecuteStatement (write) failed: %w", err)
	}
	return nil
}
