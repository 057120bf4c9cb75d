package schema

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ddbsql/ddbsql/internal/observability"
	"github.com/ddbsql/ddbsql/internal/remote"
)

// SampleStrategy selects C6's scan pattern.
type SampleStrategy string

const (
	StrategyRandom     SampleStrategy = "RANDOM"
	StrategySequential SampleStrategy = "SEQUENTIAL"
	StrategyAuto       SampleStrategy = "AUTO"
)

// SamplePolicy is the input policy of spec.md §4.6.
type SamplePolicy struct {
	Strategy   SampleStrategy
	SampleSize int
}

// Sampler issues bounded scans against a remote table and emits
// per-column metadata (C6).
type Sampler struct {
	client *remote.Client
	logger *zap.Logger
}

func NewSampler(client *remote.Client, logger *zap.Logger) *Sampler {
	return &Sampler{client: client, logger: observability.WithFallback(logger)}
}

// Sample implements spec.md §4.6's AUTO fallback chain: hints from
// DescribeTable, then a bounded scan, then declared-key-only metadata.
// Failures classified as recoverable return partial/empty metadata instead
// of propagating, matching "Discovery partial-failure" in spec.md §7.
func (s *Sampler) Sample(ctx context.Context, table string, policy SamplePolicy) (ColumnMap, error) {
	strategy := policy.Strategy
	if strategy == "" || strategy == StrategyAuto {
		strategy = s.chooseStrategy(ctx, table)
	}

	if cols := s.tryHints(ctx, table); len(cols) > 0 {
		return cols, nil
	}

	cols, err := s.tryScan(ctx, table, policy.SampleSize, strategy)
	if err != nil {
		s.logger.Warn("sampling scan failed, falling back to declared-key metadata",
			zap.String("table", table), zap.Error(err))
		return s.declaredKeyOnly(ctx, table)
	}
	if len(cols) > 0 {
		return cols, nil
	}

	return s.declaredKeyOnly(ctx, table)
}

// chooseStrategy implements the AUTO heuristic: small tables with no global
// secondary index get a SEQUENTIAL scan (a full pass is cheap and gives a
// stable sample); everything else gets RANDOM to avoid skew from hot
// partitions.
func (s *Sampler) chooseStrategy(ctx context.Context, table string) SampleStrategy {
	desc, err := s.client.DescribeTable(ctx, table)
	if err != nil {
		return StrategyRandom
	}
	const smallTableThreshold = 10_000
	if desc.ItemCount > 0 && desc.ItemCount < smallTableThreshold && len(desc.GlobalSecondaryIndexes) == 0 {
		return StrategySequential
	}
	return StrategyRandom
}

// tryHints infers columns purely from DescribeTable's key schema and
// attribute definitions, with no item scan at all — the cheapest rung of
// the fallback chain.
func (s *Sampler) tryHints(ctx context.Context, table string) ColumnMap {
	desc, err := s.client.DescribeTable(ctx, table)
	if err != nil {
		return nil
	}
	if len(desc.AttributeDefinitions) == 0 {
		return nil
	}

	observer := NewObserver(table)
	for _, attr := range desc.AttributeDefinitions {
		observer.Observe(attr.AttributeName, scalarTypeToSQL(attr.AttributeType))
	}
	cols := observer.Resolve("hints")
	markKeyColumns(cols, desc)
	return cols
}

// tryScan streams up to sampleSize items through an Observer, using
// ExecuteStatement's SELECT * for SEQUENTIAL and a bounded Scan for RANDOM
// (DynamoDB's Scan inherently samples hash-spread, unordered partitions).
func (s *Sampler) tryScan(ctx context.Context, table string, sampleSize int, strategy SampleStrategy) (ColumnMap, error) {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	observer := NewObserver(table)
	knownColumns := make(map[string]struct{})
	collected := 0
	nextToken := ""

	for collected < sampleSize {
		batch := int32(sampleSize - collected)
		var page remote.PageResponse
		var err error
		switch strategy {
		case StrategySequential:
			page, err = s.client.ExecuteStatement(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, table), nextToken, batch)
		default:
			page, err = s.client.Scan(ctx, table, batch)
		}
		if err != nil {
			if collected > 0 {
				break // recoverable: keep what we already sampled
			}
			return nil, err
		}
		for _, item := range page.Items {
			observeItem(observer, item, knownColumns)
		}
		collected += len(page.Items)
		nextToken = page.NextToken
		if nextToken == "" || len(page.Items) == 0 {
			break
		}
	}

	return observer.Resolve("sampling"), nil
}

// declaredKeyOnly is the last rung of the fallback chain: metadata derived
// purely from the table's declared key attributes, used when sampling
// yields nothing (empty table, permission-limited scan, etc).
func (s *Sampler) declaredKeyOnly(ctx context.Context, table string) (ColumnMap, error) {
	desc, err := s.client.DescribeTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("schema: declared-key fallback failed for %q: %w", table, err)
	}
	observer := NewObserver(table)
	for _, k := range desc.KeySchema {
		attrType := "S"
		for _, a := range desc.AttributeDefinitions {
			if a.AttributeName == k.AttributeName {
				attrType = a.AttributeType
			}
		}
		observer.Observe(k.AttributeName, scalarTypeToSQL(attrType))
	}
	cols := observer.Resolve("declared-key")
	markKeyColumns(cols, desc)
	return cols, nil
}

// observeItem records one item against observer. knownColumns is the union
// of attribute names seen so far across the sample: any column already known
// but absent from this item is counted as a null observation, per spec.md
// §4.5 ("if the attribute is absent ... increment nullObservations"), rather
// than silently skipped. A column first seen on this item has no null
// observations backfilled for items already processed before it was known.
func observeItem(observer *Observer, item remote.Item, knownColumns map[string]struct{}) {
	for name := range knownColumns {
		if _, present := item[name]; !present {
			observer.ObserveAbsentOrNull(name)
		}
	}
	for name, val := range item {
		knownColumns[name] = struct{}{}
		if val.Tag == remote.TagNull {
			observer.ObserveAbsentOrNull(name)
			continue
		}
		observer.Observe(name, SQLTypeForTag(string(val.Tag)))
	}
}

func scalarTypeToSQL(attrType string) SQLType {
	switch attrType {
	case "S":
		return SQLVarchar
	case "N":
		return SQLNumeric
	case "B":
		return SQLBinary
	default:
		return SQLVarchar
	}
}

func markKeyColumns(cols ColumnMap, desc remote.TableDescription) {
	for _, k := range desc.KeySchema {
		if col, ok := cols[k.AttributeName]; ok {
			col.Nullable = false
		}
	}
}
