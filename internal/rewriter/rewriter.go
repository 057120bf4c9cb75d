// Package rewriter implements the Query Rewriter (C1): it extracts/strips
// LIMIT/OFFSET, normalizes "table.index" FROM/JOIN syntax, and classifies the
// statement kind. Grounded on the teacher's Pagination/PageRequest validation
// style (internal/repository/pagination.go Validate/GetEffectiveLimit) —
// same "clamp and report, don't silently misbehave" posture, applied to SQL
// text instead of a struct.
package rewriter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StatementKind classifies the leading keyword of a statement.
type StatementKind string

const (
	KindSelect StatementKind = "SELECT"
	KindInsert StatementKind = "INSERT"
	KindUpdate StatementKind = "UPDATE"
	KindDelete StatementKind = "DELETE"
	KindUpsert StatementKind = "UPSERT"
	KindReplace StatementKind = "REPLACE"
	KindOther  StatementKind = "OTHER"
)

// IsDML reports whether the statement kind mutates data.
func (k StatementKind) IsDML() bool {
	switch k {
	case KindInsert, KindUpdate, KindDelete, KindUpsert, KindReplace:
		return true
	}
	return false
}

const (
	maxLimit  = 1_000_000
	maxOffset = 10_000_000
	// DefaultOffsetWarnThreshold is the default warnThreshold of spec.md §4.1.
	DefaultOffsetWarnThreshold = 1000
)

// Rewritten is the output of Rewrite: the cleaned SQL plus everything
// extracted from the original text.
type Rewritten struct {
	CleanedSQL          string
	Limit               *int
	Offset              *int
	StatementKind       StatementKind
	IndexSyntaxRewrites int
	LargeOffsetWarning  string // non-empty if OFFSET exceeded warnThreshold
}

var (
	// Matches a trailing "LIMIT n [OFFSET m]" clause.
	limitThenOffsetRe = regexp.MustCompile(`(?is)\s+LIMIT\s+(-?\d+)(?:\s+OFFSET\s+(-?\d+))?\s*;?\s*$`)
	// Matches a trailing "OFFSET m LIMIT n" clause.
	offsetThenLimitRe = regexp.MustCompile(`(?is)\s+OFFSET\s+(-?\d+)\s+LIMIT\s+(-?\d+)\s*;?\s*$`)
	// Matches a trailing standalone "OFFSET m".
	standaloneOffsetRe = regexp.MustCompile(`(?is)\s+OFFSET\s+(-?\d+)\s*;?\s*$`)

	// Matches FROM/JOIN "table.index" and rewrites to "table"."index".
	fromIndexRe = regexp.MustCompile(`(?i)(FROM|JOIN)\s+"([^".]+)\.([^"]+)"`)
	leadingKeywordRe = regexp.MustCompile(`(?i)^\s*([A-Za-z]+)`)
)

// Rewrite applies C1's rewrite to raw SQL text.
func Rewrite(sql string, warnThreshold int) (Rewritten, error) {
	if warnThreshold <= 0 {
		warnThreshold = DefaultOffsetWarnThreshold
	}

	out := Rewritten{StatementKind: classify(sql)}
	cleaned := sql

	switch {
	case offsetThenLimitRe.MatchString(cleaned):
		m := offsetThenLimitRe.FindStringSubmatch(cleaned)
		offset, err := strconv.Atoi(m[1])
		if err != nil {
			return Rewritten{}, fmt.Errorf("rewriter: invalid OFFSET: %w", err)
		}
		limit, err := strconv.Atoi(m[2])
		if err != nil {
			return Rewritten{}, fmt.Errorf("rewriter: invalid LIMIT: %w", err)
		}
		if err := validateLimitOffset(limit, offset); err != nil {
			return Rewritten{}, err
		}
		out.Limit = &limit
		out.Offset = &offset
		cleaned = offsetThenLimitRe.ReplaceAllString(cleaned, "")

	case limitThenOffsetRe.MatchString(cleaned):
		m := limitThenOffsetRe.FindStringSubmatch(cleaned)
		limit, err := strconv.Atoi(m[1])
		if err != nil {
			return Rewritten{}, fmt.Errorf("rewriter: invalid LIMIT: %w", err)
		}
		offset := 0
		hasOffset := m[2] != ""
		if hasOffset {
			offset, err = strconv.Atoi(m[2])
			if err != nil {
				return Rewritten{}, fmt.Errorf("rewriter: invalid OFFSET: %w", err)
			}
		}
		if err := validateLimitOffset(limit, offset); err != nil {
			return Rewritten{}, err
		}
		out.Limit = &limit
		if hasOffset {
			out.Offset = &offset
		}
		cleaned = limitThenOffsetRe.ReplaceAllString(cleaned, "")

	case standaloneOffsetRe.MatchString(cleaned):
		m := standaloneOffsetRe.FindStringSubmatch(cleaned)
		offset, err := strconv.Atoi(m[1])
		if err != nil {
			return Rewritten{}, fmt.Errorf("rewriter: invalid OFFSET: %w", err)
		}
		if err := validateLimitOffset(0, offset); err != nil {
			return Rewritten{}, err
		}
		out.Offset = &offset
		cleaned = standaloneOffsetRe.ReplaceAllString(cleaned, "")
	}

	cleaned, rewrites := normalizeIndexSyntax(cleaned)
	out.IndexSyntaxRewrites = rewrites
	out.CleanedSQL = strings.TrimRight(cleaned, " \t\n;")

	if out.Offset != nil && *out.Offset > warnThreshold {
		out.LargeOffsetWarning = fmt.Sprintf("OFFSET %d exceeds recommended threshold %d; large offsets scan and discard rows", *out.Offset, warnThreshold)
	}

	return out, nil
}

func validateLimitOffset(limit, offset int) error {
	if limit < 0 {
		return fmt.Errorf("rewriter: LIMIT must not be negative, got %d", limit)
	}
	if offset < 0 {
		return fmt.Errorf("rewriter: OFFSET must not be negative, got %d", offset)
	}
	if limit > maxLimit {
		return fmt.Errorf("rewriter: LIMIT %d exceeds maximum %d", limit, maxLimit)
	}
	if offset > maxOffset {
		return fmt.Errorf("rewriter: OFFSET %d exceeds maximum %d", offset, maxOffset)
	}
	return nil
}

// normalizeIndexSyntax rewrites FROM/JOIN "table.index" to "table"."index",
// degrading to the base table when the index token is PRIMARY.
func normalizeIndexSyntax(sql string) (string, int) {
	count := 0
	out := fromIndexRe.ReplaceAllStringFunc(sql, func(match string) string {
		m := fromIndexRe.FindStringSubmatch(match)
		clause, table, index := m[1], m[2], m[3]
		count++
		if strings.EqualFold(index, "PRIMARY") {
			return fmt.Sprintf(`%s "%s"`, clause, table)
		}
		return fmt.Sprintf(`%s "%s"."%s"`, clause, table, index)
	})
	return out, count
}

func classify(sql string) StatementKind {
	m := leadingKeywordRe.FindStringSubmatch(sql)
	if m == nil {
		return KindOther
	}
	switch strings.ToUpper(m[1]) {
	case "SELECT":
		return KindSelect
	case "INSERT":
		return KindInsert
	case "UPDATE":
		return KindUpdate
	case "DELETE":
		return KindDelete
	case "UPSERT":
		return KindUpsert
	case "REPLACE":
		return KindReplace
	default:
		return KindOther
	}
}
