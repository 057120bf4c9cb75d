package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStartSpan_FinishRecordsErrorWithoutPanicking(t *testing.T) {
	ctx, finish := StartSpan(context.Background(), "ddbsql.test")
	assert.NotNil(t, ctx)

	err := errors.New("boom")
	assert.NotPanics(t, func() { finish(&err) })
}

func TestStartSpan_FinishWithNoErrorIsFine(t *testing.T) {
	_, finish := StartSpan(context.Background(), "ddbsql.test")
	var err error
	assert.NotPanics(t, func() { finish(&err) })
}
