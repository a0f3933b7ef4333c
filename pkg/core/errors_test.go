package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crave-labs/cravecore-go/pkg/core"
)

func TestInsightErrorFormat(t *testing.T) {
	err := &core.InsightError{Op: "GenerateInsight", Err: core.ErrInferenceUnreachable}
	assert.Equal(t, "cravecore: GenerateInsight: inference backend unreachable", err.Error())
}

func TestInsightErrorUnwrap(t *testing.T) {
	err := core.NewInsightError("LogCraving", core.ErrInvalidInput)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	var insightErr *core.InsightError
	assert.ErrorAs(t, err, &insightErr)
	assert.Equal(t, "LogCraving", insightErr.Op)
}

func TestNewInsightErrorNil(t *testing.T) {
	assert.Nil(t, core.NewInsightError("Op", nil))
}

func TestInsightErrorWrapsChain(t *testing.T) {
	inner := fmt.Errorf("%w: dial tcp refused", core.ErrInferenceUnreachable)
	err := core.NewInsightError("GenerateInsight", inner)
	assert.True(t, errors.Is(err, core.ErrInferenceUnreachable))
}
