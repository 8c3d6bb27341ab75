package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceDataRoundTrip(t *testing.T) {
	assert.Nil(t, GetTraceData(context.Background()))
	assert.Nil(t, GetTraceData(nil))

	ctx := WithTraceData(context.Background(), &TraceData{TraceID: "t1", RequestID: "r1"})
	td := GetTraceData(ctx)
	if assert.NotNil(t, td) {
		assert.Equal(t, "t1", td.TraceID)
		assert.Equal(t, "r1", td.RequestID)
	}
}

func TestDefault(t *testing.T) {
	assert.NotNil(t, Default(nil))
	ctx := context.WithValue(context.Background(), traceDataKey{}, nil)
	assert.Equal(t, ctx, Default(ctx))
}
