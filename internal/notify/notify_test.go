package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogSink(t *testing.T) {
	var s Sink = LogSink{}
	require.NoError(t, s.Send(context.Background(), 42, TemplateOrderActivated, map[string]any{"orderId": 1}))
}
