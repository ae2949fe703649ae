package notify

import (
	"context"

	"PointsSettlement/internal/logger"
)

const (
	TemplateOrderActivated = "order_activated"
	TemplateOrderFailed    = "order_failed"
	TemplatePointsRefunded = "points_refunded"
)

// Sink delivers user notifications. Delivery is best-effort and happens
// after the financial commit.
type Sink interface {
	Send(ctx context.Context, userID int64, templateID string, payload map[string]any) error
}

// LogSink only logs notifications; used when no broker is configured.
type LogSink struct{}

func (LogSink) Send(_ context.Context, userID int64, templateID string, payload map[string]any) error {
	logger.Info("notification", "user_id", userID, "template", templateID, "payload", payload)
	return nil
}
