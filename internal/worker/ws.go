package worker

import (
	"context"
	"errors"
	"time"

	"PointsSettlement/internal/logger"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/settlement"
)

const eventsChannel = "transactions"

// RunEvents consumes pushed settlement statuses. Anything missed while
// disconnected is picked up by the reconciliation sweep.
func (w *Worker) RunEvents(ctx context.Context) {
	if len(w.WSEndpoints) == 0 {
		logger.Info("settlement event stream disabled: ws_endpoints is empty")
		return
	}

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		endpoint := w.WSEndpoints[idx%len(w.WSEndpoints)]
		idx++
		client := settlement.NewWSClient(endpoint, w.APIKey)
		if err := client.Connect(ctx); err != nil {
			logger.Warn("ws connect failed", "endpoint", endpoint, "err", err)
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		logger.Info("ws connected", "endpoint", endpoint)

		if err := client.Subscribe(ctx, eventsChannel); err != nil {
			logger.Warn("ws subscribe failed", "endpoint", endpoint, "err", err)
			client.Close()
			sleepCtx(ctx, 3*time.Second)
			continue
		}

		stop := context.AfterFunc(ctx, client.Close)
		for {
			msg, err := client.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("ws read failed", "endpoint", endpoint, "err", err)
				}
				client.Close()
				break
			}
			w.HandleEvent(ctx, msg)
		}
		stop()

		sleepCtx(ctx, 2*time.Second)
	}
}

// HandleEvent ingests one pushed message; non-final and unrelated frames are ignored.
func (w *Worker) HandleEvent(ctx context.Context, msg []byte) {
	detail, ok, err := settlement.ParseEvent(msg)
	if err != nil {
		logger.Warn("ws parse failed", "err", err)
		return
	}
	if !ok {
		return
	}
	outcome, err := models.OutcomeOf(*detail)
	if err != nil {
		if !errors.Is(err, models.ErrNotSettled) {
			logger.Warn("ws event ignored", "order_id", detail.OrderID, "err", err)
		}
		return
	}
	if _, err := w.Settlement.Ingest(ctx, outcome); err != nil {
		logger.Error("ws ingest failed", "order_id", detail.OrderID, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
