package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type KafkaSink struct {
	w *kafka.Writer
}

type message struct {
	ID         string         `json:"id"`
	UserID     int64          `json:"userId"`
	TemplateID string         `json:"templateId"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}

func (s *KafkaSink) Send(ctx context.Context, userID int64, templateID string, payload map[string]any) error {
	msg := message{
		ID:         uuid.NewString(),
		UserID:     userID,
		TemplateID: templateID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	// keyed by user so one user's notifications stay ordered
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(userID, 10)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "template", Value: []byte(templateID)},
		},
	})
}
