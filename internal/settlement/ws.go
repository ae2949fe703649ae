package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"PointsSettlement/internal/models"

	"github.com/gorilla/websocket"
)

// WSClient receives settlement status events pushed by the finances service.
type WSClient struct {
	Endpoint string
	APIKey   string
	Conn     *websocket.Conn
}

func NewWSClient(endpoint, apiKey string) *WSClient {
	return &WSClient{Endpoint: endpoint, APIKey: apiKey}
}

func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	var header map[string][]string
	if c.APIKey != "" {
		header = map[string][]string{"Authorization": {"Bearer " + c.APIKey}}
	}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, header)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *WSClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *WSClient) Subscribe(ctx context.Context, channel string) error {
	payload := map[string]any{
		"action":  "subscribe",
		"channel": channel,
	}
	return c.Conn.WriteJSON(payload)
}

func (c *WSClient) Read(ctx context.Context) ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}

// ParseEvent decodes a pushed message. ok is false for acks and other
// non-transaction frames.
func ParseEvent(msg []byte) (*models.TransactionDetail, bool, error) {
	var env struct {
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false, err
	}
	if env.Error != nil {
		return nil, false, errors.New(env.Error.Message)
	}
	if !strings.EqualFold(env.Type, "transaction.status") || len(env.Data) == 0 {
		return nil, false, nil
	}

	var detail models.TransactionDetail
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		return nil, false, err
	}
	if detail.OrderID <= 0 {
		return nil, false, errors.New("event without order id")
	}
	return &detail, true, nil
}
