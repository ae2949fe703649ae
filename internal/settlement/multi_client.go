package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MultiClient fails over between finances service endpoints.
type MultiClient struct {
	clients       []*Client
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiClient(endpoints []string, apiKey string, timeout time.Duration, failThreshold int) (*MultiClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("settlement endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*Client, 0, len(list))
	for _, ep := range list {
		clients = append(clients, NewClient(ep, apiKey, timeout))
	}
	return &MultiClient{clients: clients, failThreshold: failThreshold}, nil
}

func (m *MultiClient) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index].baseURL
}

// InsertTransaction is sent to one endpoint only: retrying a write on another
// endpoint after an ambiguous failure could register the transaction twice.
func (m *MultiClient) InsertTransaction(ctx context.Context, tx Transaction) error {
	client, idx := m.currentClient()
	if err := client.InsertTransaction(ctx, tx); err != nil {
		m.fail(idx, false)
		return err
	}
	m.succeed(idx)
	return nil
}

func (m *MultiClient) GetExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	return withFailover(m, func(c *Client) (decimal.Decimal, error) {
		return c.GetExchangeRate(ctx, from, to)
	})
}

func (m *MultiClient) GetTaxPercentage(ctx context.Context) (decimal.Decimal, error) {
	return withFailover(m, func(c *Client) (decimal.Decimal, error) {
		return c.GetTaxPercentage(ctx)
	})
}

func (m *MultiClient) GetMinMaxTransactionLimits(ctx context.Context, tool string) (Limits, error) {
	return withFailover(m, func(c *Client) (Limits, error) {
		return c.GetMinMaxTransactionLimits(ctx, tool)
	})
}

func (m *MultiClient) GetStatuses(ctx context.Context, kind string, ids []string) (map[string]Status, error) {
	return withFailover(m, func(c *Client) (map[string]Status, error) {
		return c.GetStatuses(ctx, kind, ids)
	})
}

// withFailover tries each endpoint once, moving on after every failed read.
func withFailover[T any](m *MultiClient, call func(c *Client) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for range m.clients {
		client, idx := m.currentClient()
		out, err := call(client)
		if err == nil {
			m.succeed(idx)
			return out, nil
		}
		lastErr = err
		m.fail(idx, true)
	}
	return zero, lastErr
}

func (m *MultiClient) currentClient() (*Client, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index], m.index
}

func (m *MultiClient) succeed(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

// fail counts a failure of endpoint idx and rotates once the threshold is
// reached, or immediately when next is set. Failures of an endpoint that is no
// longer current are ignored.
func (m *MultiClient) fail(idx int, next bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != idx {
		return
	}
	m.failCount++
	if next || m.failCount >= m.failThreshold {
		m.index = (m.index + 1) % len(m.clients)
		m.failCount = 0
	}
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
