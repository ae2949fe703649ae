package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to a single finances service endpoint.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) InsertTransaction(ctx context.Context, tx Transaction) error {
	var resp struct {
		Accepted bool   `json:"accepted"`
		Message  string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/transactions", tx, &resp); err != nil {
		return err
	}
	if !resp.Accepted {
		if resp.Message == "" {
			resp.Message = "rejected"
		}
		return fmt.Errorf("transaction %s not accepted: %s", tx.TransactionID, resp.Message)
	}
	return nil
}

func (c *Client) GetExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	values := url.Values{}
	values.Set("from", strings.ToUpper(from))
	values.Set("to", strings.ToUpper(to))
	var resp struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/exchange-rates?"+values.Encode(), nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Rate, nil
}

func (c *Client) GetTaxPercentage(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Percentage decimal.Decimal `json:"percentage"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/tax", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Percentage, nil
}

func (c *Client) GetMinMaxTransactionLimits(ctx context.Context, tool string) (Limits, error) {
	values := url.Values{}
	values.Set("tool", tool)
	var resp Limits
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/limits?"+values.Encode(), nil, &resp); err != nil {
		return Limits{}, err
	}
	return resp, nil
}

func (c *Client) GetStatuses(ctx context.Context, kind string, ids []string) (map[string]Status, error) {
	if len(ids) == 0 {
		return map[string]Status{}, nil
	}
	req := struct {
		Kind string   `json:"kind"`
		IDs  []string `json:"ids"`
	}{Kind: kind, IDs: ids}
	var resp struct {
		Statuses map[string]Status `json:"statuses"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/statuses", req, &resp); err != nil {
		return nil, err
	}
	if resp.Statuses == nil {
		resp.Statuses = map[string]Status{}
	}
	return resp.Statuses, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(b))
		if msg != "" {
			return fmt.Errorf("settlement http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("settlement http status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
