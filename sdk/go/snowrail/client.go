// Package snowrail is a Go client for the SnowRail payroll API.
package snowrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Payroll execution waits for on-chain receipts, so it is
// longer than a typical API call.
const DefaultHTTPTimeout = 3 * time.Minute

// PaymentHeader carries the payment proof.
const PaymentHeader = "X-PAYMENT"

// Client wraps the HTTP interactions with the SnowRail REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu           sync.RWMutex
	paymentToken string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("snowrail api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("snowrail api error (%d): %s", e.StatusCode, e.Message)
}

// PaymentRequiredError is returned when a metered endpoint answers 402.
// Retry with WithPaymentToken once the challenge is paid.
type PaymentRequiredError struct {
	APIError
	Challenge Challenge
}

func (e *PaymentRequiredError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("snowrail payment required: %s costs %s %s on %s",
		e.Challenge.MeterID, e.Challenge.Price, e.Challenge.Asset, e.Challenge.Chain)
}

// NewClient instantiates a client for the SnowRail API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// WithPaymentToken returns a copy of the client that presents token on every
// metered call.
func (c *Client) WithPaymentToken(token string) *Client {
	return &Client{baseURL: c.baseURL, httpClient: c.httpClient, paymentToken: token}
}

// SetPaymentToken overrides the stored payment token.
func (c *Client) SetPaymentToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paymentToken = token
}

// PaymentToken returns the currently stored payment token.
func (c *Client) PaymentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paymentToken
}

// ProcessPayment runs the full payment flow for one recipient.
func (c *Client) ProcessPayment(ctx context.Context, req PaymentRequest) (Outcome, error) {
	var out Outcome
	if err := c.post(ctx, "/api/payment/process", req, &out); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// ExecutePayroll runs the payroll flow.
func (c *Client) ExecutePayroll(ctx context.Context, req PaymentRequest) (Outcome, error) {
	var out Outcome
	if err := c.post(ctx, "/api/payroll/execute", req, &out); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// GetPayroll fetches the audit record of a payroll.
func (c *Client) GetPayroll(ctx context.Context, id string) (Record, error) {
	var out Record
	if err := c.get(ctx, "/api/payroll/"+url.PathEscape(id), nil, &out); err != nil {
		return Record{}, err
	}
	return out, nil
}

// ListPayrolls returns recent payrolls, newest first.
func (c *Client) ListPayrolls(ctx context.Context, params ListParams) ([]Payroll, error) {
	query := url.Values{}
	if len(params.Statuses) > 0 {
		query.Set("status", strings.Join(params.Statuses, ","))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		query.Set("offset", strconv.Itoa(params.Offset))
	}
	var out struct {
		Payrolls []Payroll `json:"payrolls"`
	}
	if err := c.get(ctx, "/api/payrolls", query, &out); err != nil {
		return nil, err
	}
	return out.Payrolls, nil
}

// PayrollStats returns payroll counts per status, optionally filtered.
func (c *Client) PayrollStats(ctx context.Context, statuses ...string) (Stats, error) {
	query := url.Values{}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	var out Stats
	if err := c.get(ctx, "/api/payrolls/stats", query, &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// Identity fetches the agent identity card.
func (c *Client) Identity(ctx context.Context) (Card, error) {
	var out Card
	if err := c.get(ctx, "/agent/identity", nil, &out); err != nil {
		return Card{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.PaymentToken(); token != "" {
		req.Header.Set(PaymentHeader, token)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	var envelope struct {
		Error struct {
			APIError
			Metering *Challenge `json:"metering"`
			MeterID  string     `json:"meterId"`
		} `json:"error"`
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &envelope)
	}
	apiErr := envelope.Error.APIError
	apiErr.StatusCode = resp.StatusCode
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		pr := &PaymentRequiredError{APIError: apiErr}
		if envelope.Error.Metering != nil {
			pr.Challenge = *envelope.Error.Metering
		}
		if pr.Challenge.MeterID == "" {
			pr.Challenge.MeterID = envelope.Error.MeterID
		}
		return pr
	}
	return &apiErr
}
