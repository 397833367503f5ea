package smartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL          = "https://apiconnect.angelone.in"
	candlePath              = "/rest/secure/angelbroking/historical/v1/getCandleData"
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 250 * time.Millisecond

	// fromdate/todate wire layout
	dateLayout = "2006-01-02 15:04"
)

var (
	// ErrUnauthorized indicates a rejected or expired session token.
	ErrUnauthorized = errors.New("smartapi: unauthorized")
	// ErrMissingCredentials indicates the client was built without api key or jwt.
	ErrMissingCredentials = errors.New("smartapi: api key and jwt are required")
)

// APIError is a non-success envelope returned by the API.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smartapi: %s (%s)", e.Message, e.Code)
}

// Client wraps the SmartAPI historical candle endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	clientCode string
	jwt        string
	httpClient *http.Client
	maxRetries int

	localIP  string
	publicIP string
	mac      string
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default API host.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithMaxRetries adjusts the retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithCredentials sets the api key, client code and session JWT.
func WithCredentials(apiKey, clientCode, jwt string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
		c.clientCode = clientCode
		c.jwt = jwt
	}
}

// WithClientAddress sets the client identification headers the API requires.
func WithClientAddress(localIP, publicIP, mac string) Option {
	return func(c *Client) {
		if localIP != "" {
			c.localIP = localIP
		}
		if publicIP != "" {
			c.publicIP = publicIP
		}
		if mac != "" {
			c.mac = mac
		}
	}
}

// NewClient constructs a SmartAPI client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
		localIP:    "127.0.0.1",
		publicIP:   "127.0.0.1",
		mac:        "00:00:00:00:00:00",
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// CandleRequest is the getCandleData payload.
type CandleRequest struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symboltoken"`
	Interval    string `json:"interval"`
	FromDate    string `json:"fromdate"`
	ToDate      string `json:"todate"`
}

type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// CandleData fetches raw candle rows for req.
func (c *Client) CandleData(ctx context.Context, req CandleRequest) ([][]json.RawMessage, error) {
	if c.apiKey == "" || c.jwt == "" {
		return nil, ErrMissingCredentials
	}
	var env envelope
	if err := c.doRequest(ctx, candlePath, req, &env); err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, &APIError{Code: env.ErrorCode, Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("smartapi: decode candles: %w", err)
	}
	return rows, nil
}

// doRequest posts payload to path and decodes the response into result.
func (c *Client) doRequest(ctx context.Context, path string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("smartapi: encode request: %w", err)
	}
	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("smartapi: build request: %w", err)
		}
		c.setHeaders(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		} else {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("smartapi: read response: %w", readErr)
			case resp.StatusCode == http.StatusUnauthorized:
				return ErrUnauthorized
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				lastErr = fmt.Errorf("smartapi: http status %d: %s", resp.StatusCode, string(data))
			default:
				if result != nil {
					if err := json.Unmarshal(data, result); err != nil {
						return fmt.Errorf("smartapi: decode response: %w", err)
					}
				}
				return nil
			}
		}

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("smartapi: request failed without error detail")
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("X-PrivateKey", c.apiKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", c.localIP)
	req.Header.Set("X-ClientPublicIP", c.publicIP)
	req.Header.Set("X-MACAddress", c.mac)
	if c.clientCode != "" {
		req.Header.Set("X-ClientCode", c.clientCode)
	}
}
