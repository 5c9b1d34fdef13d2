package stockclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 30 * time.Second
	maxBodyBytes            = 1 << 20
)

var ErrUnexpectedStatus = errors.New("stockclient: unexpected status")

type Config struct {
	BaseURL string
	Timeout time.Duration
	// FailureThreshold consecutive transport or 5xx failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Transport        http.RoundTripper
}

// Client talks to the inventory service over HTTP. It implements StockChecker and
// StockDecrementer. Calls go through an otelhttp transport and a circuit breaker.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*response]
	log     observability.Logger
}

type response struct {
	status int
	body   []byte
}

func New(cfg Config, logger observability.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("stockclient: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	log := logger.With(observability.F("component", "stock_client"))

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:    "inventory",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit_breaker_state_changed",
				observability.F("breaker", name),
				observability.F("from", from.String()),
				observability.F("to", to.String()),
			)
		},
	})

	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		breaker: breaker,
		log:     log,
	}, nil
}

type batchRequest struct {
	Items []dominv.Line `json:"items"`
}

func (c *Client) CheckBatch(ctx context.Context, lines []dominv.Line) (dominv.StockCheckResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/stock/check", batchRequest{Items: lines})
	if err != nil {
		return dominv.StockCheckResult{}, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNotImplemented:
		return dominv.StockCheckResult{}, dominv.ErrBatchUnsupported
	default:
		return dominv.StockCheckResult{}, statusError("stock check", resp)
	}

	var res dominv.StockCheckResult
	if err := json.Unmarshal(resp.body, &res); err != nil {
		return dominv.StockCheckResult{}, fmt.Errorf("stockclient: decode stock check: %w", err)
	}
	return res, nil
}

type itemResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func (c *Client) CheckItem(ctx context.Context, line dominv.Line) error {
	path := "/stock/" + url.PathEscape(line.ID) + "?quantity=" + strconv.Itoa(line.Quantity)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	switch resp.status {
	case http.StatusOK, http.StatusConflict:
	case http.StatusNotFound:
		return fmt.Errorf("check %s: %w", line.ID, dominv.ErrNotFound)
	default:
		return statusError("stock item", resp)
	}

	var body itemResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return fmt.Errorf("stockclient: decode stock item: %w", err)
	}
	if body.OK {
		return nil
	}
	return fmt.Errorf("check %s: %w", line.ID, reasonError(body.Reason))
}

type decrementRequest struct {
	Quantity int `json:"quantity"`
}

func (c *Client) Decrement(ctx context.Context, itemID string, quantity int) error {
	resp, err := c.do(ctx, http.MethodPost, "/stock/"+url.PathEscape(itemID)+"/decrement", decrementRequest{Quantity: quantity})
	if err != nil {
		return err
	}
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusNotFound:
		return fmt.Errorf("decrement %s: %w", itemID, dominv.ErrNotFound)
	case resp.status == http.StatusConflict:
		return fmt.Errorf("decrement %s: %w", itemID, dominv.ErrInsufficientStock)
	default:
		return statusError("decrement", resp)
	}
}

// do runs one request through the breaker. 5xx other than 501 counts as a breaker failure.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*response, error) {
	return c.breaker.Execute(func() (*response, error) {
		var body io.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("stockclient: encode request: %w", err)
			}
			body = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
		if err != nil {
			return nil, fmt.Errorf("stockclient: build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("stockclient: %s %s: %w", method, path, err)
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("stockclient: read response: %w", err)
		}
		resp := &response{status: res.StatusCode, body: data}
		if res.StatusCode >= 500 && res.StatusCode != http.StatusNotImplemented {
			return nil, statusError(method+" "+path, resp)
		}
		return resp, nil
	})
}

func statusError(op string, resp *response) error {
	msg := strings.TrimSpace(string(resp.body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("%w: %s returned %d: %s", ErrUnexpectedStatus, op, resp.status, msg)
}

func reasonError(reason string) error {
	switch reason {
	case dominv.FailureReasonNotFound:
		return dominv.ErrNotFound
	case dominv.FailureReasonInvalidQuantity:
		return dominv.ErrInvalidQuantity
	default:
		return dominv.ErrInsufficientStock
	}
}
