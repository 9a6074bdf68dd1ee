// Package cryptocompare fetches daily close history and spot prices from the
// CryptoCompare min-api and layers the SQLite price cache on top.
package cryptocompare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"crypto-risk/internal/engine"
)

const (
	DefaultBaseURL  = "https://min-api.cryptocompare.com/data"
	DefaultCurrency = "USD"
)

// ErrNoData is returned when the API answers but has no prices for a symbol.
var ErrNoData = errors.New("no price data")

// Config configures the HTTP client.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestsPerSec float64
}

// Client is a rate-limited CryptoCompare HTTP client. Transport errors,
// 429 and 5xx responses are retried with exponential backoff.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewClient creates a client, filling zero config fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "crypto-risk/1.0").
		SetRetryCount(cfg.RetryAttempts).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(cfg.RetryDelay * 8).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		client.SetHeader("authorization", "Apikey "+cfg.APIKey)
	}
	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if err := limiter.Wait(r.Context()); err != nil {
			return fmt.Errorf("cryptocompare: rate limit wait cancelled: %w", err)
		}
		return nil
	})

	return &Client{http: client, limiter: limiter}
}

// envelope is the error wrapper CryptoCompare puts on every failed call,
// usually with HTTP 200.
type envelope struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("cryptocompare: request %s: %w", endpoint, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cryptocompare %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	body := resp.Body()
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Response == "Error" {
		msg := env.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("cryptocompare %s: %s", endpoint, msg)
	}
	return body, nil
}

type histodayResponse struct {
	Data struct {
		Data []struct {
			Time  int64   `json:"time"`
			Close float64 `json:"close"`
		} `json:"Data"`
	} `json:"Data"`
}

// HistoricalDaily returns daily closes for symbol, oldest first. The API
// returns days+1 points ending today (UTC).
func (c *Client) HistoricalDaily(ctx context.Context, symbol, currency string, days int) ([]engine.PricePoint, error) {
	if days < 1 {
		return nil, fmt.Errorf("cryptocompare: days must be positive, got %d", days)
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	body, err := c.get(ctx, "/v2/histoday", map[string]string{
		"fsym":  strings.ToUpper(symbol),
		"tsym":  strings.ToUpper(currency),
		"limit": strconv.Itoa(days),
	})
	if err != nil {
		return nil, err
	}

	var r histodayResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("cryptocompare: failed to parse history for %s: %w", symbol, err)
	}
	if len(r.Data.Data) == 0 {
		return nil, fmt.Errorf("cryptocompare: %s: %w", symbol, ErrNoData)
	}

	points := make([]engine.PricePoint, 0, len(r.Data.Data))
	for _, p := range r.Data.Data {
		points = append(points, engine.PricePoint{
			Date:  time.Unix(p.Time, 0).UTC().Truncate(24 * time.Hour),
			Price: p.Close,
		})
	}
	return points, nil
}

// CurrentPrice returns the latest spot price of symbol in currency.
func (c *Client) CurrentPrice(ctx context.Context, symbol, currency string) (float64, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	currency = strings.ToUpper(currency)
	body, err := c.get(ctx, "/price", map[string]string{
		"fsym":  strings.ToUpper(symbol),
		"tsyms": currency,
	})
	if err != nil {
		return 0, err
	}

	var prices map[string]float64
	if err := json.Unmarshal(body, &prices); err != nil {
		return 0, fmt.Errorf("cryptocompare: failed to parse price for %s: %w", symbol, err)
	}
	p, ok := prices[currency]
	if !ok {
		return 0, fmt.Errorf("cryptocompare: %s/%s: %w", symbol, currency, ErrNoData)
	}
	return p, nil
}
