package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"signal_trader/internal/metrics"
)

const (
	exchangeName   = "okx"
	defaultBaseURL = "https://www.okx.com"
	tsLayout       = "2006-01-02T15:04:05.000Z"
)

// Client — подписанный REST v5. Один на оба рынка.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	secret  string
	passph  string
	demo    bool
	limiter *rate.Limiter
	now     func() time.Time

	instMu sync.RWMutex
	insts  map[string]Instrument
}

type Options struct {
	APIKey     string
	Secret     string
	Passphrase string
	BaseURL    string
	Demo       bool
	RateLimit  float64
}

func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 10
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		apiKey:  o.APIKey,
		secret:  o.Secret,
		passph:  o.Passphrase,
		demo:    o.Demo,
		limiter: rate.NewLimiter(rate.Limit(o.RateLimit), int(o.RateLimit)),
		now:     time.Now,
		insts:   make(map[string]Instrument),
	}
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.secret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// itemResult — sCode/sMsg у операций над ордерами.
type itemResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	AlgoID  string `json:"algoId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// do подписывает и выполняет запрос, раскладывает data в out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("okx %s marshal: %w", op, err)
		}
		payload = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("okx %s new request: %w", op, err)
	}
	ts := c.now().UTC().Format(tsLayout)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	if c.demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(op, fmt.Errorf("okx %s do: %w", op, err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return c.fail(op, fmt.Errorf("okx %s http %d: %s", op, resp.StatusCode, string(data)))
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return c.fail(op, fmt.Errorf("okx %s decode: %w; body=%s", op, err, string(data)))
	}
	if env.Code != "0" {
		// у операций над ордерами детальная причина лежит в data[0].sCode
		var items []itemResult
		if sonic.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			return c.fail(op, &APIError{Op: op, Code: items[0].SCode, Msg: items[0].SMsg})
		}
		return c.fail(op, &APIError{Op: op, Code: env.Code, Msg: env.Msg})
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(env.Data, out); err != nil {
		return c.fail(op, fmt.Errorf("okx %s decode data: %w", op, err))
	}
	return nil
}

// doItem — запрос над одним ордером, проверяет sCode первой записи.
func (c *Client) doItem(ctx context.Context, op, path string, body any) (itemResult, error) {
	var items []itemResult
	if err := c.do(ctx, op, http.MethodPost, path, nil, body, &items); err != nil {
		return itemResult{}, err
	}
	if len(items) == 0 {
		return itemResult{}, c.fail(op, fmt.Errorf("okx %s: empty data", op))
	}
	if items[0].SCode != "" && items[0].SCode != "0" {
		return itemResult{}, c.fail(op, &APIError{Op: op, Code: items[0].SCode, Msg: items[0].SMsg})
	}
	return items[0], nil
}

func (c *Client) fail(op string, err error) error {
	metrics.ExchangeErrors.WithLabelValues(exchangeName, op).Inc()
	return err
}

type APIError struct {
	Op   string
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx %s error: code=%s msg=%s", e.Op, e.Code, e.Msg)
}
