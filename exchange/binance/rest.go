package binance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"go.uber.org/zap"

	"stoikov-maker-go/exchange"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTimeout = 10 * time.Second

// restClient 封装签名请求；限流与熔断在这里统一处理。
type restClient struct {
	baseURL string
	apiKey  string
	secret  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func newRESTClient(cfg Config, log *zap.Logger) *restClient {
	weightPerMin := cfg.RequestWeightPerMin
	if weightPerMin <= 0 {
		weightPerMin = 1200
	}
	return &restClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		secret:  cfg.APISecret,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(float64(weightPerMin)/60), weightPerMin/10),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "binance-rest",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("rest breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		log: log,
	}
}

// doSigned executes one signed request; weight feeds the shared limiter.
func (c *restClient) doSigned(ctx context.Context, method, path string, params map[string]string, weight int) ([]byte, error) {
	if weight <= 0 {
		weight = 1
	}
	if err := c.limiter.WaitN(ctx, weight); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrRateLimited, err)
	}

	body, err := c.breaker.Execute(func() (any, error) {
		return c.execute(ctx, method, path, params, true)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", exchange.ErrVenue)
		}
		return nil, err
	}
	return body.([]byte), nil
}

// doPublic executes one unsigned request.
func (c *restClient) doPublic(ctx context.Context, path string, params map[string]string, weight int) ([]byte, error) {
	if weight <= 0 {
		weight = 1
	}
	if err := c.limiter.WaitN(ctx, weight); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrRateLimited, err)
	}
	return c.execute(ctx, http.MethodGet, path, params, false)
}

func (c *restClient) execute(ctx context.Context, method, path string, params map[string]string, signed bool) ([]byte, error) {
	var endpoint string
	if signed {
		query, sig := signParams(params, c.secret, time.Now())
		endpoint = c.baseURL + path + "?" + query + "&signature=" + url.QueryEscape(sig)
	} else {
		v := url.Values{}
		for k, val := range params {
			v.Set(k, val)
		}
		endpoint = c.baseURL + path
		if len(v) > 0 {
			endpoint += "?" + v.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewBuffer(nil))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrVenue, err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", exchange.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", exchange.ErrVenue, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrVenue, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		return nil, fmt.Errorf("%w: status %d", exchange.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400:
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		// -2010/-5022: order would immediately match, post-only rejected
		if apiErr.Code == -2010 || apiErr.Code == -5022 {
			return nil, fmt.Errorf("%w: %s", exchange.ErrRejected, apiErr.Msg)
		}
		return nil, fmt.Errorf("%w: status %d code %d %s", exchange.ErrVenue, resp.StatusCode, apiErr.Code, apiErr.Msg)
	}
	return body, nil
}

func weightForDepth(depth int) int {
	switch {
	case depth <= 50:
		return 2
	case depth <= 100:
		return 5
	case depth <= 500:
		return 10
	default:
		return 20
	}
}

func depthParam(depth int) string {
	if depth <= 0 {
		depth = 20
	}
	return strconv.Itoa(depth)
}
