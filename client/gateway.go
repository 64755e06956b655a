package client

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/quartzbi/metasync/types"
	"github.com/quartzbi/metasync/utils"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

// Gateway is the HTTP client for the portal's BI gateway. Every call is a
// single attempt: retrying belongs to the retry policy so attempts, rate
// tokens and breaker accounting line up one to one.
type Gateway struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
	breaker *CircuitBreaker
	logger  types.Logger
	metrics types.MetricsManager
	state   atomic.Value
}

var _ types.AssetAPI = (*Gateway)(nil)
var _ types.LifecycleManager = (*Gateway)(nil)

func NewGateway(config *types.GatewayConfig, logger types.Logger, metrics types.MetricsManager) (*Gateway, error) {
	if config == nil || config.BaseURL == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "gateway base_url is empty")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &fasthttp.Client{
		Name:         "metasync",
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if config.MaxConnsPerHost > 0 {
		httpClient.MaxConnsPerHost = config.MaxConnsPerHost
	}

	g := &Gateway{
		client:  httpClient,
		baseURL: config.BaseURL,
		timeout: timeout,
		breaker: NewCircuitBreaker(config.Breaker, logger),
		logger:  logger,
		metrics: metrics,
	}
	g.state.Store(StateStopped)

	return g, nil
}

func (g *Gateway) Start() error {
	if !g.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	g.logger.Debug("Gateway client started", zap.String("base_url", g.baseURL))
	return nil
}

func (g *Gateway) Stop() error {
	if !g.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}
	g.client.CloseIdleConnections()
	g.logger.Debug("Gateway client stopped")
	return nil
}

func (g *Gateway) IsRunning() bool {
	return g.state.Load().(State) == StateRunning
}

// Breaker exposes the circuit breaker for diagnostics and manual resets.
func (g *Gateway) Breaker() *CircuitBreaker {
	return g.breaker
}

func (g *Gateway) AssetMetadata(ctx context.Context, assetID string) (types.AssetMetadata, error) {
	return getJSON[types.AssetMetadata](ctx, g, "/api/v1/assets/"+url.PathEscape(assetID))
}

func (g *Gateway) AssetPermissions(ctx context.Context, assetID string) ([]types.Permission, error) {
	return getJSON[[]types.Permission](ctx, g, "/api/v1/assets/"+url.PathEscape(assetID)+"/permissions")
}

func (g *Gateway) AssetTags(ctx context.Context, assetID string) ([]types.Tag, error) {
	return getJSON[[]types.Tag](ctx, g, "/api/v1/assets/"+url.PathEscape(assetID)+"/tags")
}

func (g *Gateway) DescribeAsset(ctx context.Context, assetID string) (types.AssetDetail, error) {
	return getJSON[types.AssetDetail](ctx, g, "/api/v1/assets/"+url.PathEscape(assetID)+"/describe")
}

func getJSON[T any](ctx context.Context, g *Gateway, path string) (T, error) {
	var out T

	body, _, err := g.Call(ctx, fasthttp.MethodGet, path, nil, nil)
	if err != nil {
		return out, err
	}
	if err := utils.Unmarshal(body, &out); err != nil {
		return out, types.Errorf(types.ErrClientResponseInvalid, "decode %s: %v", path, err)
	}
	return out, nil
}

// Call performs one request against the gateway. The response body is
// copied out before the fasthttp buffers go back to the pool.
func (g *Gateway) Call(ctx context.Context, method, path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	if !g.IsRunning() {
		return nil, 0, types.ErrServerNotRunning
	}
	if !g.breaker.CanExecute() {
		return nil, 0, types.ErrCircuitBreakerOpen
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.SetRequestURI(g.baseURL + path)
	req.Header.SetMethod(method)

	if data != nil {
		payload, err := utils.Marshal(data)
		if err != nil {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			return nil, 0, types.WrapError(err, "failed to marshal request data")
		}
		req.SetBody(payload)
		req.Header.SetContentType("application/json")
	}

	timeout := g.timeout
	if opts != nil {
		for key, value := range opts.Headers {
			req.Header.Set(key, value)
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.client.DoTimeout(req, resp, timeout)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		// The buffers are still owned by DoTimeout; release them once
		// it returns.
		go func() {
			<-errCh
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}()
		return nil, 0, ctx.Err()
	}

	status := resp.StatusCode()
	var body []byte
	if err == nil {
		body = make([]byte, len(resp.Body()))
		copy(body, resp.Body())
	}

	if err != nil || status >= 400 {
		g.logger.Debug("Gateway call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.String("body", utils.BytesToString(resp.Body())),
			zap.Error(err),
		)
	}

	fasthttp.ReleaseRequest(req)
	fasthttp.ReleaseResponse(resp)

	g.record(method, status, err, start)

	if err != nil {
		g.breaker.RecordFailure()
		return nil, 0, types.Errorf(types.ErrClientRequestFailed, "%s %s: %v", method, path, err)
	}

	if status >= 200 && status < 300 {
		g.breaker.RecordSuccess()
		return body, status, nil
	}

	if IsBreakerFailure(status, nil) {
		g.breaker.RecordFailure()
	} else {
		// The gateway answered; an ordinary client error is not a
		// breaker failure.
		g.breaker.RecordSuccess()
	}

	return nil, status, statusError(status)
}

// statusError maps an error status to a sentinel and marks statuses that
// cannot be fixed by retrying as permanent.
func statusError(status int) error {
	base := types.ErrGatewayStatus
	if status == fasthttp.StatusNotFound {
		base = types.ErrAssetNotFound
	}

	err := types.Errorf(base, "HTTP %d", status)
	if !IsRetryableStatus(status) {
		err = types.NewErrorf("%w: %w", types.ErrOperationPermanent, err)
	}
	return err
}

func (g *Gateway) record(method string, status int, err error, start time.Time) {
	if g.metrics == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if status >= 400 {
		outcome = "status_error"
	}

	labels := map[string]string{"method": method, "outcome": outcome}
	g.metrics.Counter("gateway_requests_total", labels).Inc()
	g.metrics.Histogram("gateway_request_duration_seconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10}, labels).ObserveDuration(start)
}
