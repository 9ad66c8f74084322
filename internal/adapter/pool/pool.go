// Package pool provides the process-wide keep-alive HTTP transport shared by
// every backend adapter. It owns connection limits, timeouts and the two
// automatic transport-level retries; all other retry policy belongs to the
// router.
package pool

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/util"
	"github.com/claudette-ai/claudette/internal/version"
)

const (
	DefaultMaxSockets     = 50
	DefaultMaxFreeSockets = 10
	DefaultIdleSocketTTL  = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultConnectTimeout = 5 * time.Second

	// Transport retries only cover connection reset, DNS and TLS handshake
	// failures. Anything that reached the server is the router's business.
	transportRetries     = 2
	transportBackoffBase = 250 * time.Millisecond
	transportBackoffCap  = 2 * time.Second
	transportJitter      = 0.15

	drainTimeout = 5 * time.Second
)

type Config struct {
	MaxSockets     int
	MaxFreeSockets int
	IdleSocketTTL  time.Duration
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxSockets:     DefaultMaxSockets,
		MaxFreeSockets: DefaultMaxFreeSockets,
		IdleSocketTTL:  DefaultIdleSocketTTL,
		RequestTimeout: DefaultRequestTimeout,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Request is a provider-agnostic HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration // 0 means the pool default
}

// Response carries the complete reply. Bodies are fully read so sockets return
// to the idle set immediately.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

type Pool struct {
	transport *http.Transport
	client    *http.Client
	logger    *slog.Logger
	cfg       Config

	active atomic.Int64 // in-flight requests
	open   atomic.Int64 // established sockets
	closed atomic.Bool
}

func New(cfg Config, logger *slog.Logger) *Pool {
	p := &Pool{cfg: cfg, logger: logger}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	p.transport = &http.Transport{
		MaxConnsPerHost:     cfg.MaxSockets,
		MaxIdleConnsPerHost: cfg.MaxFreeSockets,
		MaxIdleConns:        cfg.MaxFreeSockets * 4,
		IdleConnTimeout:     cfg.IdleSocketTTL,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Token streams benefit from immediate segment delivery.
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			p.open.Add(1)
			return &countedConn{Conn: conn, pool: p}, nil
		},
	}

	p.client = &http.Client{Transport: p.transport}
	return p
}

// Do executes the request with up to two automatic retries for transport-level
// failures. Returned errors are always classified.
func (p *Pool) Do(ctx context.Context, req *Request) (*Response, error) {
	if p.closed.Load() {
		return nil, domain.NewError(domain.ErrInternal, "connection pool is shut down")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.cfg.RequestTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= transportRetries; attempt++ {
		if attempt > 0 {
			wait := util.ExponentialBackoff(attempt, transportBackoffBase, transportBackoffCap, transportJitter)
			select {
			case <-ctx.Done():
				return nil, classifyTransportError(ctx, ctx.Err())
			case <-time.After(wait):
			}
		}

		resp, err := p.doOnce(ctx, req, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isTransportRetryable(err) || ctx.Err() != nil {
			return nil, classifyTransportError(ctx, err)
		}
		p.logger.Debug("transport retry",
			"url", req.URL, "attempt", attempt+1, "error", err)
	}

	return nil, classifyTransportError(ctx, lastErr)
}

func (p *Pool) doOnce(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:  httpResp.StatusCode,
		Headers: httpResp.Header,
		Body:    payload,
	}, nil
}

// Stats reports socket gauges for observability.
func (p *Pool) Stats() (active, free int64) {
	active = p.active.Load()
	free = p.open.Load() - active
	if free < 0 {
		free = 0
	}
	return active, free
}

// Shutdown lets in-flight requests complete for up to five seconds, then
// closes idle connections. Requests still running after the grace period are
// cancelled by their own contexts.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for p.active.Load() > 0 {
		select {
		case <-ctx.Done():
			p.transport.CloseIdleConnections()
			return ctx.Err()
		case <-deadline.C:
			p.transport.CloseIdleConnections()
			return nil
		case <-tick.C:
		}
	}

	p.transport.CloseIdleConnections()
	return nil
}

type countedConn struct {
	net.Conn
	pool   *Pool
	closed atomic.Bool
}

func (c *countedConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.open.Add(-1)
	}
	return c.Conn.Close()
}

// isTransportRetryable reports whether the failure happened before any bytes
// of a response arrived: dial, DNS, TLS handshake or connection reset.
func isTransportRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var tlsErr tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}

// classifyTransportError maps a transport failure onto the shared taxonomy.
func classifyTransportError(ctx context.Context, err error) *domain.Error {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.WrapError(domain.ErrCancelled, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			return domain.WrapError(domain.ErrCancelled, "request deadline exceeded", err)
		}
		return domain.WrapError(domain.ErrBackendTimeout, "request timed out", err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return domain.WrapError(domain.ErrBackendTimeout, "network timeout", err)
		}
		return domain.WrapError(domain.ErrBackendConnection, "connection failed", err)
	}
}
