// Package proxy forwards gateway requests to the downstream services. It
// owns the upstream HTTP client and its timeouts, identity header injection,
// circuit breaker accounting, and the response cache for idempotent reads.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/circuitbreaker"
	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/logging"
	"github.com/openmarkets/tradegate/internal/metrics"
	"github.com/openmarkets/tradegate/internal/routes"
)

// Identity headers injected on every proxied request. Downstream services
// trust these; they are stripped from inbound requests so clients cannot
// spoof them.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderSubject   = "X-User-Subject"
	HeaderRole      = "X-User-Role"
)

// hopByHop headers are connection-scoped and never forwarded.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Identity is the verified caller forwarded to downstreams.
type Identity struct {
	Subject string
	Role    string
}

// Forwarder proxies requests to the configured downstream base URLs.
type Forwarder struct {
	targets map[string]*url.URL
	client  *http.Client
	breaker *circuitbreaker.Breaker
	store   coordstore.Store
}

// New builds a forwarder. targets maps downstream names to base URLs.
func New(targets map[string]string, breaker *circuitbreaker.Breaker, store coordstore.Store) (*Forwarder, error) {
	parsed := make(map[string]*url.URL, len(targets))
	for name, raw := range targets {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("proxy: bad target %s=%q: %w", name, raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy: target %s=%q needs scheme and host", name, raw)
		}
		parsed[name] = u
	}

	return &Forwarder{
		targets: parsed,
		breaker: breaker,
		store:   store,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   2 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     10 * time.Second,
			},
		},
	}, nil
}

// cachedResponse is the stored shape of a cacheable downstream reply.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// cacheKey identifies a cached response by method, full request URI, and the
// caller's subject, so one user's cached view never serves another.
func cacheKey(c *gin.Context, subject string) string {
	return coordstore.PrefixCache + c.Request.Method + ":" + c.Request.URL.RequestURI() + ":" + subject
}

// Forward proxies the request described by match to its downstream. The
// caller has already authenticated and rate-limited the request; headers set
// on the response before Forward (including X-RateLimit-*) survive.
func (f *Forwarder) Forward(c *gin.Context, match *routes.Match, id Identity) {
	downstream := match.Route.Downstream
	target, ok := f.targets[downstream]
	if !ok {
		logging.L(c.Request.Context()).Error("no target for downstream", "downstream", downstream)
		httperr.Internal().Abort(c)
		return
	}

	cacheable := match.Route.CacheTTL > 0 && c.Request.Method == http.MethodGet
	key := ""
	if cacheable {
		key = cacheKey(c, id.Subject)
		if f.serveCached(c, key) {
			return
		}
	}

	if match.Route.BreakerEnabled && !f.breaker.Allow(downstream) {
		httperr.Unavailable("Downstream service is temporarily unavailable").Abort(c)
		return
	}

	resp, err := f.roundTrip(c, downstream, target, id)
	if err != nil {
		if match.Route.BreakerEnabled {
			f.breaker.RecordFailure(downstream)
		}
		f.writeTransportError(c, downstream, err)
		return
	}
	defer resp.Body.Close()

	if match.Route.BreakerEnabled {
		if resp.StatusCode >= 500 {
			metrics.ProxyErrorsTotal.WithLabelValues(downstream, "upstream_5xx").Inc()
			f.breaker.RecordFailure(downstream)
		} else {
			f.breaker.RecordSuccess(downstream)
		}
	}

	f.relay(c, resp, cacheable, key, match.Route.CacheTTL)
}

// roundTrip builds and executes the upstream request.
func (f *Forwarder) roundTrip(c *gin.Context, downstream string, target *url.URL, id Identity) (*http.Response, error) {
	outURL := *target
	outURL.Path = singleJoin(target.Path, c.Request.URL.Path)
	outURL.RawQuery = c.Request.URL.RawQuery

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, outURL.String(), c.Request.Body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = c.Request.ContentLength

	copyHeaders(req.Header, c.Request.Header)
	for _, h := range hopByHop {
		req.Header.Del(h)
	}
	// Never trust inbound identity headers.
	req.Header.Del(HeaderSubject)
	req.Header.Del(HeaderRole)

	req.Header.Set(HeaderRequestID, logging.RequestID(c.Request.Context()))
	if id.Subject != "" {
		req.Header.Set(HeaderSubject, id.Subject)
		req.Header.Set(HeaderRole, id.Role)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.ProxyUpstreamDuration.WithLabelValues(downstream).Observe(time.Since(start).Seconds())
	return resp, err
}

// relay copies the upstream response to the client, optionally populating
// the response cache. Gateway-set headers are preserved.
func (f *Forwarder) relay(c *gin.Context, resp *http.Response, cacheable bool, key string, ttl time.Duration) {
	header := c.Writer.Header()
	for _, h := range hopByHop {
		resp.Header.Del(h)
	}
	for k, vv := range resp.Header {
		// The gateway's own rate-limit headers win over anything upstream.
		if strings.HasPrefix(k, "X-Ratelimit-") || strings.HasPrefix(k, "X-RateLimit-") {
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}

	if cacheable && resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			logging.L(c.Request.Context()).Warn("upstream body read failed", "error", err)
			httperr.BadGateway("Downstream response could not be read").Abort(c)
			return
		}
		f.storeCached(c.Request.Context(), key, cachedResponse{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		}, ttl)
		c.Status(resp.StatusCode)
		c.Writer.Write(body)
		return
	}

	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logging.L(c.Request.Context()).Warn("response relay interrupted", "error", err)
	}
}

// serveCached writes a cached response if one exists. Cache errors are
// treated as misses.
func (f *Forwarder) serveCached(c *gin.Context, key string) bool {
	raw, err := f.store.Get(c.Request.Context(), key)
	if err != nil {
		if !errors.Is(err, coordstore.ErrNotFound) {
			logging.L(c.Request.Context()).Warn("cache lookup failed", "error", err)
		}
		metrics.ProxyCacheTotal.WithLabelValues("miss").Inc()
		return false
	}

	var cached cachedResponse
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		metrics.ProxyCacheTotal.WithLabelValues("miss").Inc()
		return false
	}

	metrics.ProxyCacheTotal.WithLabelValues("hit").Inc()
	if cached.ContentType != "" {
		c.Header("Content-Type", cached.ContentType)
	}
	c.Header("X-Cache", "HIT")
	c.Status(cached.Status)
	c.Writer.Write(cached.Body)
	c.Abort()
	return true
}

func (f *Forwarder) storeCached(ctx context.Context, key string, cached cachedResponse, ttl time.Duration) {
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := f.store.Set(ctx, key, string(raw), ttl); err != nil {
		logging.L(ctx).Warn("cache write failed", "error", err)
	}
}

// writeTransportError maps client.Do failures to gateway errors: timeouts
// become 504, everything else 502.
func (f *Forwarder) writeTransportError(c *gin.Context, downstream string, err error) {
	ctx := c.Request.Context()
	if isTimeout(err) {
		metrics.ProxyErrorsTotal.WithLabelValues(downstream, "timeout").Inc()
		logging.L(ctx).Error("downstream timeout", "downstream", downstream, "error", err)
		httperr.GatewayTimeout("Downstream service did not respond in time").Abort(c)
		return
	}
	metrics.ProxyErrorsTotal.WithLabelValues(downstream, "connect").Inc()
	logging.L(ctx).Error("downstream unreachable", "downstream", downstream, "error", err)
	httperr.BadGateway("Downstream service is unreachable").Abort(c)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// singleJoin joins two URL path parts with exactly one slash.
func singleJoin(a, b string) string {
	a = strings.TrimSuffix(a, "/")
	if !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return a + b
}
