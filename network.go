package offlinecache

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/textproto"
	"net/url"

	recorder "github.com/always-cache/offline-cache/pkg/response-recorder"
)

// Network performs requests that are not answered from the cache.
// An error means the request did not get any HTTP response; every status
// code, including server errors, is a successful fetch.
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// NetworkFunc adapts a function to the Network interface.
type NetworkFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f NetworkFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// OriginNetwork sends requests to an origin server.
type OriginNetwork struct {
	origin     url.URL
	hostHeader string
	client     *http.Client
}

// NewOriginNetwork creates a network for the origin.
// Origins with paths are not supported.
// The host, if set, is used as the Host header and for TLS negotiation,
// e.g. when the origin URL is just an IP address.
func NewOriginNetwork(origin url.URL, host string) *OriginNetwork {
	transport := http.DefaultTransport
	hostHeader := origin.Host
	if host != "" {
		hostHeader = host
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: host,
			},
		}
	}
	return &OriginNetwork{
		origin:     origin,
		hostHeader: hostHeader,
		client: &http.Client{
			Transport: transport,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (n *OriginNetwork) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	u := *r.URL
	u.Scheme = n.origin.Scheme
	u.Host = n.origin.Host
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), r.Body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength
	copyHeader(req.Header, r.Header)
	req.Host = n.hostHeader
	return n.client.Do(req)
}

// HandlerNetwork uses an http.Handler as the network.
// The handler never fails at the transport level.
type HandlerNetwork struct {
	handler http.Handler
}

func NewHandlerNetwork(h http.Handler) HandlerNetwork {
	return HandlerNetwork{handler: h}
}

func (n HandlerNetwork) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	rec := recorder.NewResponseRecorder()
	n.handler.ServeHTTP(rec, r.Clone(ctx))
	return rec.Result(r), nil
}

// hopByHopHeaders must not be forwarded by proxies (RFC 7230).
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		k = textproto.CanonicalMIMEHeaderKey(k)
		if _, ok := hopByHopHeaders[k]; ok {
			continue
		}
		// remove default headers sent by an upstream proxy,
		// some servers do not like the presence of these headers in the downstream request
		if k == "X-Forwarded-For" || k == "X-Forwarded-Proto" || k == "X-Forwarded-Host" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
