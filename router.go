package offlinecache

import (
	"context"
	"net/http"
	"strings"

	strategyrules "github.com/always-cache/offline-cache/pkg/strategy-rules"
)

// EventKind is the kind of event a worker handles.
type EventKind int

const (
	EventInstall EventKind = iota
	EventActivate
	EventFetch
)

// Strategy decides how a request is answered.
type Strategy string

const (
	StrategyNetworkFirst         Strategy = strategyrules.NetworkFirst
	StrategyStaleWhileRevalidate Strategy = strategyrules.StaleWhileRevalidate
	StrategyNetworkOnly          Strategy = strategyrules.NetworkOnly
)

// Task produces the outcome of an event.
// Lifecycle tasks return a nil response.
type Task func(ctx context.Context) (*http.Response, error)

// Route returns the task handling the event.
// A nil task means the event is not intercepted: the request goes to the
// network untouched, as if there was no cache at all.
// Fetch events are routed in any lifecycle state; ServeHTTP decides which
// requests reach the worker.
func (p *CacheProxy) Route(kind EventKind, req *http.Request) Task {
	switch kind {
	case EventInstall:
		return func(ctx context.Context) (*http.Response, error) {
			return nil, p.Install(ctx)
		}
	case EventActivate:
		return func(ctx context.Context) (*http.Response, error) {
			return nil, p.Activate(ctx)
		}
	case EventFetch:
		switch p.Strategy(req) {
		case StrategyNetworkFirst:
			return func(ctx context.Context) (*http.Response, error) {
				return p.networkFirst(ctx, req)
			}
		case StrategyStaleWhileRevalidate:
			return func(ctx context.Context) (*http.Response, error) {
				return p.staleWhileRevalidate(ctx, req)
			}
		}
	}
	return nil
}

// Strategy returns the strategy for the request.
// Non-GET requests are never cached. Configured rules take precedence;
// otherwise navigations and requests accepting HTML go network-first
// and everything else is stale-while-revalidate.
func (p *CacheProxy) Strategy(req *http.Request) Strategy {
	if req.Method != http.MethodGet {
		return StrategyNetworkOnly
	}
	if rule := p.rules.Find(req); rule != nil {
		return Strategy(rule.Strategy)
	}
	if isNavigation(req) || acceptsHTML(req) {
		return StrategyNetworkFirst
	}
	return StrategyStaleWhileRevalidate
}

// isNavigation reports whether the browser marked the request as a top-level navigation.
func isNavigation(req *http.Request) bool {
	return req.Header.Get("Sec-Fetch-Mode") == "navigate"
}

func acceptsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
