package offlinecache

import (
	"context"
	"io"
	"net/http"

	"github.com/always-cache/offline-cache/rfc9211"
)

// ClientCookie holds the id of the client a request belongs to.
const ClientCookie = "offline-cache-client"

// Fetch answers a request the way the cache would, whatever the lifecycle state.
// Requests that are not intercepted go to the network unchanged.
// An error is returned only if there is no response at all.
func (p *CacheProxy) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if task := p.Route(EventFetch, req); task != nil {
		return task(ctx)
	}
	reason := rfc9211.FwdReasonBypass
	if req.Method != http.MethodGet {
		reason = rfc9211.FwdReasonMethod
	}
	return p.passThrough(ctx, req, reason)
}

// Middleware uses next as the network and returns the proxy as the handler.
// It must be called before the proxy handles any request.
func (p *CacheProxy) Middleware(next http.Handler) http.Handler {
	p.network = NewHandlerNetwork(next)
	return p
}

// ServeHTTP intercepts requests of the clients this worker controls.
// Requests of other clients, and all requests before activation, are passed through.
func (p *CacheProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.trackClient(w, r)

	var res *http.Response
	var err error
	if p.controls(r) {
		res, err = p.Fetch(r.Context(), r)
	} else {
		res, err = p.passThrough(r.Context(), r, rfc9211.FwdReasonBypass)
	}
	if err != nil {
		p.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not get response")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	p.send(w, res)
}

// passThrough forwards the request without touching the cache.
func (p *CacheProxy) passThrough(ctx context.Context, req *http.Request, reason rfc9211.FwdReason) (*http.Response, error) {
	res, err := p.fetchNetwork(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.followUpdates {
		p.followCacheUpdates(ctx, req, res)
	}
	var cs rfc9211.CacheStatus
	cs.Forward(reason)
	cs.Set(res.Header)
	p.logRequest(req, StrategyNetworkOnly, cs)
	return res, nil
}

func (p *CacheProxy) send(w http.ResponseWriter, res *http.Response) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	for k, vv := range res.Header {
		if _, ok := hopByHopHeaders[k]; ok {
			continue
		}
		w.Header()[k] = append([]string(nil), vv...)
	}
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		p.log.Error().Err(err).Msg("Could not write response body to client")
	}
	p.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// controls reports whether this worker intercepts requests of the client.
// Requests without a known client are controlled once the worker is active.
func (p *CacheProxy) controls(r *http.Request) bool {
	if p.State() != StateActivated {
		return false
	}
	c, err := r.Cookie(ClientCookie)
	if err != nil {
		return true
	}
	controller, ok := p.clients.Controller(c.Value)
	if !ok {
		return true
	}
	return controller == p.id
}

// trackClient registers a new client for browser navigations that do not belong to one yet.
// A client opened before activation has no controller until it is claimed.
func (p *CacheProxy) trackClient(w http.ResponseWriter, r *http.Request) {
	if !isNavigation(r) {
		return
	}
	if c, err := r.Cookie(ClientCookie); err == nil {
		if _, ok := p.clients.Controller(c.Value); ok {
			return
		}
	}
	controller := ""
	if p.State() == StateActivated {
		controller = p.id
	}
	id := p.clients.Register(controller)
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	p.log.Debug().Str("client", id).Str("controller", controller).Msg("Registered client")
}
