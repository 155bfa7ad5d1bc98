package offlinecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/rfc9211"
)

const offlineDocument = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>Offline</h1>
<p>You are offline and this page has not been saved yet. Try again when the connection is back.</p>
</body>
</html>
`

// networkFirst answers with the network response and keeps it as the offline fallback.
// If the network fails, the fallback is served, and if there is none, the offline page.
func (p *CacheProxy) networkFirst(ctx context.Context, req *http.Request) (*http.Response, error) {
	var cs rfc9211.CacheStatus

	res, err := p.fetchNetwork(ctx, req)
	if err == nil {
		// a body that cannot be read counts as a network failure
		if err = p.storeInBackground(ctx, p.keyer.FallbackKey(), res); err != nil {
			res.Body.Close()
		}
	}
	if err == nil {
		cs.Forward(rfc9211.FwdReasonRequest)
		cs.Set(res.Header)
		p.logRequest(req, StrategyNetworkFirst, cs)
		return res, nil
	}

	p.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Network failed, serving fallback")
	if fallback := p.match(ctx, req, p.keyer.FallbackKey()); fallback != nil {
		cs.Hit()
		cs.Detail = "fallback"
		cs.Set(fallback.Header)
		p.logRequest(req, StrategyNetworkFirst, cs)
		return fallback, nil
	}

	res = offlinePage(req)
	cs.Forward(rfc9211.FwdReasonMiss)
	cs.Detail = "offline-page"
	cs.Set(res.Header)
	p.logRequest(req, StrategyNetworkFirst, cs)
	return res, nil
}

var errRevalidationAborted = errors.New("revalidation aborted")

type revalidation struct {
	res *http.Response
	err error
}

// staleWhileRevalidate answers from the runtime store if possible and always
// refreshes the entry from the network. On a miss it waits for the network.
func (p *CacheProxy) staleWhileRevalidate(ctx context.Context, req *http.Request) (*http.Response, error) {
	var cs rfc9211.CacheStatus
	key := p.keyer.Key(req)

	cached := p.match(ctx, req, key)
	revalidated := p.revalidate(ctx, req, key)

	if cached != nil {
		cs.Hit()
		cs.Set(cached.Header)
		p.logRequest(req, StrategyStaleWhileRevalidate, cs)
		return cached, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-revalidated:
		if r.err != nil {
			p.log.Debug().Err(r.err).Str("url", req.URL.String()).Msg("Cache miss and network failed")
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, r.err)
		}
		cs.Forward(rfc9211.FwdReasonUriMiss)
		cs.Stored = true
		cs.Set(r.res.Header)
		p.logRequest(req, StrategyStaleWhileRevalidate, cs)
		return r.res, nil
	}
}

// revalidate fetches the request and stores the response under key in the background.
// Concurrent revalidations of the same key share one network request.
// The returned channel receives the network response, built for req.
func (p *CacheProxy) revalidate(ctx context.Context, req *http.Request, key string) <-chan revalidation {
	out := make(chan revalidation, 1)
	bg := context.WithoutCancel(ctx)
	outbound := req.Clone(bg)

	p.tasks.Go("revalidate "+key, func() error {
		sent := false
		defer func() {
			// a panicking network must not leave the caller waiting
			if !sent {
				out <- revalidation{err: errRevalidationAborted}
			}
		}()

		leader := false
		v, err, _ := p.revalidations.Do(key, func() (interface{}, error) {
			leader = true
			res, err := p.fetchNetwork(bg, outbound)
			if err != nil {
				return nil, err
			}
			b, err := serializer.ResponseToBytes(res)
			res.Body.Close()
			if err != nil {
				return nil, err
			}
			return storedBytes{b, p.storage.Put(bg, p.runtime, key, b)}, nil
		})
		if err != nil {
			// network failures are not task failures
			out <- revalidation{err: err}
			sent = true
			return nil
		}
		stored := v.(storedBytes)
		res, err := serializer.BytesToResponse(stored.bytes, req)
		out <- revalidation{res: res, err: err}
		sent = true
		// the write is reported once, by the caller that made it
		if stored.err != nil && leader {
			return fmt.Errorf("put %s: %w", key, stored.err)
		}
		return err
	})

	return out
}

type storedBytes struct {
	bytes []byte
	err   error
}

// storeInBackground writes a copy of the response under key without delaying the caller.
// It only fails if the response body cannot be read.
func (p *CacheProxy) storeInBackground(ctx context.Context, key string, res *http.Response) error {
	clone, err := serializer.Clone(res)
	if err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	p.tasks.Go("put "+key, func() error {
		b, err := serializer.ResponseToBytes(clone)
		if err != nil {
			return err
		}
		p.log.Trace().Str("key", key).Int("bytes", len(b)).Msg("Writing to cache")
		return p.storage.Put(bg, p.runtime, key, b)
	})
	return nil
}

// match returns the stored response for key, or nil.
// Storage errors and unreadable entries count as misses.
func (p *CacheProxy) match(ctx context.Context, req *http.Request, key string) *http.Response {
	b, ok, err := p.storage.Match(ctx, p.runtime, key)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil
	}
	if !ok {
		p.log.Trace().Str("key", key).Msg("Cache miss")
		return nil
	}
	res, err := serializer.BytesToResponse(b, req)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Corrupted cache entry")
		return nil
	}
	return res
}

func offlinePage(req *http.Request) *http.Response {
	body := []byte(offlineDocument)
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
