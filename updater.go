package offlinecache

import (
	"context"
	"net/http"
	"time"

	cacheupdate "github.com/always-cache/offline-cache/pkg/cache-update"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// followCacheUpdates refreshes the entries named in the Cache-Update header
// of the response to an unsafe request.
func (p *CacheProxy) followCacheUpdates(ctx context.Context, req *http.Request, res *http.Response) {
	bg := context.WithoutCancel(ctx)
	for _, update := range cacheupdate.GetCacheUpdates(req, res) {
		update := update
		p.log.Trace().Str("update", update.URL.String()).Msg("Updating cache based on header")
		p.tasks.Go("update "+update.URL.String(), func() error {
			if update.Delay > 0 {
				time.Sleep(update.Delay)
			}
			return p.saveRequest(bg, update.URL.String())
		})
	}
}

// saveRequest fetches the URL and stores the response in the runtime store.
func (p *CacheProxy) saveRequest(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	res, err := p.fetchNetwork(ctx, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	b, err := serializer.ResponseToBytes(res)
	if err != nil {
		return err
	}
	return p.storage.Put(ctx, p.runtime, p.keyer.Key(req), b)
}
