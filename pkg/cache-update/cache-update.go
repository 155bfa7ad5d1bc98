package cacheupdate

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const HeaderName = "Cache-Update"

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Resolved URL of the resource to refresh.
	URL *url.URL
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

// GetCacheUpdates gets the updates specified by the response to an unsafe request.
// Responses to safe requests never trigger updates.
// The request is used in order to resolve potentially relative update paths.
// Entries naming another host are ignored.
func GetCacheUpdates(req *http.Request, res *http.Response) []CacheUpdate {
	if req == nil || res == nil || safeMethod(req.Method) {
		return nil
	}
	values := res.Header.Values(HeaderName)
	if len(values) == 0 {
		return nil
	}
	updates := make([]CacheUpdate, 0, len(values))
	for _, update := range values {
		path := strings.TrimSpace(strings.Split(update, ";")[0])
		if path == "" {
			continue
		}
		u, err := getURL(req, path)
		if err != nil {
			continue
		}
		updates = append(updates, CacheUpdate{
			URL:   u,
			Delay: getDelay(update),
		})
	}
	return updates
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

var errForeignUpdate = errors.New("cache update for another origin")

// getURL resolves the path of a `Cache-Update` entry against the request URL.
// A response may only update resources of its own host.
func getURL(r *http.Request, path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if ref.Scheme != "" || ref.Host != "" {
		host := r.URL.Host
		if host == "" {
			host = r.Host
		}
		if ref.Host == "" || !strings.EqualFold(ref.Host, host) {
			return nil, errForeignUpdate
		}
	}
	return r.URL.ResolveReference(ref), nil
}

// getDelay returns the delay to wait before updating the cache for from the `Cache-Update` header parameter.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// Directives are separated by a semicolon.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayDirective.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
