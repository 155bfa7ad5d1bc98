package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrMalformedKey = errors.New("malformed key")

const methodSeparator = ":"

// DefaultFallbackPath is the document served to navigations when offline.
// It is resolved against the scope.
const DefaultFallbackPath = "offline.html"

type CacheKeyer struct {
	// Registration scope, all relative request URLs are resolved against it.
	// Usually this is the origin of the application.
	Scope *url.URL
	// Path of the fallback document, relative to the scope.
	FallbackPath string
}

func NewCacheKeyer(scope *url.URL, fallbackPath string) CacheKeyer {
	if scope == nil {
		scope = &url.URL{Path: "/"}
	}
	if fallbackPath == "" {
		fallbackPath = DefaultFallbackPath
	}
	return CacheKeyer{
		Scope:        scope,
		FallbackPath: fallbackPath,
	}
}

// Key returns the identity of a request: the method and the absolute URL.
// Only the request line matters, headers and body are not part of the key.
func (c CacheKeyer) Key(r *http.Request) string {
	return r.Method + methodSeparator + c.resolve(r.URL).String()
}

// FallbackKey returns the fixed key the latest navigation response is stored under,
// regardless of the URL that was navigated to.
func (c CacheKeyer) FallbackKey() string {
	ref, err := url.Parse(c.FallbackPath)
	if err != nil {
		ref = &url.URL{Path: c.FallbackPath}
	}
	return http.MethodGet + methodSeparator + c.resolve(ref).String()
}

// URL resolves a possibly relative path against the scope.
func (c CacheKeyer) URL(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	return c.resolve(ref), nil
}

// GetRequestFromKey creates a request that has the given key.
// It returns an error if the key was not created by a keyer.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || uri == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, key)
	}
	return http.NewRequest(method, uri, nil)
}

func (c CacheKeyer) resolve(u *url.URL) *url.URL {
	resolved := c.Scope.ResolveReference(u)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved
}
