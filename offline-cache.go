// Package offlinecache is an intercepting HTTP cache that keeps a web application
// usable offline.
//
// Navigations (and anything accepting HTML) are served network-first, with the
// latest successful document kept as the offline fallback. Everything else is
// served stale-while-revalidate from a single runtime store. Activating a new
// version deletes every store except its own.
package offlinecache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/background"
	strategyrules "github.com/always-cache/offline-cache/pkg/strategy-rules"
	"github.com/always-cache/offline-cache/rfc9211"
)

// DefaultRuntimeName is the store name used when none is configured.
// Changing the runtime name invalidates all cached content on the next activation.
const DefaultRuntimeName = "offline-cache-runtime-v1"

var (
	// ErrNoResponse is returned when neither the cache nor the network could answer.
	ErrNoResponse = errors.New("no response from cache or network")
	// ErrNoNetwork is the network error of a proxy without network.
	ErrNoNetwork = errors.New("no network configured")
)

type Config struct {
	// Storage for the runtime store. Required.
	Storage cache.Storage
	// Network used for all requests.
	// If nil, use Middleware or every network request fails.
	Network Network
	// Name of the current runtime store, DefaultRuntimeName if empty.
	RuntimeName string
	// Registration scope. Relative request URLs are resolved against it
	// when computing cache keys. Defaults to "/".
	Scope *url.URL
	// Path of the offline fallback document relative to the scope,
	// "offline.html" if empty.
	FallbackPath string
	// Clients that can be claimed on activation. A new registry is used if nil.
	Clients Clients
	// Optional strategy overrides for GET requests.
	Rules strategyrules.Rules
	// Refresh stored entries named in the Cache-Update header of responses
	// to unsafe requests.
	FollowCacheUpdates bool
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type CacheProxy struct {
	id            string
	runtime       string
	storage       cache.Storage
	network       Network
	keyer         cachekey.CacheKeyer
	clients       Clients
	rules         strategyrules.Rules
	followUpdates bool
	log           zerolog.Logger
	tasks         *background.Group
	revalidations singleflight.Group

	mu    sync.RWMutex
	state State
}

// New creates a proxy in the parsed state.
// Install and Activate it before it handles requests through ServeHTTP.
func New(config Config) (*CacheProxy, error) {
	if config.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if err := config.Rules.Validate(); err != nil {
		return nil, err
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	runtime := config.RuntimeName
	if runtime == "" {
		runtime = DefaultRuntimeName
	}
	clients := config.Clients
	if clients == nil {
		clients = NewClientRegistry()
	}

	id := uuid.NewString()
	logger = logger.With().
		Str("runtime", runtime).
		Str("worker", id).
		Logger()

	return &CacheProxy{
		id:            id,
		runtime:       runtime,
		storage:       config.Storage,
		network:       config.Network,
		keyer:         cachekey.NewCacheKeyer(config.Scope, config.FallbackPath),
		clients:       clients,
		rules:         config.Rules,
		followUpdates: config.FollowCacheUpdates,
		log:           logger,
		tasks:         background.NewGroup(logger),
		state:         StateParsed,
	}, nil
}

// ID identifies this worker, e.g. as the controller of clients.
func (p *CacheProxy) ID() string {
	return p.id
}

// RuntimeName returns the name of the current runtime store.
func (p *CacheProxy) RuntimeName() string {
	return p.runtime
}

// Wait blocks until all background cache writes are done.
// It returns the errors of the writes that failed since the last Wait;
// these failures are otherwise invisible to callers.
func (p *CacheProxy) Wait() []error {
	return p.tasks.Wait()
}

func (p *CacheProxy) fetchNetwork(ctx context.Context, req *http.Request) (*http.Response, error) {
	if p.network == nil {
		return nil, ErrNoNetwork
	}
	return p.network.Fetch(ctx, req)
}

func (p *CacheProxy) logRequest(r *http.Request, strategy Strategy, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	p.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("strategy", string(strategy)).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Str("detail", cs.Detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
