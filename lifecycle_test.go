package offlinecache

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/rfc9211"
)

func activate(t *testing.T, p *CacheProxy) {
	t.Helper()
	if err := p.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestInstallSkipsWaiting(t *testing.T) {
	p := newTestProxy(t, Config{})
	if p.State() != StateParsed {
		t.Fatalf("State is %s", p.State())
	}
	if err := p.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.State() != StateActivating {
		t.Fatalf("State is %s", p.State())
	}
	if err := p.Install(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Second install error is %v", err)
	}
}

func TestActivateBeforeInstall(t *testing.T) {
	p := newTestProxy(t, Config{})
	if err := p.Activate(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Error is %v", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	p := newTestProxy(t, Config{})
	for _, kind := range []EventKind{EventInstall, EventActivate} {
		res, err := p.Route(kind, nil)(context.Background())
		if err != nil || res != nil {
			t.Fatalf("Event %d: %v %v", kind, res, err)
		}
	}
	if p.State() != StateActivated {
		t.Fatalf("State is %s", p.State())
	}
}

func TestActivateDeletesOtherStores(t *testing.T) {
	storage := cache.NewMemStorage()
	for _, name := range []string{"offline-cache-runtime-v0", DefaultRuntimeName, "precache", "other-app"} {
		put(t, storage, name, "GET:https://app.example/", respond(200, name))
	}
	p := newTestProxy(t, Config{Storage: storage})
	activate(t, p)

	names, err := storage.Keys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{DefaultRuntimeName}, names); diff != "" {
		t.Fatalf("Stores mismatch (-want +got):\n%s", diff)
	}
	if body := readBody(t, stored(t, storage, "GET:https://app.example/")); body != DefaultRuntimeName {
		t.Fatalf("Runtime entry body is %s", body)
	}
}

func TestActivateWithNewRuntimeName(t *testing.T) {
	storage := cache.NewMemStorage()
	put(t, storage, DefaultRuntimeName, "GET:https://app.example/", respond(200, "old"))
	put(t, storage, "offline-cache-runtime-v2", "GET:https://app.example/", respond(200, "new"))
	p := newTestProxy(t, Config{Storage: storage, RuntimeName: "offline-cache-runtime-v2"})
	activate(t, p)

	names, _ := storage.Keys(context.Background())
	if diff := cmp.Diff([]string{"offline-cache-runtime-v2"}, names); diff != "" {
		t.Fatalf("Stores mismatch (-want +got):\n%s", diff)
	}
}

func TestActivateIgnoresStorageFailures(t *testing.T) {
	tests := []struct {
		name    string
		storage failingStorage
	}{
		{"keys", failingStorage{Storage: cache.NewMemStorage(), keysErr: errors.New("keys")}},
		{"delete", failingStorage{Storage: cache.NewMemStorage(), deleteErr: errors.New("delete")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			put(t, tt.storage.Storage, "old", "GET:https://app.example/", respond(200, "old"))
			p := newTestProxy(t, Config{Storage: tt.storage})
			activate(t, p)
			if p.State() != StateActivated {
				t.Fatalf("State is %s", p.State())
			}
		})
	}
}

type failingClients struct {
	*ClientRegistry
	err error
}

func (c failingClients) Claim(ctx context.Context, controllerID string) error {
	return c.err
}

func TestActivateReportsClaimFailure(t *testing.T) {
	errClaim := errors.New("claim")
	p := newTestProxy(t, Config{Clients: failingClients{NewClientRegistry(), errClaim}})
	if err := p.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Activate(context.Background()); !errors.Is(err, errClaim) {
		t.Fatalf("Error is %v", err)
	}
	if p.State() != StateActivated {
		t.Fatalf("State is %s", p.State())
	}
}

func TestActivateClaimsClients(t *testing.T) {
	clients := NewClientRegistry()
	p := newTestProxy(t, Config{Clients: clients, Network: NetworkFunc(offline)})

	// client opened before the worker was active
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, navigation("/"))
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != ClientCookie {
		t.Fatalf("Cookies are %v", cookies)
	}
	if controller, _ := clients.Controller(cookies[0].Value); controller != "" {
		t.Fatalf("Client controlled by %s before activation", controller)
	}

	activate(t, p)
	if controller, _ := clients.Controller(cookies[0].Value); controller != p.ID() {
		t.Fatalf("Client controlled by %s", controller)
	}
}

func TestNewWorkerTakesOverClients(t *testing.T) {
	clients := NewClientRegistry()
	network := NetworkFunc(offline)
	old := newTestProxy(t, Config{Clients: clients, Network: network, RuntimeName: "v1"})
	activate(t, old)

	rr := httptest.NewRecorder()
	old.ServeHTTP(rr, navigation("/"))
	cookie := rr.Result().Cookies()[0]

	current := newTestProxy(t, Config{Clients: clients, Network: network, RuntimeName: "v2"})
	activate(t, current)

	req := navigation("/")
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	current.ServeHTTP(rr, req)
	if cs := rr.Result().Header.Get(rfc9211.HeaderName); !strings.Contains(cs, "detail=offline-page") {
		t.Fatalf("New worker Cache-Status is %s", cs)
	}

	req = navigation("/")
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	old.ServeHTTP(rr, req)
	if rr.Code != 502 {
		t.Fatalf("Old worker status is %d", rr.Code)
	}
}
