package offlinecache

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientRegistry(t *testing.T) {
	clients := NewClientRegistry()
	a := clients.Register("")
	b := clients.Register("worker-1")
	if a == b {
		t.Fatal("Duplicate client id")
	}
	if _, ok := clients.Controller("unknown"); ok {
		t.Fatal("Unknown client found")
	}
	if controller, ok := clients.Controller(b); !ok || controller != "worker-1" {
		t.Fatalf("Controller is %q", controller)
	}

	if err := clients.Claim(context.Background(), "worker-2"); err != nil {
		t.Fatal(err)
	}
	for _, c := range clients.List() {
		if c.Controller != "worker-2" {
			t.Fatalf("Client %s controlled by %q", c.ID, c.Controller)
		}
	}
	if n := len(clients.List()); n != 2 {
		t.Fatalf("%d clients", n)
	}
}

func TestClientRegistryClaimCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewClientRegistry().Claim(ctx, "worker"); err == nil {
		t.Fatal("Claim with canceled context succeeded")
	}
}

func TestClientRegistryIsBounded(t *testing.T) {
	clients := NewBoundedClientRegistry(10, time.Hour)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clients.now = func() time.Time { return clock }

	var ids []string
	for i := 0; i < 1000; i++ {
		clock = clock.Add(time.Second)
		ids = append(ids, clients.Register("worker"))
	}

	if n := len(clients.List()); n != 10 {
		t.Fatalf("%d clients", n)
	}
	if _, ok := clients.Controller(ids[0]); ok {
		t.Fatal("Oldest client kept")
	}
	if _, ok := clients.Controller(ids[999]); !ok {
		t.Fatal("Newest client evicted")
	}
}

func TestClientRegistryEvictsLeastRecentlySeen(t *testing.T) {
	clients := NewBoundedClientRegistry(2, time.Hour)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clients.now = func() time.Time { return clock }

	first := clients.Register("")
	clock = clock.Add(time.Second)
	second := clients.Register("")
	clock = clock.Add(time.Second)
	clients.Controller(first)
	clock = clock.Add(time.Second)
	clients.Register("")

	if _, ok := clients.Controller(first); !ok {
		t.Fatal("Recently seen client evicted")
	}
	if _, ok := clients.Controller(second); ok {
		t.Fatal("Least recently seen client kept")
	}
}

func TestClientRegistryForgetsIdleClients(t *testing.T) {
	clients := NewBoundedClientRegistry(100, time.Minute)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clients.now = func() time.Time { return clock }

	idle := clients.Register("worker")
	clock = clock.Add(30 * time.Second)
	active := clients.Register("worker")
	clock = clock.Add(45 * time.Second)

	if _, ok := clients.Controller(idle); ok {
		t.Fatal("Idle client kept")
	}
	if _, ok := clients.Controller(active); !ok {
		t.Fatal("Active client forgotten")
	}
	if n := len(clients.List()); n != 1 {
		t.Fatalf("%d clients", n)
	}
}

func TestCookielessRequestsDoNotGrowRegistry(t *testing.T) {
	clients := NewBoundedClientRegistry(16, time.Hour)
	p := newTestProxy(t, Config{Clients: clients, Network: NetworkFunc(offline)})
	activate(t, p)

	for i := 0; i < 1000; i++ {
		p.ServeHTTP(httptest.NewRecorder(), navigation("/"))
	}
	if n := len(clients.List()); n != 16 {
		t.Fatalf("%d clients registered", n)
	}

	// plain HTML requests without browser navigation metadata, e.g. crawlers
	crawler := NewClientRegistry()
	p = newTestProxy(t, Config{Clients: crawler, Network: NetworkFunc(offline)})
	activate(t, p)
	for i := 0; i < 100; i++ {
		req := asset("/")
		req.Header.Set("Accept", "text/html")
		p.ServeHTTP(httptest.NewRecorder(), req)
	}
	if n := len(crawler.List()); n != 0 {
		t.Fatalf("%d clients registered", n)
	}
}
