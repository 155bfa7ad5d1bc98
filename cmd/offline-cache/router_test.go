package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
)

func TestRouter(t *testing.T) {
	storage := cache.NewMemStorage()
	if err := storage.Put(context.Background(), "runtime", "GET:/", []byte("x")); err != nil {
		t.Fatal(err)
	}
	clients := offlinecache.NewClientRegistry()
	id := clients.Register("worker")
	proxy := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("proxied " + r.URL.Path))
	})
	router := newRouter(proxy, storage, clients, zerolog.Nop())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/-/stores", nil))
	var names []string
	if err := json.NewDecoder(rr.Body).Decode(&names); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"runtime"}, names); diff != "" {
		t.Fatalf("Stores mismatch (-want +got):\n%s", diff)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/-/clients", nil))
	var list []offlinecache.Client
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]offlinecache.Client{{ID: id, Controller: "worker"}}, list); diff != "" {
		t.Fatalf("Clients mismatch (-want +got):\n%s", diff)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/articles/1", nil))
	if body := rr.Body.String(); body != "proxied /articles/1" {
		t.Fatalf("Body is %s", body)
	}
}
