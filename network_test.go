package offlinecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestOriginNetwork(t *testing.T) {
	seen := make(chan *http.Request, 2)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer origin.Close()
	originURL, _ := url.Parse(origin.URL)

	network := NewOriginNetwork(*originURL, "app.example")

	req := httptest.NewRequest("GET", "https://app.example/page?x=1", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "text/html")
	res, err := network.Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if body := readBody(t, res); body != "ok" {
		t.Fatalf("Body is %s", body)
	}
	got := <-seen
	if got.Host != "app.example" {
		t.Fatalf("Host is %s", got.Host)
	}
	if got.URL.RequestURI() != "/page?x=1" {
		t.Fatalf("Request URI is %s", got.URL.RequestURI())
	}
	if got.Header.Get("X-Forwarded-For") != "" {
		t.Fatal("X-Forwarded-For forwarded")
	}
	if got.Header.Get("Accept") != "text/html" {
		t.Fatal("Accept not forwarded")
	}

	res, err = network.Fetch(context.Background(), httptest.NewRequest("GET", "/moved", nil))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusFound {
		t.Fatalf("Redirect followed, status %d", res.StatusCode)
	}
}

func TestOriginNetworkUnreachable(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	originURL, _ := url.Parse(origin.URL)
	origin.Close()

	_, err := NewOriginNetwork(*originURL, "").Fetch(context.Background(), httptest.NewRequest("GET", "/", nil))
	if err == nil {
		t.Fatal("Fetch from closed server succeeded")
	}
}

func TestHandlerNetwork(t *testing.T) {
	network := NewHandlerNetwork(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("down"))
	}))

	res, err := network.Fetch(context.Background(), httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if body := readBody(t, res); body != "down" {
		t.Fatalf("Body is %s", body)
	}
}
