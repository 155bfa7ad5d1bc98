package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
)

func newRouter(proxy http.Handler, storage cache.Storage, clients *offlinecache.ClientRegistry, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/-/stores", func(w http.ResponseWriter, r *http.Request) {
		names, err := storage.Keys(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("Could not list stores")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, names)
	})
	r.Get("/-/clients", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, clients.List())
	})
	r.Handle("/*", proxy)

	return r
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Could not write response")
	}
}
