package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	originFlag         string
	addrFlag           string
	hostFlag           string
	dbFilenameFlag     string
	runtimeFlag        string
	scopeFlag          string
	fallbackFlag       string
	verbosityTraceFlag bool
	logFilenameFlag    string
	maxClientsFlag     int

	// this is set by goreleaser
	version string
)

func init() {
	defineFlags(flag.CommandLine)

	if version == "" {
		version = "DEV"
	}
}

func defineFlags(fs *flag.FlagSet) {
	fs.StringVar(&configFlag, "config", "", "YAML config file")
	fs.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	fs.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	fs.StringVar(&hostFlag, "host", "", "Hostname of origin")
	fs.IntVar(&portFlag, "port", 8080, "Port to listen on")
	fs.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory storage)")
	fs.StringVar(&runtimeFlag, "runtime", offlinecache.DefaultRuntimeName, "Runtime store name, change it to drop all cached content")
	fs.StringVar(&scopeFlag, "scope", "/", "Scope URL cache keys are resolved against")
	fs.StringVar(&fallbackFlag, "fallback", "", "Path of the offline fallback document relative to the scope")
	fs.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	fs.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	fs.IntVar(&maxClientsFlag, "max-clients", offlinecache.DefaultMaxClients, "Number of clients remembered at most")
}

func main() {
	flag.Parse()

	config, err := loadConfig(flag.CommandLine, env.ToMap(os.Environ()))
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if config.Trace {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to a rotated logfile if specified
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if config.LogFile != "" {
		logOutputs = append(logOutputs, &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	storage, closeStorage, err := openStorage(config.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open storage")
	}
	defer closeStorage()

	origin, host, err := config.originURL()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not get origin")
	}
	scope, err := url.Parse(config.Scope)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse scope")
	}

	clients := offlinecache.NewBoundedClientRegistry(config.MaxClients, config.ClientIdle)
	proxy, err := offlinecache.New(offlinecache.Config{
		Storage:            storage,
		Network:            offlinecache.NewOriginNetwork(origin, host),
		RuntimeName:        config.Runtime,
		Scope:              scope,
		FallbackPath:       config.Fallback,
		Clients:            clients,
		Rules:              config.Rules,
		FollowCacheUpdates: config.FollowCacheUpdates,
		Logger:             &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := proxy.Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not install")
	}
	if err := proxy.Activate(ctx); err != nil {
		log.Error().Err(err).Msg("Activated without claiming clients")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: newRouter(proxy, storage, clients, log.Logger),
	}
	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, origin.String(), host)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down server")
	}
	for _, err := range proxy.Wait() {
		log.Warn().Err(err).Msg("Background write failed")
	}
}

// openStorage opens the sqlite storage, or an in-memory one for 'memory'.
func openStorage(filename string) (cache.Storage, func(), error) {
	if filename == "memory" {
		return cache.NewMemStorage(), func() {}, nil
	}
	storage, err := cache.NewSQLiteStorage(filename)
	if err != nil {
		return nil, nil, err
	}
	return storage, func() {
		if err := storage.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close storage")
		}
	}, nil
}
