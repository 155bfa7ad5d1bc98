package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	offlinecache "github.com/always-cache/offline-cache"
	strategyrules "github.com/always-cache/offline-cache/pkg/strategy-rules"
)

const envPrefix = "OFFLINE_CACHE_"

// Settings can be set in the config file, the environment or with flags.
type Settings struct {
	Origin             string `yaml:"origin" env:"ORIGIN"`
	Addr               string `yaml:"addr" env:"ADDR"`
	Host               string `yaml:"host" env:"HOST"`
	Port               int    `yaml:"port" env:"PORT"`
	DB                 string `yaml:"db" env:"DB"`
	Runtime            string `yaml:"runtime" env:"RUNTIME"`
	Scope              string `yaml:"scope" env:"SCOPE"`
	Fallback           string `yaml:"fallback" env:"FALLBACK"`
	LogFile            string `yaml:"logFile" env:"LOG_FILE"`
	Trace              bool   `yaml:"trace" env:"TRACE"`
	FollowCacheUpdates bool   `yaml:"followCacheUpdates" env:"FOLLOW_CACHE_UPDATES"`

	// MaxClients and ClientIdle bound the client registry.
	MaxClients int           `yaml:"maxClients" env:"MAX_CLIENTS"`
	ClientIdle time.Duration `yaml:"clientIdle" env:"CLIENT_IDLE"`
}

type Config struct {
	Settings `yaml:",inline"`
	Rules    strategyrules.Rules `yaml:"rules"`
}

func defaultConfig() Config {
	return Config{Settings: Settings{
		Port:       8080,
		DB:         "cache.db",
		Scope:      "/",
		MaxClients: offlinecache.DefaultMaxClients,
		ClientIdle: offlinecache.DefaultClientIdle,
	}}
}

// loadConfig merges the defaults, the config file, the environment and the flags set in fs,
// later sources taking precedence.
func loadConfig(fs *flag.FlagSet, environ map[string]string) (Config, error) {
	config := defaultConfig()

	filename := configFlag
	if filename == "" {
		filename = environ[envPrefix+"CONFIG"]
	}
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}

	if err := env.ParseWithOptions(&config.Settings, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return config, err
	}

	applyFlags(&config, fs)

	if err := config.Rules.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func applyFlags(config *Config, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			config.Origin = originFlag
		case "addr":
			config.Addr = addrFlag
		case "host":
			config.Host = hostFlag
		case "port":
			config.Port = portFlag
		case "db":
			config.DB = dbFilenameFlag
		case "runtime":
			config.Runtime = runtimeFlag
		case "scope":
			config.Scope = scopeFlag
		case "fallback":
			config.Fallback = fallbackFlag
		case "log-file":
			config.LogFile = logFilenameFlag
		case "vv":
			config.Trace = verbosityTraceFlag
		case "max-clients":
			config.MaxClients = maxClientsFlag
		}
	})
}

// originURL returns the origin to proxy to and the host to use for it.
// The origin setting takes precedence over addr and host.
func (c Config) originURL() (url.URL, string, error) {
	switch {
	case c.Origin != "":
		originUrl, err := url.Parse(c.Origin)
		if err != nil {
			return url.URL{}, "", err
		}
		return *originUrl, "", nil
	case c.Addr != "":
		originUrl, err := url.Parse("https://" + c.Addr)
		if err != nil {
			return url.URL{}, "", err
		}
		return *originUrl, c.Host, nil
	}
	return url.URL{}, "", fmt.Errorf("please specify origin")
}
