package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/lmsapp/lmsauth/client"
	clientfs "github.com/lmsapp/lmsauth/client/stores/fs"
	clientredis "github.com/lmsapp/lmsauth/client/stores/redis"
)

const appName = "lmsctl"

const sessionEndedMessage = "session ended, please log in again"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openBackend returns the credential backend named by cfg.Store and a closer
// for any connection it holds.
func openBackend(cfg *Config) (client.KeyValueStore, io.Closer, error) {
	switch cfg.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return clientredis.NewStore(rdb, cfg.RedisPrefix), rdb, nil
	case "fs":
		if cfg.Passphrase == "" {
			return nil, nil, errors.New("a passphrase is required for the fs store (set LMS_PASSPHRASE)")
		}
		store, err := clientfs.NewEncryptedStore(cfg.StorePath, appName, cfg.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("opening credentials file: %w", err)
		}
		return store, nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// openSession builds a session whose unauthorized handler prints to errOut.
func openSession(cfg *Config, errOut io.Writer) (*client.Session, io.Closer, error) {
	backend, closer, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	s, err := client.NewSession(cfg.BaseURL, backend,
		client.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		client.WithLogger(logger),
		client.WithUnauthorizedDebounce(cfg.Debounce),
		client.WithUnauthorizedHandler(func() {
			fmt.Fprintln(errOut, sessionEndedMessage)
		}),
	)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return s, closer, nil
}
