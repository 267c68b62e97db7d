package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"lls-openai-shim/internal/config"
	"lls-openai-shim/internal/stack"
	"lls-openai-shim/internal/stack/lorem"
	"lls-openai-shim/internal/stack/remote"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewClient constructs the backend client described by cfg.
func NewClient(cfg config.BackendConfig) (stack.Client, error) {
	switch cfg.Kind {
	case config.BackendRemote:
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = config.DefaultBackendTimeout
		}
		client, err := remote.New(config.BackendRemote, cfg, newHTTPClient(timeout))
		if err != nil {
			return nil, fmt.Errorf("initialise remote backend: %w", err)
		}
		return client, nil
	case config.BackendLorem:
		return lorem.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", stack.ErrUnknownBackend, cfg.Kind)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
