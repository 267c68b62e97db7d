package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"lls-openai-shim/internal/config"
	"lls-openai-shim/internal/openai"
	"lls-openai-shim/internal/stack"
	"lls-openai-shim/internal/translator"
)

const (
	maxBodyBytes        = 4 << 20 // 4 MiB, image data URIs included
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	healthPath          = "/health"
)

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeUpstream       = "upstream_error"
	errTypeServer         = "server_error"
)

type Server struct {
	cfg     config.Config
	adapter *translator.Adapter
	app     *echo.Echo
	address string
	logger  *slog.Logger
}

// New constructs an HTTP server exposing the adapter's OpenAI surface.
func New(cfg config.Config, adapter *translator.Adapter, logger *slog.Logger) (*Server, error) {
	if adapter == nil {
		return nil, errors.New("adapter must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	if len(cfg.Server.APIKeys) > 0 {
		e.Use(apiKeyAuth(cfg.Server.APIKeys))
	}

	srv := &Server{
		cfg:     cfg,
		adapter: adapter,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
		logger:  logger,
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed echo instance.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg)
	s.logger.Info("starting server", "addr", s.address, "backend", s.adapter.Backend().Name())

	// No write timeout: one request may fan out into many backend calls,
	// each bounded by backend.timeout.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET(healthPath, s.handleHealth)
	s.app.GET("/v1/models", s.handleModels)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.POST("/v1/completions", s.handleCompletions)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type modelList struct {
	Object string        `json:"object"`
	Data   []stack.Model `json:"data"`
}

func (s *Server) handleModels(c echo.Context) error {
	models, err := s.adapter.Models.List(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	if models == nil {
		models = []stack.Model{}
	}
	return c.JSON(http.StatusOK, modelList{Object: openai.ObjectList, Data: models})
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req openai.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	resp, err := s.adapter.Chat.Completions.Create(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCompletions(c echo.Context) error {
	var req openai.CompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	resp, err := s.adapter.Completions.Create(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// apiKeyAuth accepts "Authorization: Bearer <key>" for any configured key.
// The health endpoint stays open.
func apiKeyAuth(keys []string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == healthPath
		},
		Validator: func(key string, c echo.Context) (bool, error) {
			for _, candidate := range keys {
				if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
					return true, nil
				}
			}
			return false, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return requestError{
				Status:  http.StatusUnauthorized,
				Message: "invalid or missing API key",
				Type:    errTypeAuthentication,
				Code:    "invalid_api_key",
			}
		},
	})
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    errTypeInvalidRequest,
			}
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return requestError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
				Type:    errTypeInvalidRequest,
			}
		}
		if errors.Is(err, openai.ErrInvalidRequest) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: err.Error(),
				Type:    errTypeInvalidRequest,
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    errTypeInvalidRequest,
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    errTypeInvalidRequest,
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		errType := errTypeInvalidRequest
		if he.Code >= http.StatusInternalServerError {
			errType = errTypeServer
		}
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), errType, "")
		return
	}

	slog.Error("unhandled error", "error", err)
	_ = writeError(c, http.StatusInternalServerError, "internal server error", errTypeServer, "")
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, openai.ErrInvalidRequest) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    errTypeInvalidRequest,
		}
	}

	var apiErr *stack.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsClientError() {
			return requestError{
				Status:  apiErr.StatusCode,
				Message: apiErr.Message,
				Type:    errTypeInvalidRequest,
			}
		}
		return requestError{
			Status:  http.StatusBadGateway,
			Message: apiErr.Error(),
			Type:    errTypeUpstream,
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return requestError{
			Status:  http.StatusGatewayTimeout,
			Message: "backend did not answer in time",
			Type:    errTypeUpstream,
		}
	case errors.Is(err, stack.ErrBackendUnavailable),
		errors.Is(err, translator.ErrEmptyBackendResponse):
		return requestError{
			Status:  http.StatusBadGateway,
			Message: err.Error(),
			Type:    errTypeUpstream,
		}
	}

	return err
}

func printStartupBanner(cfg config.Config) {
	host := "127.0.0.1"
	port := cfg.Server.Port

	fmt.Println()
	color.Green("lls-openai-shim ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	if cfg.Backend.Kind == config.BackendRemote {
		fmt.Printf("Backend: Llama Stack at %s\n", cfg.Backend.BaseURL)
	} else {
		color.Yellow("Backend: %s (offline, generated text)", cfg.Backend.Kind)
	}
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  POST /v1/completions")
	fmt.Println("  POST /v1/chat/completions")
	if len(cfg.Server.APIKeys) > 0 {
		color.Cyan("API key required: send Authorization: Bearer <key>")
	}
	fmt.Printf("Example:\n  curl http://%s:%d/v1/chat/completions -H 'Content-Type: application/json' -d '{\"model\":\"llama3.2:3b\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
