// Package webserver serves the websocket endpoint, a small read-only HTTP API
// and Prometheus metrics.
package webserver

import (
	"context"
	nativeerrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	// DefaultServeAddr is the default address to serve on.
	DefaultServeAddr = ":8080"
	// DefaultWriteTimeout is the default timeout for writing.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultReadTimeout is the default timeout for reading.
	DefaultReadTimeout = 15 * time.Second
	// shutdownTimeout is the timeout for graceful shutdown.
	shutdownTimeout = 15 * time.Second
)

// WebServer serves HTTP routes. Populate them with PopulateRoutes before
// calling Run.
type WebServer struct {
	logger     *zap.Logger
	config     Config
	httpServer *http.Server
	router     *mux.Router
	running    bool
	// runningMutex locks running.
	runningMutex sync.Mutex
}

// Config is the configuration that is used in order to create and run a web
// server.
type Config struct {
	// Address for the web server to listen to.
	ServeAddr string
	// WriteTimeout is the duration to wait until write fails with a timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the duration to wait until read fails with a timeout.
	ReadTimeout time.Duration
}

// NewWebServer creates a new WebServer and sets up initial stuff. It expects
// the passed Config to be filled correctly. If you need default values, these
// are exported as DefaultServeAddr, DefaultWriteTimeout and
// DefaultReadTimeout. Run it with WebServer.Run and do not forget to call
// WebServer.PopulateRoutes before.
func NewWebServer(logger *zap.Logger, config Config) (*WebServer, error) {
	if config.ServeAddr == "" {
		return nil, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindInvalidConfig,
			Message: "no addr provided in config",
		}
	}
	// Setup web server.
	server := &WebServer{
		logger: logger,
		config: config,
		router: mux.NewRouter(),
	}
	// Enable logging.
	server.router.Use(loggingMiddleware(logger))
	// Disable caching.
	server.router.Use(noCacheMiddleware)
	// Setup not found handler.
	server.router.NotFoundHandler = noCacheMiddleware(loggingMiddleware(logger)(http.NotFoundHandler()))
	server.router.MethodNotAllowedHandler = noCacheMiddleware(loggingMiddleware(logger)(http.HandlerFunc(methodNotAllowed)))
	// Enable CORS.
	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}).Handler(server.router)
	server.httpServer = &http.Server{
		Handler:      handler,
		Addr:         config.ServeAddr,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
	}
	return server, nil
}

// Handler returns the http.Handler with all middlewares applied.
func (server *WebServer) Handler() http.Handler {
	return server.httpServer.Handler
}

// Run starts the web server and serves until the given context.Context is
// done.
func (server *WebServer) Run(ctx context.Context) error {
	// Check if already running.
	server.runningMutex.Lock()
	if server.running {
		server.runningMutex.Unlock()
		return errors.NewInternalError("web server already running", nil)
	}
	server.running = true
	server.runningMutex.Unlock()
	// Start web server.
	serveErr := make(chan error, 1)
	go func() {
		server.logger.Info("web server running", zap.String("addr", server.config.ServeAddr))
		err := server.httpServer.ListenAndServe()
		if err != nil && !nativeerrors.Is(err, http.ErrServerClosed) {
			serveErr <- errors.NewInternalErrorFromErr(err, "listen and serve", errors.Details{"addr": server.config.ServeAddr})
		}
		close(serveErr)
	}()
	// Wait for stop command.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "shutdown web server", nil)
	}
	return nil
}
