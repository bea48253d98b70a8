// Package server assembles the Fiber application: global middleware, static
// files, the status route and the optional metrics and Swagger endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveapp/docs"
	"liveapp/internal/config"
	handlers "liveapp/internal/http/handler"
	"liveapp/internal/http/middleware"
	"liveapp/internal/logging"
)

// Server wraps the Fiber app together with the settings it was built from.
type Server struct {
	app *fiber.App
	cfg *config.AppConfig
	log *logging.Logger
}

// New builds the application. reg receives the HTTP metrics when metrics are
// enabled; pass prometheus.NewRegistry() in tests.
func New(cfg *config.AppConfig, reg *prometheus.Registry, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Default()
	}

	if cfg.StaticRoot != "" {
		// Missing root: every file request 404s but the status endpoint keeps working.
		if fi, err := os.Stat(cfg.StaticRoot); err != nil {
			log.Error("static_root_unavailable", map[string]any{"static_root": cfg.StaticRoot}, err)
		} else if !fi.IsDir() {
			log.Error("static_root_unavailable", map[string]any{"static_root": cfg.StaticRoot}, errors.New("not a directory"))
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               "liveapp",
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
	})

	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.LoggerWithWriter(os.Stdout, cfg.LogLocation))

	if cfg.MetricsEnabled {
		if reg == nil {
			return nil, errors.New("metrics enabled but no registry given")
		}
		prom, err := middleware.NewPrometheusMiddleware(reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		app.Use(prom.Handler())
		app.Get(middleware.MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	if cfg.SwaggerEnabled {
		app.Get("/swagger/*", swaggerHandler)
	}

	handlers.RegisterRoutes(app, handlers.Options{StaticRoot: cfg.StaticRoot})

	return &Server{app: app, cfg: cfg, log: log}, nil
}

// App exposes the underlying Fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen binds the configured address and serves until Shutdown.
// A bind failure (e.g. the port is taken) is returned immediately.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("server_listening", map[string]any{
		"addr":        ln.Addr().String(),
		"static_root": s.cfg.StaticRoot,
		"pid":         os.Getpid(),
	})
	return s.app.Listener(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// swaggerMu guards docs.SwaggerInfo, which is package-level state in the
// generated docs package.
var swaggerMu sync.Mutex

// swaggerHandler serves the UI with host and scheme taken from the request.
func swaggerHandler(c *fiber.Ctx) error {
	scheme := c.Protocol()
	if proto := c.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	swaggerMu.Lock()
	defer swaggerMu.Unlock()
	docs.SwaggerInfo.Host = c.Get("Host")
	docs.SwaggerInfo.Schemes = []string{scheme}

	return swagger.HandlerDefault(c)
}
