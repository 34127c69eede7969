package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "signal_requests_total",
	Help: "Signal submissions by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(requestsTotal)
}

// Handler wires the server to the rest of the bot
type Handler struct {
	signalChan chan<- *Signal
	positions  func() any
	health     func() (bool, any)
}

// NewHandler creates a signal handler. positions and health may be nil.
func NewHandler(
	signalChan chan<- *Signal,
	positions func() any,
	health func() (bool, any),
) *Handler {
	return &Handler{
		signalChan: signalChan,
		positions:  positions,
		health:     health,
	}
}

// Server runs the HTTP server for receiving signals
type Server struct {
	app     *fiber.App
	handler *Handler
	host    string
	port    int
	now     func() time.Time
}

// NewServer creates a new signal server. ratePerMinute caps POST /signal per client IP.
func NewServer(host string, port, ratePerMinute int, handler *Handler) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
		BodyLimit:             16 * 1024,
	})

	s := &Server{
		app:     app,
		handler: handler,
		host:    host,
		port:    port,
		now:     time.Now,
	}

	s.setupRoutes(ratePerMinute)
	return s
}

func (s *Server) setupRoutes(ratePerMinute int) {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/positions", s.handlePositions)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Post("/signal", limiter.New(limiter.Config{
		Max:        ratePerMinute,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			requestsTotal.WithLabelValues("rate_limited").Inc()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		},
	}), s.handleSignal)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	body := fiber.Map{
		"status": "ok",
		"time":   s.now().Unix(),
	}
	if s.handler.health != nil {
		healthy, detail := s.handler.health()
		body["components"] = detail
		if !healthy {
			body["status"] = "degraded"
			return c.Status(fiber.StatusServiceUnavailable).JSON(body)
		}
	}
	return c.JSON(body)
}

func (s *Server) handlePositions(c *fiber.Ctx) error {
	if s.handler.positions == nil {
		return c.JSON([]any{})
	}
	return c.JSON(s.handler.positions())
}

func (s *Server) handleSignal(c *fiber.Ctx) error {
	var sig Signal
	if err := c.BodyParser(&sig); err != nil {
		requestsTotal.WithLabelValues("invalid").Inc()
		log.Warn().Err(err).Msg("failed to parse signal payload")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if err := sig.Validate(); err != nil {
		requestsTotal.WithLabelValues("invalid").Inc()
		log.Warn().Err(err).Str("ca", sig.ContractAddress).Msg("rejected signal")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	sig.ReceivedAt = s.now()

	log.Info().
		Str("symbol", sig.Symbol).
		Str("ca", sig.ContractAddress).
		Int("score", sig.Score).
		Float64("price_hint", sig.PriceHint).
		Float64("detected_s", sig.DetectionLatencySeconds).
		Msg("signal received")

	// Send to channel (non-blocking)
	select {
	case s.handler.signalChan <- &sig:
	default:
		requestsTotal.WithLabelValues("dropped").Inc()
		log.Warn().Str("ca", sig.ContractAddress).Msg("signal channel full, dropping signal")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "busy"})
	}

	requestsTotal.WithLabelValues("accepted").Inc()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
		"signal": sig,
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting signal server")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
