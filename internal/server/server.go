package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/ratelimit"
	"document-qa/internal/service"
)

const sessionLocal = "session_id"

type Server struct {
	app *fiber.App
	cfg *config.ServerConfig
}

// New wires middleware and routes. A nil limiter disables rate limiting.
func New(cfg *config.ServerConfig, svc *service.DocumentService, limiter ratelimit.Limiter) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			id, err := helper.GenerateUUID()
			if err != nil {
				return ""
			}
			return id
		},
	}))
	// outside recover so panicking requests are logged too
	app.Use(requestLogger)
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CorsAllowedOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, " + models.SessionHeader,
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "Retry-After, X-Request-ID",
	}))
	app.Use(otelfiber.Middleware())

	h := &documentHandler{svc: svc}
	h.RegisterRoutes(app, limiter)

	return &Server{app: app, cfg: cfg}
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Info().Msgf("Server is running on http://localhost:%s", s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// ErrorHandler maps pipeline errors to status codes and a JSON body
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, models.ErrInvalidInput):
		code = fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotInitialized):
		code = fiber.StatusConflict
	case errors.Is(err, models.ErrExternalService):
		code = fiber.StatusBadGateway
	}

	msg := err.Error()
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Int("status", code).Msg("Request failed")
		if code == fiber.StatusInternalServerError {
			msg = "internal server error"
		}
	} else {
		log.Warn().Err(err).Str("path", c.Path()).Int("status", code).Msg("Request rejected")
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	chainErr := c.Next()
	if chainErr != nil {
		if err := c.App().ErrorHandler(c, chainErr); err != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	session, _ := c.Locals(sessionLocal).(string)
	log.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("latency", time.Since(start)).
		Str("session", session).
		Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
		Str("ip", c.IP()).
		Msg("Request")
	return nil
}
