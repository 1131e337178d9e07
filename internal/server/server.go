package server

import (
	"context"
	"encoding/json"

	"backend-shuttletrack/internal/auth"
	"backend-shuttletrack/internal/config"
	"backend-shuttletrack/internal/stream"
	"backend-shuttletrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	Tracking *tracking.Service
	Stream   *stream.Hub
}

func NewServer(cfg config.Config, svc *tracking.Service, hub *stream.Hub) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.Origins()}))

	s := &Server{
		App:      app,
		Cfg:      cfg,
		Tracking: svc,
		Stream:   hub,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	drivers := auth.JWTMiddleware(s.Cfg.JWTSecret, auth.RoleDriver, auth.RoleDispatcher)
	dispatchers := auth.JWTMiddleware(s.Cfg.JWTSecret, auth.RoleDispatcher)

	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, drivers, dispatchers)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, s.snapshotJSON)
}

func (s *Server) snapshotJSON(ctx context.Context, ref string) ([]byte, error) {
	snap, err := s.Tracking.Snapshot(ctx, ref)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}
