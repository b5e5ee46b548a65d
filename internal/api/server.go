// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package api serves the patchfleet HTTP API. Requests are attributed to the
// owner named in OwnerHeader, which a trusted upstream proxy sets after
// authenticating the caller.
package api // import "github.com/toeirei/patchfleet/internal/api"

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/jobs"
	"github.com/toeirei/patchfleet/internal/logging"
)

// OwnerHeader carries the fleet owner of a request.
const OwnerHeader = "X-Patchfleet-Owner"

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	Store      db.Store
	Dispatcher *jobs.Dispatcher
}

// New returns the fiber app with every route registered.
func New(store db.Store, dispatcher *jobs.Dispatcher) *fiber.App {
	s := &Server{Store: store, Dispatcher: dispatcher}

	app := fiber.New(fiber.Config{
		AppName:               "patchfleet API v1",
		ReadTimeout:           30 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(fiberrecover.New())
	app.Use(requestLog)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	v1 := app.Group("/api/v1", requireOwner)
	v1.Get("/summary", s.summary)

	v1.Post("/inventory", s.dispatchInventory)
	v1.Post("/scan", s.dispatchScan)
	v1.Post("/packages/:id/update", s.dispatchUpdatePackage)

	systems := v1.Group("/systems")
	systems.Get("/", s.listSystems)
	systems.Get("/:id", s.getSystem)
	systems.Delete("/:id", s.deleteSystem)
	systems.Get("/:id/packages", s.listPackages)
	systems.Get("/:id/cves", s.listCVEs)
	systems.Post("/:id/update", s.dispatchUpdateHost)

	jobGroup := v1.Group("/jobs")
	jobGroup.Get("/", s.pollJobs)
	jobGroup.Delete("/", s.clearJobs)
	jobGroup.Get("/:id", s.getJob)
	jobGroup.Post("/:id/retry", s.retryJob)

	return app
}

// Listen serves app on addr until ctx is done.
func Listen(ctx context.Context, app *fiber.App, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- app.Listen(addr) }()
	logging.Infof("api listening on %s", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

func requireOwner(c *fiber.Ctx) error {
	owner := c.Get(OwnerHeader)
	if owner == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing "+OwnerHeader+" header")
	}
	c.Locals("owner", owner)
	return c.Next()
}

func ownerOf(c *fiber.Ctx) string {
	owner, _ := c.Locals("owner").(string)
	return owner
}

func requestLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	logging.With("method", c.Method(), "path", c.Path(), "status", status, "owner", c.Get(OwnerHeader)).
		Debug("request", "took", time.Since(start))
	return err
}

// errorHandler maps store sentinels onto status codes and answers JSON.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, db.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, db.ErrDuplicate):
		code = fiber.StatusConflict
	}
	if code == fiber.StatusInternalServerError {
		logging.With("path", c.Path()).Error("request failed", "err", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
