// handlers/simulation_routes.go
package handlers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"fms-api/livefeed"
	"fms-api/services"
)

var simulationNamePattern = regexp.MustCompile(`^[A-Za-z0-9 ]+$`)

const (
	minNameLength = 8
	maxNameLength = 30
)

type simulationRequest struct {
	Name string `json:"name"`
}

// validateSimulationName enforces 8-30 characters of letters, digits and
// spaces.
func validateSimulationName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", errors.New("name should not be empty")
	case len(name) < minNameLength:
		return "", errors.New("name must be longer than or equal to 8 characters")
	case len(name) > maxNameLength:
		return "", errors.New("name must be shorter than or equal to 30 characters")
	case !simulationNamePattern.MatchString(name):
		return "", errors.New("name can only contain letters, numbers and spaces")
	}
	return name, nil
}

func SetupSimulationRoutes(app *fiber.App, simulationService *services.SimulationService, hub *livefeed.Hub) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/simulations")

	api.Get("/", func(c *fiber.Ctx) error {
		sim, err := simulationService.GetCurrent(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status": fiber.StatusInternalServerError,
				"error":  "failed to load current simulation",
				"cause":  err.Error(),
			})
		}
		return c.JSON(services.SimulationPayload{Simulation: sim})
	})

	api.Post("/", func(c *fiber.Ctx) error {
		name, err := parseName(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, err)
		}

		sim, err := simulationService.CreateOrStart(c.UserContext(), name)
		if err != nil {
			return writeSimulationError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(services.SimulationPayload{Simulation: sim})
	})

	api.Post("/end", func(c *fiber.Ctx) error {
		name, err := parseName(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, err)
		}

		sim, err := simulationService.EndSimulation(c.UserContext(), name)
		if err != nil {
			return writeSimulationError(c, err)
		}
		return c.JSON(services.SimulationPayload{Simulation: sim})
	})

	api.Get("/stream", hub.StreamSSE)
}

// parseName decodes the request body and validates the name in it.
func parseName(c *fiber.Ctx) (string, error) {
	var req simulationRequest
	if err := c.BodyParser(&req); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	return validateSimulationName(req.Name)
}

// writeError answers with {"status": code, "error": message}.
func writeError(c *fiber.Ctx, code int, err error) error {
	return c.Status(code).JSON(fiber.Map{"status": code, "error": err.Error()})
}

func writeSimulationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrRestartTooSoon), errors.Is(err, services.ErrInvalidName):
		return writeError(c, fiber.StatusBadRequest, err)
	case errors.Is(err, services.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, err)
	default:
		logrus.Errorf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": fiber.StatusInternalServerError,
			"error":  "An unexpected error occurred",
			"cause":  err.Error(),
		})
	}
}
