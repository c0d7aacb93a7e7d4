package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/UiS-Subsea/rov-bridge/pkg/command"
	customlog "github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// ModeSwitcher switches the bridge between manual and autonomous input.
type ModeSwitcher interface {
	SetMode(mode string) error
}

// RovHandler turns single-purpose HTTP requests into vehicle commands.
type RovHandler struct {
	producer command.Producer
	modes    ModeSwitcher
	logger   customlog.Logger

	mu        sync.Mutex
	connected map[string]bool
}

// NewRovHandler creates a new handler for the /api/rov endpoints.
func NewRovHandler(producer command.Producer, modes ModeSwitcher, logger customlog.Logger) *RovHandler {
	return &RovHandler{
		producer:  producer,
		modes:     modes,
		logger:    logger,
		connected: make(map[string]bool),
	}
}

// RegisterRovRoutes registers the trigger endpoints under /api/rov. Every
// client gets its own token bucket of limit requests per second.
func RegisterRovRoutes(app *fiber.App, producer command.Producer, modes ModeSwitcher, limit float64, burst int, logger customlog.Logger) *RovHandler {
	h := NewRovHandler(producer, modes, logger)

	group := app.Group("/api/rov", NewClientRateLimiter(rate.Limit(limit), burst).Handler())
	group.Post("/Front_Light_On", h.lightHandler(command.KindFrontLightOn))
	group.Post("/Bottom_Light_On", h.lightHandler(command.KindBottomLightOn))
	group.Post("/DriveMode", h.handleDriveMode)
	group.Post("/ManipulatorConnection", h.connectionHandler("Manipulator"))
	group.Post("/RovConnection", h.connectionHandler("ROV"))

	logger.Infof("Registered ROV trigger endpoints under /api/rov")
	return h
}

func (h *RovHandler) lightHandler(kind command.Kind) fiber.Handler {
	name := kind.String()
	return func(c *fiber.Ctx) error {
		var req LightCommand
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Invalid request body: %v", err),
			})
		}
		if req.Value == 0 {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"message": name + " Off",
			})
		}

		if !h.producer.Enqueue(command.NewEnvelope(command.Ints(kind, req.Value))) {
			h.logger.Errorf("Failed to enqueue %s command", name)
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": fmt.Sprintf("Failed to queue %s: %v", name, command.ErrQueueClosed),
			})
		}

		state := "OFF"
		if req.Value == 2 {
			state = "ON"
		}
		h.logger.Debugf("%s command queued with value %d", name, req.Value)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"message": fmt.Sprintf("%s turned %s", name, state),
		})
	}
}

func (h *RovHandler) handleDriveMode(c *fiber.Ctx) error {
	var req DriveModeCommand
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Invalid request body: %v", err),
		})
	}
	if req.Mode == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Mode is required",
		})
	}

	if err := h.modes.SetMode(req.Mode); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Drive mode set to " + req.Mode,
	})
}

func (h *RovHandler) connectionHandler(device string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ConnectionCommand
		if err := c.BodyParser(&req); err != nil || req.IsConnected == nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "IsConnected is required",
			})
		}

		if h.setConnected(device, *req.IsConnected) {
			if *req.IsConnected {
				h.logger.Infof("%s controller reported connected", device)
			} else {
				h.logger.Warnf("%s controller reported disconnected", device)
			}
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"device":      device,
			"isConnected": *req.IsConnected,
		})
	}
}

// setConnected records the status and reports whether it changed. The
// first report always counts as a change.
func (h *RovHandler) setConnected(device string, connected bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, seen := h.connected[device]
	h.connected[device] = connected
	return !seen || prev != connected
}

// Connected returns the last status reported for device.
func (h *RovHandler) Connected(device string) (connected, reported bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	connected, reported = h.connected[device]
	return connected, reported
}

// ErrRateLimited is returned to clients that exceed their request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// ClientRateLimiter keeps one token bucket per client IP.
type ClientRateLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClientRateLimiter creates a limiter allowing limit requests per second
// with the given burst for each client.
func NewClientRateLimiter(limit rate.Limit, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether client may make a request now.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[client]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Handler returns fiber middleware answering 429 once a client's bucket is empty.
func (l *ClientRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Allow(c.IP()) {
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{
				"error": ErrRateLimited.Error(),
			})
		}
		return c.Next()
	}
}
