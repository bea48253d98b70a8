package handler

import (
	"github.com/gofiber/fiber/v2"
)

// StatusPath is the path of the liveness status endpoint.
const StatusPath = "/api"

// StatusMessage is returned verbatim by the status endpoint.
const StatusMessage = "App is live"

// StatusResponse is the body of GET /api.
type StatusResponse struct {
	Status string `json:"status" example:"App is live"`
}

// Options controls what RegisterRoutes mounts.
type Options struct {
	// StaticRoot is the directory served at "/". Empty disables static serving.
	StaticRoot string
}

// RegisterRoutes attaches the static file handler and the status route.
// Static files are mounted first, so a file named like a route shadows it.
func RegisterRoutes(app *fiber.App, opts Options) {
	if opts.StaticRoot != "" {
		app.Static("/", opts.StaticRoot, fiber.Static{
			Index: "index.html",
		})
	}

	app.Get(StatusPath, Status())
}

// Status godoc
// @Summary Liveness status
// @Description Returns a fixed payload while the process is serving.
// @Tags status
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /api [get]
func Status() fiber.Handler {
	body := StatusResponse{Status: StatusMessage}
	return func(c *fiber.Ctx) error {
		return c.JSON(body)
	}
}
