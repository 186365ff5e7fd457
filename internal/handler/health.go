// Package handler contains the HTTP handlers for the admin and
// chat surfaces.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is the liveness endpoint used by load balancers and
// monitoring systems.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
