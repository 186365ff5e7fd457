package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/course-seat-watch/internal/banner"
	"github.com/iliyamo/course-seat-watch/internal/model"
	"github.com/iliyamo/course-seat-watch/internal/repository"
	"github.com/iliyamo/course-seat-watch/internal/seatcache"
	"github.com/iliyamo/course-seat-watch/internal/utils"
)

const accessTokenTTL = 30 * time.Minute

// AdminHandler exposes the operator endpoints: login, service
// stats and forced course refreshes.
type AdminHandler struct {
	Username     string
	PasswordHash string // bcrypt
	JWTSecret    string

	Users   *repository.UserRepo
	Courses *repository.CourseRepo
	Watches *repository.WatchlistRepo
	Cache   *seatcache.Cache
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login checks the operator credentials and issues a short-lived
// access token.
func (h *AdminHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Username != h.Username || !utils.VerifyPassword(h.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	tok, err := utils.NewAccessToken(h.JWTSecret, req.Username, accessTokenTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not issue token"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access_token": tok.Token,
		"expires_at":   tok.Exp.Format(time.RFC3339),
	})
}

// Stats reports row counts for the main tables.
func (h *AdminHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	users, err := h.Users.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	courses, err := h.Courses.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	watches, err := h.Watches.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"users":   users,
		"courses": courses,
		"watches": watches,
	})
}

type refreshRequest struct {
	CourseID uint64 `json:"course_id"`
	SchoolID uint64 `json:"school_id"`
	Term     int    `json:"term"`
	CRN      int    `json:"crn"`
}

type courseResponse struct {
	ID            uint64 `json:"id"`
	SchoolID      uint64 `json:"school_id"`
	Term          int    `json:"term"`
	CRN           int    `json:"crn"`
	Name          string `json:"name"`
	Code          string `json:"code"`
	Section       string `json:"section"`
	SeatCap       int    `json:"seat_cap"`
	SeatFilled    int    `json:"seat_filled"`
	SeatRemaining int    `json:"seat_remaining"`
	WaitCap       int    `json:"wait_cap"`
	WaitFilled    int    `json:"wait_filled"`
	WaitRemaining int    `json:"wait_remaining"`
	UpdatedAt     string `json:"updated_at"`
}

func toCourseResponse(course model.Course) courseResponse {
	return courseResponse{
		ID:            course.ID,
		SchoolID:      course.SchoolID,
		Term:          course.Term,
		CRN:           course.CRN,
		Name:          course.Name,
		Code:          course.Code,
		Section:       course.Section,
		SeatCap:       course.Seats.SeatCap,
		SeatFilled:    course.Seats.SeatFilled,
		SeatRemaining: course.Seats.SeatRemaining,
		WaitCap:       course.Seats.WaitCap,
		WaitFilled:    course.Seats.WaitFilled,
		WaitRemaining: course.Seats.WaitRemaining,
		UpdatedAt:     course.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// RefreshCourse forces a fetch of one course, bypassing cache
// freshness. The course may be addressed by id or by its
// (school_id, term, crn) key.
func (h *AdminHandler) RefreshCourse(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ref := seatcache.Ref{CourseID: req.CourseID, SchoolID: req.SchoolID, Term: req.Term, CRN: req.CRN}
	if ref.CourseID == 0 && (ref.SchoolID == 0 || ref.Term == 0) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "course_id or (school_id, term, crn) is required"})
	}

	res, err := h.Cache.GetOrRefresh(c.Request().Context(), ref, 0, true)
	switch {
	case errors.Is(err, banner.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "course not found"})
	case err != nil:
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"course":  toCourseResponse(res.Course),
		"changed": res.Changed,
	})
}
