package httpapi

import (
	"net/http"
	"strings"
	"time"

	"bookingsched/internal/booking"
	"bookingsched/internal/calendar"
	"bookingsched/internal/errors"
	logx "bookingsched/pkg/logx"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	sched      booking.Scheduler
	dailyCheck func() bool
	status     func() any
	log        logx.Logger
}

type messageResponse struct {
	Message string `json:"message"`
	Date    string `json:"date,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// manualSchedule answers 200 with the resolved date, 400 for an unparseable
// date and 500 when scheduling fails.
func (h *handlers) manualSchedule(c *gin.Context) {
	raw := c.Query("date")
	d, err := h.sched.ScheduleManual(c.Request.Context(), raw)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, booking.ErrValidation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, errorResponse{Error: "Error scheduling transaction: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Transaction manually scheduled for " + d.String(), Date: d.String()})
}

func (h *handlers) list(c *gin.Context) {
	dates := h.sched.List(c.Request.Context())
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.String())
	}
	c.JSON(http.StatusOK, out)
}

// cancel answers 200 when a pending booking was cancelled, 404 when none
// exists and 500 for a malformed date or a failed cancel.
func (h *handlers) cancel(c *gin.Context) {
	d, err := calendar.Parse(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Error canceling transaction: " + err.Error()})
		return
	}
	found, err := h.sched.Cancel(c.Request.Context(), d.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Error canceling transaction: " + err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Transaction not found"})
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Cancelled transaction for " + d.String(), Date: d.String()})
}

// monthSchedule schedules the last business day of ?month=YYYY-MM. Status
// codes follow manualSchedule.
func (h *handlers) monthSchedule(c *gin.Context) {
	m, err := time.Parse("2006-01", strings.TrimSpace(c.Query("month")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Error scheduling transaction: month must be YYYY-MM"})
		return
	}
	d, err := h.sched.ScheduleMonth(c.Request.Context(), m.Year(), m.Month())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, booking.ErrValidation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, errorResponse{Error: "Error scheduling transaction: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Transaction scheduled for " + d.String(), Date: d.String()})
}

func (h *handlers) runDailyCheck(c *gin.Context) {
	if !h.dailyCheck() {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "daily check not registered"})
		return
	}
	c.JSON(http.StatusAccepted, messageResponse{Message: "Daily check queued"})
}

func (h *handlers) statusView(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}
