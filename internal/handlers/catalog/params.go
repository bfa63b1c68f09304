// Package catalog serves the route, bus and seat resources.
package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/store"
	"vexekhach/internal/utils"
)

// Publisher pushes catalog events to live subscribers of a route.
type Publisher interface {
	Publish(routeID, eventType string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

func publisher(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

// parsePage reads skip (>= 0, default 0) and limit (1..100, default 10).
func parsePage(r *http.Request) (store.Page, error) {
	q := r.URL.Query()
	p := store.Page{Skip: 0, Limit: store.DefaultLimit}

	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errors.New("skip must be a non-negative integer")
		}
		p.Skip = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > store.MaxLimit {
			return p, fmt.Errorf("limit must be an integer between 1 and %d", store.MaxLimit)
		}
		p.Limit = n
	}
	return p, nil
}

// parseDay accepts YYYY-MM-DD or RFC 3339 and returns midnight UTC of that
// calendar date as written.
func parseDay(v string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, errors.New("date must be YYYY-MM-DD or RFC 3339")
		}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// lookupError writes the response for a failed FindByID.
func lookupError(w http.ResponseWriter, log logrus.FieldLogger, err error, what string) {
	switch {
	case errors.Is(err, store.ErrInvalidID):
		utils.Error(w, http.StatusBadRequest, "Invalid "+what+" ID format")
	case errors.Is(err, store.ErrNotFound):
		utils.Error(w, http.StatusNotFound, capitalize(what)+" not found")
	default:
		internalError(w, log, err, "lookup "+what)
	}
}

func internalError(w http.ResponseWriter, log logrus.FieldLogger, err error, op string) {
	log.WithFields(logrus.Fields{"op": op, "error": err}).Error("catalog request failed")
	utils.Error(w, http.StatusInternalServerError, "Internal server error")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
