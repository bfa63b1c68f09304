package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/utils"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	Store Pinger
	Log   logrus.FieldLogger
}

// ServeHTTP handles GET /health. It answers 503 while the store is unreachable.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		h.Log.WithError(err).Warn("health check: store unreachable")
		utils.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "store": "down"})
		return
	}
	utils.JSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "up"})
}

// Welcome handles GET /.
func Welcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Welcome to VeXeKhach API! Server is running....")
}
