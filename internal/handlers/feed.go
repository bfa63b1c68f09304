package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vexekhach/internal/store"
	"vexekhach/internal/utils"
	"vexekhach/internal/ws"
)

// FeedHandler upgrades GET /ws/routes/{id} to a websocket that receives the
// catalog events of one route. The feed is read-only and public.
type FeedHandler struct {
	Routes   store.RouteRepository
	Hubs     *ws.Registry
	Upgrader websocket.Upgrader
	Log      logrus.FieldLogger
}

func NewFeedHandler(routes store.RouteRepository, hubs *ws.Registry, log logrus.FieldLogger) *FeedHandler {
	return &FeedHandler{
		Routes: routes,
		Hubs:   hubs,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		Log: log,
	}
}

func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "id")
	route, err := h.Routes.FindByID(r.Context(), routeID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrInvalidID):
		utils.Error(w, http.StatusBadRequest, "Invalid route ID format")
		return
	case errors.Is(err, store.ErrNotFound):
		utils.Error(w, http.StatusNotFound, "Route not found")
		return
	default:
		h.Log.WithError(err).Error("feed: lookup route")
		utils.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	hub := h.Hubs.Hub(route.ID)
	if hub == nil {
		utils.Error(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.Log.WithError(err).Debug("feed: upgrade failed")
		return
	}

	c := ws.NewConnection(conn, route.ID)
	if !hub.Join(c) {
		conn.Close()
		return
	}
	go c.StartWrite()
	c.StartRead(hub)
}
