package catalog

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"vexekhach/internal/models"
	"vexekhach/internal/store"
	"vexekhach/internal/utils"
	"vexekhach/internal/ws"
)

type CreateBusRequest struct {
	RouteID       string    `json:"route_id"`
	LicensePlate  string    `json:"license_plate"`
	Capacity      int       `json:"capacity"`
	DepartureTime time.Time `json:"departure_time"`
}

type CreateBusHandler struct {
	Routes store.RouteRepository
	Buses  store.BusRepository
	Feed   Publisher
	Log    logrus.FieldLogger
}

// ServeHTTP handles POST /buses
func (h *CreateBusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateBusRequest
	if !utils.DecodeJSON(w, r, &req) {
		return
	}
	req.LicensePlate = strings.TrimSpace(req.LicensePlate)
	switch {
	case req.RouteID == "":
		utils.Error(w, http.StatusBadRequest, "route_id is required")
		return
	case req.LicensePlate == "":
		utils.Error(w, http.StatusBadRequest, "license_plate is required")
		return
	case req.Capacity < 1 || req.Capacity > models.MaxBusCapacity:
		utils.Error(w, http.StatusBadRequest, fmt.Sprintf("capacity must be between 1 and %d", models.MaxBusCapacity))
		return
	case req.DepartureTime.IsZero():
		utils.Error(w, http.StatusBadRequest, "departure_time is required")
		return
	}

	if _, err := h.Routes.FindByID(r.Context(), req.RouteID); err != nil {
		lookupError(w, h.Log, err, "route")
		return
	}

	created, err := h.Buses.Create(r.Context(), &models.Bus{
		RouteID:       req.RouteID,
		LicensePlate:  req.LicensePlate,
		Capacity:      req.Capacity,
		DepartureTime: req.DepartureTime.UTC(),
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		internalError(w, h.Log, err, "create bus")
		return
	}

	publisher(h.Feed).Publish(created.RouteID, ws.EventBusCreated, created)
	utils.JSON(w, http.StatusOK, created)
}

type ListBusesHandler struct {
	Buses store.BusRepository
	Log   logrus.FieldLogger
}

// ServeHTTP handles GET /buses?route_id&date&skip&limit
func (h *ListBusesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		utils.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	f := store.BusFilter{RouteID: r.URL.Query().Get("route_id"), Page: page}
	if v := r.URL.Query().Get("date"); v != "" {
		day, err := parseDay(v)
		if err != nil {
			utils.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Date = &day
	}

	buses, err := h.Buses.List(r.Context(), f)
	if err != nil {
		internalError(w, h.Log, err, "list buses")
		return
	}
	if buses == nil {
		buses = []models.Bus{}
	}
	utils.JSON(w, http.StatusOK, buses)
}

type GetBusHandler struct {
	Buses store.BusRepository
	Log   logrus.FieldLogger
}

// ServeHTTP handles GET /buses/{id}
func (h *GetBusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bus, err := h.Buses.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		lookupError(w, h.Log, err, "bus")
		return
	}
	utils.JSON(w, http.StatusOK, bus)
}
