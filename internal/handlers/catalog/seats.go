package catalog

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"vexekhach/internal/models"
	"vexekhach/internal/store"
	"vexekhach/internal/utils"
	"vexekhach/internal/ws"
)

const errSeatsExist = "Seats already created for this bus"

type CreateSeatsHandler struct {
	Routes store.RouteRepository
	Buses  store.BusRepository
	Seats  store.SeatRepository
	Feed   Publisher
	Log    logrus.FieldLogger
}

// ServeHTTP handles POST /buses/{id}/seats. Seats are generated once per
// bus from its capacity and priced like its route.
func (h *CreateSeatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bus, err := h.Buses.FindByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		lookupError(w, h.Log, err, "bus")
		return
	}

	existing, err := h.Seats.ListByBus(ctx, bus.ID)
	if err != nil {
		internalError(w, h.Log, err, "list seats")
		return
	}
	if len(existing) > 0 {
		utils.Error(w, http.StatusBadRequest, errSeatsExist)
		return
	}

	route, err := h.Routes.FindByID(ctx, bus.RouteID)
	if err != nil {
		lookupError(w, h.Log, err, "route")
		return
	}

	seats, err := h.Seats.CreateMany(ctx, models.NewSeats(bus, route, time.Now().UTC()))
	if err != nil {
		// lost a race with a concurrent request for the same bus
		if errors.Is(err, store.ErrDuplicate) {
			utils.Error(w, http.StatusBadRequest, errSeatsExist)
			return
		}
		internalError(w, h.Log, err, "create seats")
		return
	}

	h.Log.WithFields(logrus.Fields{"bus_id": bus.ID, "seats": len(seats)}).Info("seats created")
	publisher(h.Feed).Publish(bus.RouteID, ws.EventSeatsCreated, map[string]any{
		"bus_id": bus.ID,
		"count":  len(seats),
	})
	utils.JSON(w, http.StatusOK, seats)
}

type ListSeatsHandler struct {
	Seats store.SeatRepository
	Log   logrus.FieldLogger
}

// ServeHTTP handles GET /buses/{id}/seats
func (h *ListSeatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	seats, err := h.Seats.ListByBus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrInvalidID) {
			utils.Error(w, http.StatusBadRequest, "Invalid bus ID format")
			return
		}
		internalError(w, h.Log, err, "list seats")
		return
	}
	if len(seats) == 0 {
		utils.Error(w, http.StatusNotFound, "No seats found for this bus")
		return
	}
	utils.JSON(w, http.StatusOK, seats)
}
