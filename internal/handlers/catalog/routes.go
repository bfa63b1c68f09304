package catalog

import (
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/models"
	"vexekhach/internal/store"
	"vexekhach/internal/utils"
)

type CreateRouteRequest struct {
	Departure   string  `json:"departure"`
	Destination string  `json:"destination"`
	Price       float64 `json:"price"`
}

type CreateRouteHandler struct {
	Routes store.RouteRepository
	Log    logrus.FieldLogger
}

// ServeHTTP handles POST /routes
func (h *CreateRouteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateRouteRequest
	if !utils.DecodeJSON(w, r, &req) {
		return
	}
	req.Departure = strings.TrimSpace(req.Departure)
	req.Destination = strings.TrimSpace(req.Destination)
	if req.Departure == "" || req.Destination == "" {
		utils.Error(w, http.StatusBadRequest, "departure and destination are required")
		return
	}
	if req.Price <= 0 {
		utils.Error(w, http.StatusBadRequest, "price must be greater than 0")
		return
	}

	created, err := h.Routes.Create(r.Context(), &models.Route{
		Departure:   req.Departure,
		Destination: req.Destination,
		Price:       req.Price,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		internalError(w, h.Log, err, "create route")
		return
	}
	utils.JSON(w, http.StatusOK, created)
}

type ListRoutesHandler struct {
	Routes store.RouteRepository
	Log    logrus.FieldLogger
}

// ServeHTTP handles GET /routes?skip&limit&departure&destination
func (h *ListRoutesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		utils.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	routes, err := h.Routes.List(r.Context(), store.RouteFilter{
		Departure:   q.Get("departure"),
		Destination: q.Get("destination"),
		Page:        page,
	})
	if err != nil {
		internalError(w, h.Log, err, "list routes")
		return
	}
	if routes == nil {
		routes = []models.Route{}
	}
	utils.JSON(w, http.StatusOK, routes)
}
