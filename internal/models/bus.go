package models

import "time"

type Bus struct {
	ID            string    `json:"id"`
	RouteID       string    `json:"route_id"`
	LicensePlate  string    `json:"license_plate"`
	Capacity      int       `json:"capacity"`
	DepartureTime time.Time `json:"departure_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// MaxBusCapacity bounds how many seats a single bus can be given.
const MaxBusCapacity = 100
