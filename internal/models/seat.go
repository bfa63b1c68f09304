package models

import (
	"fmt"
	"time"
)

type Seat struct {
	ID          string    `json:"id"`
	BusID       string    `json:"bus_id"`
	SeatNumber  string    `json:"seat_number"`
	IsAvailable bool      `json:"is_available"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// SeatNumber formats the n-th (1-based) seat label: A01, A02, ...
func SeatNumber(n int) string {
	return fmt.Sprintf("A%02d", n)
}

// NewSeats builds the seat map of a bus, one available seat per unit of
// capacity, all priced like the route.
func NewSeats(bus *Bus, route *Route, now time.Time) []Seat {
	seats := make([]Seat, 0, bus.Capacity)
	for i := 1; i <= bus.Capacity; i++ {
		seats = append(seats, Seat{
			BusID:       bus.ID,
			SeatNumber:  SeatNumber(i),
			IsAvailable: true,
			Price:       route.Price,
			CreatedAt:   now,
		})
	}
	return seats
}
