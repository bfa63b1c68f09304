package models

import "time"

type Route struct {
	ID          string    `json:"id"`
	Departure   string    `json:"departure"`
	Destination string    `json:"destination"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}
