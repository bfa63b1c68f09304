// Package store declares the persistence contracts the services depend on.
// Implementations live in the mongostore, mysqlstore and memstore
// subpackages; all of them enforce username/email uniqueness themselves and
// report a violation as ErrDuplicate.
package store

import (
	"context"
	"errors"
	"time"

	"vexekhach/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
	ErrInvalidID = errors.New("invalid id")
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Page is a skip/limit window over a listing.
type Page struct {
	Skip  int
	Limit int
}

type RouteFilter struct {
	Departure   string // case-insensitive substring
	Destination string // case-insensitive substring
	Page
}

type BusFilter struct {
	RouteID string
	Date    *time.Time // calendar day of departure_time
	Page
}

type UserRepository interface {
	// FindByUsernameOrEmail returns every user whose username or email matches.
	FindByUsernameOrEmail(ctx context.Context, username, email string) ([]models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, u *models.User) (*models.User, error)
	// ConsumeVerificationToken marks the holder of an unexpired token as
	// verified and clears the token in one atomic step. It returns
	// ErrNotFound when no pending user holds the token at time now.
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error)
}

type RouteRepository interface {
	Create(ctx context.Context, r *models.Route) (*models.Route, error)
	FindByID(ctx context.Context, id string) (*models.Route, error)
	List(ctx context.Context, f RouteFilter) ([]models.Route, error)
}

type BusRepository interface {
	Create(ctx context.Context, b *models.Bus) (*models.Bus, error)
	FindByID(ctx context.Context, id string) (*models.Bus, error)
	List(ctx context.Context, f BusFilter) ([]models.Bus, error)
}

type SeatRepository interface {
	CreateMany(ctx context.Context, seats []models.Seat) ([]models.Seat, error)
	ListByBus(ctx context.Context, busID string) ([]models.Seat, error)
}

// Store bundles the repositories of one backend and its connection lifecycle.
type Store interface {
	Users() UserRepository
	Routes() RouteRepository
	Buses() BusRepository
	Seats() SeatRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DayBounds returns the half-open interval [start, end) covering the
// calendar day of t in t's location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// Normalize clamps a page to the allowed window.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}
