// Package memstore is an in-process store.Store used by tests and local
// development. It mirrors the uniqueness rules of the real backends.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vexekhach/internal/models"
	"vexekhach/internal/store"
)

type Store struct {
	mu     sync.Mutex
	users  []*models.User
	routes []*models.Route
	buses  []*models.Bus
	seats  []*models.Seat
}

func New() *Store {
	return &Store{}
}

func (s *Store) Users() store.UserRepository   { return (*users)(s) }
func (s *Store) Routes() store.RouteRepository { return (*routes)(s) }
func (s *Store) Buses() store.BusRepository    { return (*buses)(s) }
func (s *Store) Seats() store.SeatRepository   { return (*seats)(s) }

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

func newID() string { return uuid.NewString() }

func page[T any](items []T, p store.Page) []T {
	p = p.Normalize()
	if p.Skip >= len(items) {
		return []T{}
	}
	end := p.Skip + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Skip:end]
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.VerificationToken != nil {
		tok := *u.VerificationToken
		c.VerificationToken = &tok
	}
	if u.VerificationTokenExpires != nil {
		exp := *u.VerificationTokenExpires
		c.VerificationTokenExpires = &exp
	}
	if u.EmailVerifiedAt != nil {
		at := *u.EmailVerifiedAt
		c.EmailVerifiedAt = &at
	}
	return &c
}

type users Store

func (s *users) FindByUsernameOrEmail(_ context.Context, username, email string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if u.Username == username || u.Email == email {
			out = append(out, *cloneUser(u))
		}
	}
	return out, nil
}

func (s *users) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *users) FindByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *users) Create(_ context.Context, u *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return nil, store.ErrDuplicate
		}
	}
	c := cloneUser(u)
	c.ID = newID()
	s.users = append(s.users, c)
	return cloneUser(c), nil
}

func (s *users) ConsumeVerificationToken(_ context.Context, token string, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.VerificationToken == nil || *u.VerificationToken != token {
			continue
		}
		if u.VerificationTokenExpires == nil || !u.VerificationTokenExpires.After(now) {
			continue
		}
		verifiedAt := now
		u.IsEmailVerified = true
		u.VerificationToken = nil
		u.VerificationTokenExpires = nil
		u.EmailVerifiedAt = &verifiedAt
		return cloneUser(u), nil
	}
	return nil, store.ErrNotFound
}

// SetUser overwrites a stored user by id. Tests use it to fake expiry or
// corrupted records.
func (s *Store) SetUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.users {
		if existing.ID == u.ID {
			s.users[i] = cloneUser(u)
			return
		}
	}
	s.users = append(s.users, cloneUser(u))
}

type routes Store

func (s *routes) Create(_ context.Context, r *models.Route) (*models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	c.ID = newID()
	s.routes = append(s.routes, &c)
	out := c
	return &out, nil
}

func (s *routes) FindByID(_ context.Context, id string) (*models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.routes {
		if r.ID == id {
			out := *r
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *routes) List(_ context.Context, f store.RouteFilter) ([]models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Route
	for _, r := range s.routes {
		if f.Departure != "" && !containsFold(r.Departure, f.Departure) {
			continue
		}
		if f.Destination != "" && !containsFold(r.Destination, f.Destination) {
			continue
		}
		matched = append(matched, *r)
	}
	return page(matched, f.Page), nil
}

type buses Store

func (s *buses) Create(_ context.Context, b *models.Bus) (*models.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *b
	c.ID = newID()
	s.buses = append(s.buses, &c)
	out := c
	return &out, nil
}

func (s *buses) FindByID(_ context.Context, id string) (*models.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buses {
		if b.ID == id {
			out := *b
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *buses) List(_ context.Context, f store.BusFilter) ([]models.Bus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Bus
	for _, b := range s.buses {
		if f.RouteID != "" && b.RouteID != f.RouteID {
			continue
		}
		if f.Date != nil {
			start, end := store.DayBounds(*f.Date)
			if b.DepartureTime.Before(start) || !b.DepartureTime.Before(end) {
				continue
			}
		}
		matched = append(matched, *b)
	}
	return page(matched, f.Page), nil
}

type seats Store

func (s *seats) CreateMany(_ context.Context, in []models.Seat) ([]models.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Seat, 0, len(in))
	for _, seat := range in {
		for _, existing := range s.seats {
			if existing.BusID == seat.BusID && existing.SeatNumber == seat.SeatNumber {
				return nil, store.ErrDuplicate
			}
		}
	}
	for _, seat := range in {
		c := seat
		c.ID = newID()
		s.seats = append(s.seats, &c)
		out = append(out, c)
	}
	return out, nil
}

func (s *seats) ListByBus(_ context.Context, busID string) ([]models.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Seat
	for _, seat := range s.seats {
		if seat.BusID == busID {
			out = append(out, *seat)
		}
	}
	return out, nil
}
