// Package mysqlstore implements store.Store on MySQL using the schema in
// the migrations directory. Unique keys on users.username, users.email and
// (seats.bus_id, seats.seat_number) are the authority on uniqueness.
// username, email and verification_token use the utf8mb4_bin collation so
// lookups and unique keys are case-sensitive like the other backends.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mysql "github.com/go-sql-driver/mysql"

	"vexekhach/internal/models"
	"vexekhach/internal/store"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Users() store.UserRepository   { return &users{db: s.DB} }
func (s *Store) Routes() store.RouteRepository { return &routes{db: s.DB} }
func (s *Store) Buses() store.BusRepository    { return &buses{db: s.DB} }
func (s *Store) Seats() store.SeatRepository   { return &seats{db: s.DB} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close(context.Context) error { return s.DB.Close() }

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, store.ErrInvalidID
	}
	return n, nil
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching s anywhere. The default
// utf8mb4 collation compares case-insensitively.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// users

const userColumns = `id, username, email, hashed_password, is_email_verified,
	verification_token, verification_token_expires, created_at, email_verified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u        models.User
		id       int64
		hash     sql.NullString
		token    sql.NullString
		expires  sql.NullTime
		verified sql.NullTime
	)
	if err := row.Scan(&id, &u.Username, &u.Email, &hash, &u.IsEmailVerified, &token, &expires, &u.CreatedAt, &verified); err != nil {
		return nil, err
	}
	u.ID = formatID(id)
	u.HashedPassword = hash.String
	if token.Valid {
		t := token.String
		u.VerificationToken = &t
	}
	if expires.Valid {
		t := expires.Time
		u.VerificationTokenExpires = &t
	}
	if verified.Valid {
		t := verified.Time
		u.EmailVerifiedAt = &t
	}
	return &u, nil
}

type users struct {
	db *sql.DB
}

func (r *users) FindByUsernameOrEmail(ctx context.Context, username, email string) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ? OR email = ? LIMIT 2", username, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	return u, mapErr(err)
}

func (r *users) FindByID(ctx context.Context, id string) (*models.User, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	u, err := scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", n))
	return u, mapErr(err)
}

func (r *users) Create(ctx context.Context, u *models.User) (*models.User, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, email, hashed_password, is_email_verified,
			verification_token, verification_token_expires, created_at, email_verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.HashedPassword, u.IsEmailVerified,
		u.VerificationToken, u.VerificationTokenExpires, u.CreatedAt, u.EmailVerifiedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	c := *u
	c.ID = formatID(id)
	return &c, nil
}

func (r *users) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE verification_token = ? AND verification_token_expires > ? FOR UPDATE",
		token, now))
	if err != nil {
		return nil, mapErr(err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET is_email_verified = TRUE, verification_token = NULL,
			verification_token_expires = NULL, email_verified_at = ? WHERE id = ?`,
		now, u.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	verifiedAt := now
	u.IsEmailVerified = true
	u.VerificationToken = nil
	u.VerificationTokenExpires = nil
	u.EmailVerifiedAt = &verifiedAt
	return u, nil
}

// routes

type routes struct {
	db *sql.DB
}

func (r *routes) Create(ctx context.Context, in *models.Route) (*models.Route, error) {
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO routes (departure, destination, price, created_at) VALUES (?, ?, ?, ?)",
		in.Departure, in.Destination, in.Price, in.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := *in
	out.ID = formatID(id)
	return &out, nil
}

func scanRoute(row rowScanner) (*models.Route, error) {
	var (
		rt models.Route
		id int64
	)
	if err := row.Scan(&id, &rt.Departure, &rt.Destination, &rt.Price, &rt.CreatedAt); err != nil {
		return nil, err
	}
	rt.ID = formatID(id)
	return &rt, nil
}

func (r *routes) FindByID(ctx context.Context, id string) (*models.Route, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	rt, err := scanRoute(r.db.QueryRowContext(ctx,
		"SELECT id, departure, destination, price, created_at FROM routes WHERE id = ?", n))
	return rt, mapErr(err)
}

func (r *routes) List(ctx context.Context, f store.RouteFilter) ([]models.Route, error) {
	var (
		where []string
		args  []any
	)
	if f.Departure != "" {
		where = append(where, "departure LIKE ?")
		args = append(args, containsPattern(f.Departure))
	}
	if f.Destination != "" {
		where = append(where, "destination LIKE ?")
		args = append(args, containsPattern(f.Destination))
	}
	p := f.Page.Normalize()
	query := "SELECT id, departure, destination, price, created_at FROM routes" + whereClause(where) + " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, p.Limit, p.Skip)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Route{}
	for rows.Next() {
		rt, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rt)
	}
	return out, rows.Err()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// buses

type buses struct {
	db *sql.DB
}

const busColumns = "id, route_id, license_plate, capacity, departure_time, created_at"

func scanBus(row rowScanner) (*models.Bus, error) {
	var (
		b       models.Bus
		id      int64
		routeID int64
	)
	if err := row.Scan(&id, &routeID, &b.LicensePlate, &b.Capacity, &b.DepartureTime, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.ID = formatID(id)
	b.RouteID = formatID(routeID)
	return &b, nil
}

func (r *buses) Create(ctx context.Context, in *models.Bus) (*models.Bus, error) {
	routeID, err := parseID(in.RouteID)
	if err != nil {
		return nil, err
	}
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO buses (route_id, license_plate, capacity, departure_time, created_at) VALUES (?, ?, ?, ?, ?)",
		routeID, in.LicensePlate, in.Capacity, in.DepartureTime, in.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := *in
	out.ID = formatID(id)
	return &out, nil
}

func (r *buses) FindByID(ctx context.Context, id string) (*models.Bus, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	b, err := scanBus(r.db.QueryRowContext(ctx, "SELECT "+busColumns+" FROM buses WHERE id = ?", n))
	return b, mapErr(err)
}

func (r *buses) List(ctx context.Context, f store.BusFilter) ([]models.Bus, error) {
	var (
		where []string
		args  []any
	)
	if f.RouteID != "" {
		routeID, err := parseID(f.RouteID)
		if err != nil {
			return []models.Bus{}, nil
		}
		where = append(where, "route_id = ?")
		args = append(args, routeID)
	}
	if f.Date != nil {
		start, end := store.DayBounds(*f.Date)
		where = append(where, "departure_time >= ? AND departure_time < ?")
		args = append(args, start, end)
	}
	p := f.Page.Normalize()
	query := "SELECT " + busColumns + " FROM buses" + whereClause(where) + " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, p.Limit, p.Skip)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Bus{}
	for rows.Next() {
		b, err := scanBus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// seats

type seats struct {
	db *sql.DB
}

func (r *seats) CreateMany(ctx context.Context, in []models.Seat) ([]models.Seat, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]models.Seat, 0, len(in))
	for _, s := range in {
		busID, err := parseID(s.BusID)
		if err != nil {
			return nil, err
		}
		result, err := tx.ExecContext(ctx,
			"INSERT INTO seats (bus_id, seat_number, is_available, price, created_at) VALUES (?, ?, ?, ?, ?)",
			busID, s.SeatNumber, s.IsAvailable, s.Price, s.CreatedAt)
		if err != nil {
			return nil, mapErr(err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		s.ID = formatID(id)
		out = append(out, s)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *seats) ListByBus(ctx context.Context, busID string) ([]models.Seat, error) {
	n, err := parseID(busID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, bus_id, seat_number, is_available, price, created_at FROM seats WHERE bus_id = ? ORDER BY id",
		n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Seat
	for rows.Next() {
		var (
			s   models.Seat
			id  int64
			bid int64
		)
		if err := rows.Scan(&id, &bid, &s.SeatNumber, &s.IsAvailable, &s.Price, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.ID = formatID(id)
		s.BusID = formatID(bid)
		out = append(out, s)
	}
	return out, rows.Err()
}
