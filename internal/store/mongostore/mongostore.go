// Package mongostore implements store.Store on MongoDB. Each repository owns
// one collection (users, routes, buses, seats); documents use ObjectID
// primary keys that are exposed to callers as hex strings.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"vexekhach/internal/models"
	"vexekhach/internal/store"
)

const (
	usersCollection  = "users"
	routesCollection = "routes"
	busesCollection  = "buses"
	seatsCollection  = "seats"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

func (s *Store) Users() store.UserRepository   { return &users{c: s.db.Collection(usersCollection)} }
func (s *Store) Routes() store.RouteRepository { return &routes{c: s.db.Collection(routesCollection)} }
func (s *Store) Buses() store.BusRepository    { return &buses{c: s.db.Collection(busesCollection)} }
func (s *Store) Seats() store.SeatRepository   { return &seats{c: s.db.Collection(seatsCollection)} }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique indexes that make the store the final
// authority on username and email uniqueness.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(usersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_username")},
		{Keys: bson.D{{Key: "verification_token", Value: 1}}, Options: options.Index().SetName("verification_token")},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	_, err = s.db.Collection(seatsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bus_id", Value: 1}, {Key: "seat_number", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_bus_seat"),
	})
	if err != nil {
		return fmt.Errorf("seats indexes: %w", err)
	}
	_, err = s.db.Collection(busesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "route_id", Value: 1}, {Key: "departure_time", Value: 1}},
		Options: options.Index().SetName("route_departure"),
	})
	if err != nil {
		return fmt.Errorf("buses indexes: %w", err)
	}
	return nil
}

func objectID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.NilObjectID, store.ErrInvalidID
	}
	return oid, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	default:
		return err
	}
}

func findOptions(p store.Page) *options.FindOptionsBuilder {
	p = p.Normalize()
	return options.Find().
		SetSkip(int64(p.Skip)).
		SetLimit(int64(p.Limit)).
		SetSort(bson.D{{Key: "_id", Value: 1}})
}

func substring(s string) bson.Regex {
	return bson.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

// users

type userDoc struct {
	ID                       bson.ObjectID `bson:"_id,omitempty"`
	Username                 string        `bson:"username"`
	Email                    string        `bson:"email"`
	HashedPassword           string        `bson:"hashed_password,omitempty"`
	IsEmailVerified          bool          `bson:"is_email_verified"`
	VerificationToken        *string       `bson:"verification_token"`
	VerificationTokenExpires *time.Time    `bson:"verification_token_expires"`
	CreatedAt                time.Time     `bson:"created_at"`
	EmailVerifiedAt          *time.Time    `bson:"email_verified_at"`
}

func (d *userDoc) model() *models.User {
	return &models.User{
		ID:                       d.ID.Hex(),
		Username:                 d.Username,
		Email:                    d.Email,
		HashedPassword:           d.HashedPassword,
		IsEmailVerified:          d.IsEmailVerified,
		VerificationToken:        d.VerificationToken,
		VerificationTokenExpires: d.VerificationTokenExpires,
		CreatedAt:                d.CreatedAt,
		EmailVerifiedAt:          d.EmailVerifiedAt,
	}
}

type users struct {
	c *mongo.Collection
}

func (r *users) FindByUsernameOrEmail(ctx context.Context, username, email string) ([]models.User, error) {
	cur, err := r.c.Find(ctx, usernameOrEmailFilter(username, email), options.Find().SetLimit(2))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(docs))
	for i := range docs {
		out = append(out, *docs[i].model())
	}
	return out, nil
}

func usernameOrEmailFilter(username, email string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"username": username},
		bson.M{"email": email},
	}}
}

func (r *users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *users) FindByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *users) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	if err := r.c.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapErr(err)
	}
	return doc.model(), nil
}

func (r *users) Create(ctx context.Context, u *models.User) (*models.User, error) {
	doc := userDoc{
		Username:                 u.Username,
		Email:                    u.Email,
		HashedPassword:           u.HashedPassword,
		IsEmailVerified:          u.IsEmailVerified,
		VerificationToken:        u.VerificationToken,
		VerificationTokenExpires: u.VerificationTokenExpires,
		CreatedAt:                u.CreatedAt,
		EmailVerifiedAt:          u.EmailVerifiedAt,
	}
	res, err := r.c.InsertOne(ctx, doc)
	if err != nil {
		return nil, mapErr(err)
	}
	if oid, ok := res.InsertedID.(bson.ObjectID); ok {
		doc.ID = oid
	}
	return doc.model(), nil
}

func verificationFilter(token string, now time.Time) bson.M {
	return bson.M{
		"verification_token":         token,
		"verification_token_expires": bson.M{"$gt": now},
	}
}

func verifiedUpdate(now time.Time) bson.M {
	return bson.M{"$set": bson.M{
		"is_email_verified":          true,
		"verification_token":         nil,
		"verification_token_expires": nil,
		"email_verified_at":          now,
	}}
}

func (r *users) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	err := r.c.FindOneAndUpdate(ctx, verificationFilter(token, now), verifiedUpdate(now), opts).Decode(&doc)
	if err != nil {
		return nil, mapErr(err)
	}
	return doc.model(), nil
}

// routes

type routeDoc struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	Departure   string        `bson:"departure"`
	Destination string        `bson:"destination"`
	Price       float64       `bson:"price"`
	CreatedAt   time.Time     `bson:"created_at"`
}

func (d *routeDoc) model() models.Route {
	return models.Route{
		ID:          d.ID.Hex(),
		Departure:   d.Departure,
		Destination: d.Destination,
		Price:       d.Price,
		CreatedAt:   d.CreatedAt,
	}
}

type routes struct {
	c *mongo.Collection
}

func (r *routes) Create(ctx context.Context, in *models.Route) (*models.Route, error) {
	doc := routeDoc{
		Departure:   in.Departure,
		Destination: in.Destination,
		Price:       in.Price,
		CreatedAt:   in.CreatedAt,
	}
	res, err := r.c.InsertOne(ctx, doc)
	if err != nil {
		return nil, mapErr(err)
	}
	if oid, ok := res.InsertedID.(bson.ObjectID); ok {
		doc.ID = oid
	}
	out := doc.model()
	return &out, nil
}

func (r *routes) FindByID(ctx context.Context, id string) (*models.Route, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc routeDoc
	if err := r.c.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mapErr(err)
	}
	out := doc.model()
	return &out, nil
}

func routeFilter(f store.RouteFilter) bson.M {
	filter := bson.M{}
	if f.Departure != "" {
		filter["departure"] = substring(f.Departure)
	}
	if f.Destination != "" {
		filter["destination"] = substring(f.Destination)
	}
	return filter
}

func (r *routes) List(ctx context.Context, f store.RouteFilter) ([]models.Route, error) {
	cur, err := r.c.Find(ctx, routeFilter(f), findOptions(f.Page))
	if err != nil {
		return nil, err
	}
	var docs []routeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Route, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

// buses

type busDoc struct {
	ID            bson.ObjectID `bson:"_id,omitempty"`
	RouteID       string        `bson:"route_id"`
	LicensePlate  string        `bson:"license_plate"`
	Capacity      int           `bson:"capacity"`
	DepartureTime time.Time     `bson:"departure_time"`
	CreatedAt     time.Time     `bson:"created_at"`
}

func (d *busDoc) model() models.Bus {
	return models.Bus{
		ID:            d.ID.Hex(),
		RouteID:       d.RouteID,
		LicensePlate:  d.LicensePlate,
		Capacity:      d.Capacity,
		DepartureTime: d.DepartureTime,
		CreatedAt:     d.CreatedAt,
	}
}

type buses struct {
	c *mongo.Collection
}

func (r *buses) Create(ctx context.Context, in *models.Bus) (*models.Bus, error) {
	doc := busDoc{
		RouteID:       in.RouteID,
		LicensePlate:  in.LicensePlate,
		Capacity:      in.Capacity,
		DepartureTime: in.DepartureTime,
		CreatedAt:     in.CreatedAt,
	}
	res, err := r.c.InsertOne(ctx, doc)
	if err != nil {
		return nil, mapErr(err)
	}
	if oid, ok := res.InsertedID.(bson.ObjectID); ok {
		doc.ID = oid
	}
	out := doc.model()
	return &out, nil
}

func (r *buses) FindByID(ctx context.Context, id string) (*models.Bus, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var doc busDoc
	if err := r.c.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mapErr(err)
	}
	out := doc.model()
	return &out, nil
}

func busFilter(f store.BusFilter) bson.M {
	filter := bson.M{}
	if f.RouteID != "" {
		filter["route_id"] = f.RouteID
	}
	if f.Date != nil {
		start, end := store.DayBounds(*f.Date)
		filter["departure_time"] = bson.M{"$gte": start, "$lt": end}
	}
	return filter
}

func (r *buses) List(ctx context.Context, f store.BusFilter) ([]models.Bus, error) {
	cur, err := r.c.Find(ctx, busFilter(f), findOptions(f.Page))
	if err != nil {
		return nil, err
	}
	var docs []busDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Bus, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

// seats

type seatDoc struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	BusID       string        `bson:"bus_id"`
	SeatNumber  string        `bson:"seat_number"`
	IsAvailable bool          `bson:"is_available"`
	Price       float64       `bson:"price"`
	CreatedAt   time.Time     `bson:"created_at"`
}

func (d *seatDoc) model() models.Seat {
	return models.Seat{
		ID:          d.ID.Hex(),
		BusID:       d.BusID,
		SeatNumber:  d.SeatNumber,
		IsAvailable: d.IsAvailable,
		Price:       d.Price,
		CreatedAt:   d.CreatedAt,
	}
}

type seats struct {
	c *mongo.Collection
}

func (r *seats) CreateMany(ctx context.Context, in []models.Seat) ([]models.Seat, error) {
	if len(in) == 0 {
		return []models.Seat{}, nil
	}
	docs := make([]any, 0, len(in))
	created := make([]seatDoc, 0, len(in))
	for _, s := range in {
		d := seatDoc{
			ID:          bson.NewObjectID(),
			BusID:       s.BusID,
			SeatNumber:  s.SeatNumber,
			IsAvailable: s.IsAvailable,
			Price:       s.Price,
			CreatedAt:   s.CreatedAt,
		}
		docs = append(docs, d)
		created = append(created, d)
	}
	if _, err := r.c.InsertMany(ctx, docs); err != nil {
		return nil, mapErr(err)
	}
	out := make([]models.Seat, 0, len(created))
	for i := range created {
		out = append(out, created[i].model())
	}
	return out, nil
}

func (r *seats) ListByBus(ctx context.Context, busID string) ([]models.Seat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(models.MaxBusCapacity)
	cur, err := r.c.Find(ctx, bson.M{"bus_id": busID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []seatDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Seat, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}
