package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"vexekhach/internal/accounts"
	"vexekhach/internal/handlers"
	"vexekhach/internal/handlers/auth"
	"vexekhach/internal/handlers/catalog"
	"vexekhach/internal/handlers/user"
	"vexekhach/internal/metrics"
	"vexekhach/internal/middleware"
	"vexekhach/internal/store"
	"vexekhach/internal/utils"
	"vexekhach/internal/ws"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	Addr        string
	Store       store.Store
	Accounts    *accounts.Service
	Issuer      *utils.Issuer
	Hubs        *ws.Registry
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Log         logrus.FieldLogger
}

func HandlerFunc(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// middlewares
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.Log))
	r.Use(chimw.Recoverer)
	if s.Metrics != nil {
		r.Use(middleware.Metrics(s.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", handlers.Welcome)
	r.Get("/health", HandlerFunc(&handlers.HealthHandler{Store: s.Store, Log: s.Log}))
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	// websocket feed; kept out of the timeout group since the connection is long-lived
	r.Get("/ws/routes/{id}", HandlerFunc(handlers.NewFeedHandler(s.Store.Routes(), s.Hubs, s.Log)))

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))

		r.Route("/users", func(r chi.Router) {
			r.Post("/register", HandlerFunc(&auth.RegisterHandler{Accounts: s.Accounts, Log: s.Log}))
			r.Get("/verify-email", HandlerFunc(&auth.VerifyEmailHandler{Accounts: s.Accounts, Log: s.Log}))
			r.Post("/login", HandlerFunc(&auth.LoginHandler{Accounts: s.Accounts, Log: s.Log}))

			r.With(middleware.AuthJWT(s.Issuer)).Get("/me", HandlerFunc(&user.MeHandler{Accounts: s.Accounts, Log: s.Log}))
		})

		r.Route("/routes", func(r chi.Router) {
			r.Post("/", HandlerFunc(&catalog.CreateRouteHandler{Routes: s.Store.Routes(), Log: s.Log}))
			r.Get("/", HandlerFunc(&catalog.ListRoutesHandler{Routes: s.Store.Routes(), Log: s.Log}))
		})

		r.Route("/buses", func(r chi.Router) {
			r.Post("/", HandlerFunc(&catalog.CreateBusHandler{
				Routes: s.Store.Routes(),
				Buses:  s.Store.Buses(),
				Feed:   s.Hubs,
				Log:    s.Log,
			}))
			r.Get("/", HandlerFunc(&catalog.ListBusesHandler{Buses: s.Store.Buses(), Log: s.Log}))
			r.Get("/{id}", HandlerFunc(&catalog.GetBusHandler{Buses: s.Store.Buses(), Log: s.Log}))
			r.Post("/{id}/seats", HandlerFunc(&catalog.CreateSeatsHandler{
				Routes: s.Store.Routes(),
				Buses:  s.Store.Buses(),
				Seats:  s.Store.Seats(),
				Feed:   s.Hubs,
				Log:    s.Log,
			}))
			r.Get("/{id}/seats", HandlerFunc(&catalog.ListSeatsHandler{Seats: s.Store.Seats(), Log: s.Log}))
		})
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// closes the websocket hubs.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Log.WithField("addr", s.Addr).Info("server running")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.Hubs.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	s.Hubs.Close()
	if err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
