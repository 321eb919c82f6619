package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/parcel-matching/internal/compat"
	"github.com/example/parcel-matching/internal/config"
	"github.com/example/parcel-matching/internal/events"
	"github.com/example/parcel-matching/internal/lifecycle"
	"github.com/example/parcel-matching/internal/messaging"
	"github.com/example/parcel-matching/internal/notify"
	"github.com/example/parcel-matching/internal/rating"
	"github.com/example/parcel-matching/internal/routeindex"
	"github.com/example/parcel-matching/internal/storage"
)

type Server struct {
	Store    storage.Store
	Finder   *compat.Finder
	Coord    *lifecycle.Coordinator
	Ratings  *rating.Aggregator
	Messages *messaging.Service
	Index    routeindex.Index
	WSReg    *notify.Registry

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the subsystem over the given store with an in-memory
// route index and no event producer. Tests and local runs use this.
func NewServer(store storage.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	coord := lifecycle.NewCoordinator(store, logger)
	wsreg := notify.NewRegistry()
	coord.Notify = wsreg
	msgs := messaging.NewService(store, coord, logger)
	msgs.Notify = wsreg

	finder := compat.NewFinder(store)
	idx := routeindex.NewMemoryIndex()
	finder.Source = idx

	s := &Server{
		Store:    store,
		Finder:   finder,
		Coord:    coord,
		Ratings:  rating.NewAggregator(store, logger),
		Messages: msgs,
		Index:    idx,
		WSReg:    wsreg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig builds the production wiring: postgres when a DSN is
// configured, redis for the route index, kafka for lifecycle events. Every
// piece degrades to its in-process fallback when unset.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	s := NewServer(store, logger)
	s.Coord.Retry = lifecycle.RetryPolicy{Attempts: cfg.SagaRetryAttempts, BaseDelay: cfg.SagaRetryBaseDelay}

	if cfg.RedisAddr != "" {
		idx := routeindex.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisRoutePrefix)
		s.Index = idx
		s.Finder.Source = idx
	}
	if len(cfg.KafkaBrokers) > 0 {
		s.Coord.Events = events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return s, nil
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/packages", s.handleCreatePackage).Methods("POST")
	api.HandleFunc("/packages/{id}", s.handleGetPackage).Methods("GET")
	api.HandleFunc("/packages/{id}", s.handleUpdatePackage).Methods("PATCH")
	api.HandleFunc("/packages/{id}", s.handleDeletePackage).Methods("DELETE")
	api.HandleFunc("/packages/{id}/compatible-trips", s.handleCompatibleTrips).Methods("GET")

	api.HandleFunc("/trips", s.handleCreateTrip).Methods("POST")
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{id}/compatible-packages", s.handleCompatiblePackages).Methods("GET")

	api.HandleFunc("/matches", s.handleProposeMatch).Methods("POST")
	api.HandleFunc("/matches/{id}/confirm-delivery", s.handleConfirmDelivery).Methods("POST")
	api.HandleFunc("/matches/{id}/reconcile", s.handleReconcile).Methods("POST")

	api.HandleFunc("/reviews", s.handleRecordReview).Methods("POST")
	api.HandleFunc("/users/{uid}", s.handleGetUser).Methods("GET")

	api.HandleFunc("/conversations/{id}/messages", s.handlePostMessage).Methods("POST")
	api.HandleFunc("/conversations/{id}/messages", s.handleListMessages).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{uid}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
