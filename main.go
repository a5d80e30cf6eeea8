package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/dreamauth/internal/config"
	"github.com/example/dreamauth/internal/migrations"
	"github.com/example/dreamauth/internal/session"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type App struct {
	DB       DB
	Sessions session.Store
	Auth     *session.Authenticator
	Backend  *BackendTokenIssuer
	Log      *zap.Logger

	AllowedOrigins      []string
	ExposeAuthErrorKind bool

	limiter  *RateLimiter
	validate *validator.Validate
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Routes builds the full HTTP handler. Credential routes are mounted at the
// root, under /api/v1/auth, and under /api for older web clients.
func (a *App) Routes() http.Handler {
	if a.Log == nil {
		a.Log = zap.NewNop()
	}
	if a.limiter == nil {
		a.limiter = NewRateLimiter(30)
	}
	if a.validate == nil {
		a.validate = newValidator()
	}

	r := mux.NewRouter()
	r.Use(Instrument)

	r.HandleFunc("/", a.HandleWelcome).Methods("GET")
	r.HandleFunc("/health", a.HandleHealth).Methods("GET")
	r.HandleFunc("/ready", a.HandleReady).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	a.mountAuth(r)
	r.Handle("/auth/validate", a.RequireSession(http.HandlerFunc(a.HandleForwardAuth))).Methods("GET")

	v1 := r.PathPrefix("/api/v1/auth").Subrouter()
	a.mountAuth(v1)
	v1.Handle("/validate", a.RequireSession(http.HandlerFunc(a.HandleForwardAuth))).Methods("GET")

	// registered after v1 so /api/v1/... is never shadowed
	a.mountAuth(r.PathPrefix("/api").Subrouter())

	return SecurityHeaders(a.CORS(a.Logging(r)))
}

func (a *App) mountAuth(r *mux.Router) {
	r.Handle("/register", a.RateLimit(http.HandlerFunc(a.HandleRegister))).Methods("POST")
	r.Handle("/login", a.RateLimit(http.HandlerFunc(a.HandleLogin))).Methods("POST")
	r.HandleFunc("/logout", a.HandleLogout).Methods("POST")
	r.Handle("/logout/all", a.RequireSession(http.HandlerFunc(a.HandleLogoutAll))).Methods("POST")
	r.Handle("/me", a.RequireSession(http.HandlerFunc(a.HandleMe))).Methods("GET")
}

func openDB(c *config.Config, log *zap.Logger) (DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		return s, nil
	case "postgres":
		log.Info("applying database migrations")
		if err := migrations.Apply(c.PostgresDSN, log); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		p, err := NewPostgresDB(c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		log.Info("connected to PostgreSQL database")
		return p, nil
	case "memory":
		log.Warn("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s", c.DBAdapter)
	}
}

func openSessionStore(c *config.Config, db DB) (session.Store, error) {
	switch c.SessionStore {
	case "db":
		return db, nil
	case "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		s, err := session.NewRedisStore(c.RedisURL)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE: %s", c.SessionStore)
	}
}

func main() {
	c, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := newLogger(c.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := openDB(c, log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	store, err := openSessionStore(c, db)
	if err != nil {
		log.Fatal("session store", zap.Error(err))
	}
	if closer, ok := store.(interface{ Close() error }); ok && store != session.Store(db) {
		defer closer.Close()
	}

	auth, err := session.New(db, store, c.SessionConfig(), session.WithLogger(log.Named("session")))
	if err != nil {
		log.Fatal("authenticator", zap.Error(err))
	}

	app := &App{
		DB:                  db,
		Sessions:            store,
		Auth:                auth,
		Log:                 log,
		AllowedOrigins:      c.AllowedOrigins,
		ExposeAuthErrorKind: c.ExposeAuthErrorKind,
		limiter:             NewRateLimiter(c.LoginRatePerMinute),
	}
	if c.BackendTokenSecret != "" {
		if app.Backend, err = NewBackendTokenIssuer(c.BackendTokenSecret, c.BackendTokenTTL); err != nil {
			log.Fatal("backend token issuer", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if p, ok := store.(session.Purger); ok {
		go session.NewJanitor(p, c.SessionPurgeInterval, log.Named("janitor")).Run(ctx)
	}

	srv := &http.Server{Handler: app.Routes(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		log.Info("starting server",
			zap.String("port", c.Port),
			zap.String("db", c.DBAdapter),
			zap.String("session_store", c.SessionStore),
			zap.Duration("session_ttl", c.SessionTTL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
		return
	}
	log.Info("server exited properly")
}
