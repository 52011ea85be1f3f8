package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "github.com/example/tokengate/internal/config"
	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"
)

var (
	jwtSecret   []byte
	grantSecret []byte
)

type App struct {
	DB      DB
	Ledger  *Ledger
	Catalog *Catalog

	rateLimiter    *RateLimiter
	allowedOrigins []string
	pricingURL     string
	grantTTL       time.Duration
	signupGrant    int64
	requestTimeout time.Duration
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

// Router wires middleware and routes for the service
func (app *App) Router() *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(SecurityHeaders)
	r.Use(app.Logging)
	r.Use(app.CORS)
	r.Use(app.Timeout)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := app.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Authentication endpoints (no bearer token yet)
	v1.HandleFunc("/auth/register", app.HandleRegister).Methods("POST")
	v1.HandleFunc("/auth/login", app.HandleLogin).Methods("POST")
	v1.HandleFunc("/auth/refresh", app.HandleRefresh).Methods("POST")
	v1.HandleFunc("/auth/logout", app.HandleLogout).Methods("POST")

	// Grant verification for destination modules (grant is the credential)
	v1.HandleFunc("/access/verify", app.HandleVerifyGrant).Methods("GET")

	// Ledger and access endpoints require a login token
	ledger := v1.NewRoute().Subrouter()
	ledger.Use(app.BearerAuth)
	ledger.Use(app.RateLimit)
	ledger.HandleFunc("/tokens/balance", app.HandleBalance).Methods("GET")
	ledger.HandleFunc("/tokens/consume", app.HandleConsume).Methods("POST")
	ledger.HandleFunc("/tokens/history", app.HandleHistory).Methods("GET")
	ledger.HandleFunc("/access/grant", app.HandleGrant).Methods("POST")
	ledger.HandleFunc("/access", app.HandleAccess).Methods("POST")
	ledger.HandleFunc("/modules", app.HandleModules).Methods("GET")
	ledger.HandleFunc("/admin/credit", app.HandleAdminCredit).Methods("POST")

	return r
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	jwtSecret = []byte(c.JwtSecret)
	grantSecret = []byte(c.GrantSecret)

	var db DB
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}

		// Apply migrations before connecting
		log.Println("Applying database migrations...")
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Printf("migrations warning: %v", err)
		} else {
			log.Println("Migrations applied successfully")
		}

		p, err := NewPostgresDB(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		log.Println("Connected to PostgreSQL database")
	case "memory":
		log.Println("Using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	catalog := DefaultCatalog()
	if c.CatalogFile != "" {
		catalog, err = LoadCatalog(c.CatalogFile)
		if err != nil {
			log.Fatalf("catalog: %v", err)
		}
	}
	log.Printf("Module catalog loaded: %d modules", len(catalog.List()))

	app := &App{
		DB:             db,
		Ledger:         NewLedger(db, catalog),
		Catalog:        catalog,
		rateLimiter:    NewRateLimiter(c.RateLimitPerMinute),
		allowedOrigins: c.AllowedOrigins,
		pricingURL:     c.PricingURL,
		grantTTL:       time.Duration(c.GrantTTLMinutes) * time.Minute,
		signupGrant:    c.SignupGrant,
		requestTimeout: time.Duration(c.RequestTimeoutSeconds) * time.Second,
	}

	srv := &http.Server{Handler: app.Router(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		fmt.Println("Starting token ledger server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown failed:%+v", err)
	}
	fmt.Println("Server exited properly")
}
