package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opsdeskhq/opsdesk/app"
	"github.com/opsdeskhq/opsdesk/handlers"
	"github.com/opsdeskhq/opsdesk/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(2 * time.Minute))
	r.Use(middleware.AgentID)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Agent-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var sqlDB *sql.DB
	if deps.DB != nil {
		sqlDB = deps.DB.DB
	}
	healthHandler := handlers.NewHealthHandler(sqlDB, deps.Logger)
	chatHandler := handlers.NewChatHandler(deps.Orchestrator, deps.Logger)
	providersHandler := handlers.NewProvidersHandler(deps.Registry, deps.Orchestrator, deps.Logger)
	interactionsHandler := handlers.NewInteractionsHandler(deps.Interactions, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", chatHandler.HandleChat)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", providersHandler.HandleList)
			r.Post("/switch", providersHandler.HandleSwitch)
			r.Post("/model", providersHandler.HandleSwitchModel)
			r.Put("/{provider}/credential", providersHandler.HandleSetCredential)
		})

		r.Route("/interactions", func(r chi.Router) {
			r.Get("/", interactionsHandler.HandleList)
			r.Get("/{id}", interactionsHandler.HandleGet)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
