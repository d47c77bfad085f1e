package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users/{userId}/performance", handler.GetHistoricalPerformance).Methods("GET")
	api.HandleFunc("/users/{userId}/holdings", handler.GetHoldings).Methods("GET")
	api.HandleFunc("/users/{userId}/cache/invalidate", handler.InvalidateCache).Methods("POST")
	api.HandleFunc("/users/{userId}/cache/stats", handler.GetCacheStats).Methods("GET")

	return r
}
