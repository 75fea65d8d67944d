package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

// Routes returns the service's HTTP handler with CORS applied.
func Routes(h *Handler) http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/health", h.Health)
	router.HandlerFunc(http.MethodGet, "/categories", h.Categories)
	router.HandlerFunc(http.MethodPost, "/classify", h.Predict)
	router.HandlerFunc(http.MethodPost, "/classify/image", h.PredictFromImage)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{RequestIDHeader},
	}).Handler(router)
}
