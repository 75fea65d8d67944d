package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Brownie44l1/imageclf/internal/inference"
	"github.com/Brownie44l1/imageclf/internal/logging"
	"github.com/Brownie44l1/imageclf/internal/model"
	"github.com/Brownie44l1/imageclf/internal/preprocess"
)

// RequestIDHeader carries the id assigned to each classification request.
const RequestIDHeader = "X-Request-ID"

// Classifier is the part of *classifier.Service the handlers use.
type Classifier interface {
	ClassifyBytes(ctx context.Context, data []byte) (model.ResultMap, error)
	ClassifyReader(ctx context.Context, r io.Reader) (model.ResultMap, error)
	Model() model.ModelWeight
	Device() model.DeviceClass
	Categories() model.CategoryTable
	Providers() inference.ProviderReport
}

type Handler struct {
	classifier     Classifier
	logger         *slog.Logger
	maxUploadBytes int64
}

func NewHandler(classifier Classifier, logger *slog.Logger, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		classifier:     classifier,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	Device     string `json:"device"`
	Provider   string `json:"provider"`
	Categories string `json:"categories"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "healthy",
		Model:      h.classifier.Model().String(),
		Device:     h.classifier.Device().String(),
		Provider:   h.classifier.Providers().Adopted,
		Categories: h.classifier.Categories().Source.String(),
	})
}

func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	table := h.classifier.Categories()
	writeJSON(w, http.StatusOK, model.CategoriesResponse{
		Source: table.Source.String(),
		Count:  table.Len(),
	})
}

// Predict classifies an encoded image sent as the raw request body.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set(RequestIDHeader, requestID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", readStatus(err))
		return
	}

	result, err := h.classifier.ClassifyBytes(r.Context(), body)
	if err != nil {
		h.fail(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewPredictionResponse(requestID, result))
}

// PredictFromImage classifies the file uploaded in the "image" form field.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set(RequestIDHeader, requestID)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		http.Error(w, "Failed to parse form", readStatus(err))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	h.logger.InfoContext(r.Context(), "received upload",
		slog.String("request_id", requestID),
		slog.String("filename", header.Filename),
		slog.Int64("size", header.Size))

	result, err := h.classifier.ClassifyReader(r.Context(), file)
	if err != nil {
		h.fail(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewPredictionResponse(requestID, result))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	if errors.Is(err, preprocess.ErrDecode) || errors.Is(err, preprocess.ErrEmptyInput) {
		h.logger.InfoContext(r.Context(), "rejected image",
			slog.String("request_id", requestID),
			slog.Any("error", err))
		http.Error(w, "Invalid image format", http.StatusBadRequest)
		return
	}
	h.logger.ErrorContext(r.Context(), "prediction failed",
		slog.String("request_id", requestID),
		slog.Any("error", err))
	http.Error(w, "Prediction failed", http.StatusInternalServerError)
}

// readStatus maps a request body read error to its status code.
func readStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
