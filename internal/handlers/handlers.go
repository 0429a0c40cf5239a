package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/Brownie44l1/waste-api/internal/classifier"
	"github.com/Brownie44l1/waste-api/internal/httpx"
	"github.com/Brownie44l1/waste-api/internal/metrics"
	"github.com/Brownie44l1/waste-api/internal/model"
	"github.com/Brownie44l1/waste-api/internal/preprocess"
	"github.com/Brownie44l1/waste-api/internal/tensor"
)

// Classifier is the part of classifier.Service the HTTP surface needs.
type Classifier interface {
	classifier.Classifier
	ClassifyTensor(ctx context.Context, x *tensor.Tensor) (*classifier.Prediction, error)
	InputShape() []int
}

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".heic": true,
	".heif": true,
}

type Handler struct {
	classifier     Classifier
	stats          *metrics.Recorder
	logger         *zap.Logger
	uploadDir      string
	maxUploadBytes int64
}

type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	Stats          *metrics.Recorder
	Logger         *zap.Logger
}

func NewHandler(c Classifier, opts Options) *Handler {
	h := &Handler{
		classifier:     c,
		stats:          opts.Stats,
		logger:         opts.Logger,
		uploadDir:      opts.UploadDir,
		maxUploadBytes: opts.MaxUploadBytes,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.uploadDir == "" {
		h.uploadDir = os.TempDir()
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = 16 << 20
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.Home)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/api/labels", h.Labels)
	mux.HandleFunc("/api/classify", h.Classify)
	mux.HandleFunc("/api/stats", h.Stats)
	mux.HandleFunc("/predict", h.Predict)
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello from waste-api"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Labels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"labels": h.classifier.Labels()})
}

// Stats reports latency per outcome. ?category=<label> narrows the answer
// to one label.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusOK, metrics.NewRecorder(0).Snapshot())
		return
	}
	if category := r.URL.Query().Get("category"); category != "" {
		l, ok := h.stats.Category(category)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("No predictions for %q", category))
			return
		}
		writeJSON(w, http.StatusOK, l)
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

// Classify accepts a multipart upload in the "image" field and returns the
// predicted category.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large, limit is %s", humanize.IBytes(uint64(h.maxUploadBytes))))
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusUnsupportedMediaType, "Invalid file type")
		return
	}

	data, err := h.stage(file, ext)
	if err != nil {
		h.logger.Error("failed to stage upload", zap.Error(err),
			zap.String("request_id", httpx.RequestID(r.Context())))
		writeError(w, http.StatusInternalServerError, "Failed to process image")
		return
	}

	h.logger.Debug("received upload",
		zap.String("filename", header.Filename),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
		zap.String("request_id", httpx.RequestID(r.Context())),
	)

	result, err := h.classifier.Classify(r.Context(), header.Filename, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// stage writes the upload to a temp file in the upload dir, reads it back
// and removes it.
func (h *Handler) stage(src io.Reader, ext string) ([]byte, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(h.uploadDir, "upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}
	return io.ReadAll(tmp)
}

// Predict scores an already preprocessed tensor sent as {"image": [...]}.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	shape := h.classifier.InputShape()
	x, err := tensor.FromData(req.Image, shape...)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Expected %d values, got %d", tensor.Volume(shape), len(req.Image)))
		return
	}

	result, err := h.classifier.ClassifyTensor(r.Context(), x)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	fields := []zap.Field{zap.Error(err), zap.Int("status", status),
		zap.String("request_id", httpx.RequestID(r.Context()))}
	if status >= http.StatusInternalServerError {
		h.logger.Error("classification failed", fields...)
	} else {
		h.logger.Info("classification rejected", fields...)
	}
	writeError(w, status, msg)
}

// StatusFor maps classification errors onto HTTP status codes and the
// message shown to the client.
func StatusFor(err error) (int, string) {
	var decodeErr *preprocess.DecodeError
	switch {
	case errors.Is(err, classifier.ErrUnprocessableImage), errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity, "Invalid image file"
	case errors.Is(err, classifier.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, "Model not loaded"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request cancelled"
	}
	return http.StatusInternalServerError, "Failed to process image"
}

// writeJSON encodes before writing the status so an unencodable value
// becomes a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
