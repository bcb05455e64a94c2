package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/store"
	"github.com/bobarin/blessings/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zip"
)

// BatchService is the part of worker.Service the handlers use.
type BatchService interface {
	CreatePreview(ctx context.Context, in worker.BatchInput) (*models.PreviewResponse, error)
	CreateRender(ctx context.Context, in worker.BatchInput) (*models.ConfirmResponse, error)
	Confirm(ctx context.Context, batchID string, edits []models.NarrationEdit) (*models.ConfirmResponse, error)
	Status(ctx context.Context, batchID string) (*models.StatusResponse, error)
	CompletedVideos(ctx context.Context, batchID string) (*models.BatchJob, []string, error)
	Release(ctx context.Context, batchID string) error
}

var _ BatchService = (*worker.Service)(nil)

type HandlerConfig struct {
	PublicDir      string
	UploadsDir     string
	MaxUploadBytes int64
	MaxRecipients  int
	// StatusInterval is how often the websocket stream polls batch state.
	StatusInterval time.Duration
	// AllowedOrigins restricts websocket upgrades. Empty or "*" allows any origin.
	AllowedOrigins []string
}

type Handler struct {
	batches  BatchService
	cfg      HandlerConfig
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewHandler(batches BatchService, cfg HandlerConfig) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = 50
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	return &Handler{
		batches:  batches,
		cfg:      cfg,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

var (
	allowedAudioExts = map[string]bool{
		".wav": true, ".mp3": true, ".m4a": true, ".ogg": true,
		".webm": true, ".aac": true, ".flac": true, ".wma": true,
	}
	allowedVideoExts = map[string]bool{
		".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
		".flv": true, ".wmv": true, ".m4v": true, ".mpeg": true, ".mpg": true,
	}
)

// PreviewBatch handles POST /v1/batches/preview
func (h *Handler) PreviewBatch(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readBatchInput(w, r)
	if !ok {
		return
	}

	resp, err := h.batches.CreatePreview(r.Context(), in)
	if err != nil {
		log.Printf("[API] Preview failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create preview")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// RenderBatch handles POST /v1/batches/render, rendering without a preview step.
func (h *Handler) RenderBatch(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readBatchInput(w, r)
	if !ok {
		return
	}

	resp, err := h.batches.CreateRender(r.Context(), in)
	if err != nil {
		log.Printf("[API] Render failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to start render")
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// ConfirmBatch handles POST /v1/batches/{id}/confirm
func (h *Handler) ConfirmBatch(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	for _, edit := range req.Narrations {
		if edit.Theme != "" && !models.ValidTheme(edit.Theme) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid theme %q", edit.Theme))
			return
		}
	}

	resp, err := h.batches.Confirm(r.Context(), chi.URLParam(r, "id"), req.Narrations)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}

// GetBatch handles GET /v1/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	status, err := h.batches.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// DownloadBatch handles GET /v1/batches/{id}/download. It streams a ZIP of
// every finished video, then releases the batch.
func (h *Handler) DownloadBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	job, paths, err := h.batches.CompletedVideos(r.Context(), batchID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	name := fmt.Sprintf("blessings_%s_%d.zip", job.SenderName, time.Now().UnixMilli())
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(name)))
	w.WriteHeader(http.StatusOK)

	if err := writeZip(w, paths); err != nil {
		// Headers are already out; all we can do is cut the stream short.
		log.Printf("[API] Warning: zip for %s incomplete: %v", batchID, err)
		return
	}

	if err := h.batches.Release(context.WithoutCancel(r.Context()), batchID); err != nil && !errors.Is(err, worker.ErrBatchInProgress) {
		log.Printf("[API] Warning: failed to release %s after download: %v", batchID, err)
	}
}

// writeZip stores each file flat under its base name. Videos are already
// compressed, so entries are not deflated.
func writeZip(w io.Writer, paths []string) error {
	zw := zip.NewWriter(w)
	for _, path := range paths {
		if err := addZipEntry(zw, path); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addZipEntry(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Store

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

// GetFestival handles GET /v1/festivals/{id}. Unknown ids get spring.
func (h *Handler) GetFestival(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.FestivalConfig(models.ParseFestival(chi.URLParam(r, "id"))))
}

// ListThemes handles GET /v1/themes
func (h *Handler) ListThemes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.Themes())
}

// readBatchInput parses and validates the multipart form, then saves the
// uploads. It writes the error response itself and returns false on failure.
func (h *Handler) readBatchInput(w http.ResponseWriter, r *http.Request) (worker.BatchInput, bool) {
	// Room for both uploads plus the text fields.
	r.Body = http.MaxBytesReader(w, r.Body, 2*h.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return worker.BatchInput{}, false
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return worker.BatchInput{}, false
	}
	defer r.MultipartForm.RemoveAll()

	req := models.CreateBatchRequest{
		SenderName: strings.TrimSpace(r.FormValue("senderName")),
		Festival:   models.Festival(r.FormValue("festival")),
	}
	if raw := r.FormValue("recipients"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Recipients); err != nil {
			respondError(w, http.StatusBadRequest, "recipients must be a JSON array")
			return worker.BatchInput{}, false
		}
	}
	for i := range req.Recipients {
		rec := &req.Recipients[i]
		rec.Name = strings.TrimSpace(rec.Name)
		rec.Relation = strings.TrimSpace(rec.Relation)
		rec.Background = strings.TrimSpace(rec.Background)
	}

	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return worker.BatchInput{}, false
	}
	if len(req.Recipients) > h.cfg.MaxRecipients {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("At most %d recipients per batch", h.cfg.MaxRecipients))
		return worker.BatchInput{}, false
	}

	videoHeader := firstFile(r.MultipartForm, "video")
	if videoHeader == nil {
		respondError(w, http.StatusBadRequest, "A greeting video is required")
		return worker.BatchInput{}, false
	}
	if msg := h.checkUpload(videoHeader, "video/", allowedVideoExts); msg != "" {
		respondError(w, uploadStatus(videoHeader, h.cfg.MaxUploadBytes), msg)
		return worker.BatchInput{}, false
	}
	audioHeader := firstFile(r.MultipartForm, "audio")
	if audioHeader != nil {
		if msg := h.checkUpload(audioHeader, "audio/", allowedAudioExts); msg != "" {
			respondError(w, uploadStatus(audioHeader, h.cfg.MaxUploadBytes), msg)
			return worker.BatchInput{}, false
		}
	}

	in := worker.BatchInput{
		SenderName: req.SenderName,
		Recipients: req.Recipients,
		Festival:   models.ParseFestival(string(req.Festival)),
	}

	var err error
	if in.VideoFile, err = h.saveUpload(videoHeader, "video"); err != nil {
		log.Printf("[API] Failed to save video upload: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save upload")
		return worker.BatchInput{}, false
	}
	if audioHeader != nil {
		if in.AudioFile, err = h.saveUpload(audioHeader, "audio"); err != nil {
			log.Printf("[API] Failed to save audio upload: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to save upload")
			return worker.BatchInput{}, false
		}
	}
	return in, true
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if form == nil || len(form.File[field]) == 0 {
		return nil
	}
	return form.File[field][0]
}

// checkUpload accepts a file whose MIME type has the prefix or whose
// extension is allow-listed.
func (h *Handler) checkUpload(fh *multipart.FileHeader, mimePrefix string, exts map[string]bool) string {
	if fh.Size > h.cfg.MaxUploadBytes {
		return fmt.Sprintf("File exceeds %d MB", h.cfg.MaxUploadBytes>>20)
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if strings.HasPrefix(fh.Header.Get("Content-Type"), mimePrefix) || exts[ext] {
		return ""
	}
	if mimePrefix == "audio/" {
		return "Only audio files are accepted"
	}
	return "Only video files are accepted"
}

func uploadStatus(fh *multipart.FileHeader, limit int64) int {
	if fh.Size > limit {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// saveUpload writes the file as <kind>_<unixms><ext> in the uploads dir and
// returns its path relative to the public dir.
func (h *Handler) saveUpload(fh *multipart.FileHeader, kind string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	name := fmt.Sprintf("%s_%d%s", kind, time.Now().UnixMilli(), filepath.Ext(fh.Filename))
	dst, err := os.Create(filepath.Join(h.cfg.UploadsDir, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}

	rel, err := filepath.Rel(h.cfg.PublicDir, dst.Name())
	if err != nil || strings.HasPrefix(rel, "..") {
		return "uploads/" + name, nil
	}
	return filepath.ToSlash(rel), nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "Batch not found or expired")
	case errors.Is(err, worker.ErrBatchAlreadyStarted), errors.Is(err, worker.ErrBatchInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrNoCompletedItems):
		respondError(w, http.StatusBadRequest, "No completed videos yet")
	default:
		log.Printf("[API] Error: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
