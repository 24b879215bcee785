package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/service"
)

type handler struct {
	svc       *service.FileBox
	logger    *zap.Logger
	maxUpload int64
}

type errorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// uploadItem is the JSON upload body. FileBytes is base64 on the wire.
type uploadItem struct {
	FileID    string         `json:"file_id"`
	FileType  string         `json:"file_type"`
	FileBytes []byte         `json:"file_bytes"`
	Metadata  map[string]any `json:"meta_data"`
}

type configBody struct {
	models.RuleDocument
	Version  int64  `json:"version,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Changed  bool   `json:"changed,omitempty"`
}

type reviewBody struct {
	Deleted  int `json:"deleted"`
	Reviewed int `json:"reviewed"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// httpStatus maps service errors the same way the gRPC surface does.
func httpStatus(err error) int {
	switch service.Code(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.NotFound:
		return http.StatusNotFound
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, status, errorBody{Message: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Message: http.StatusText(status), Detail: err.Error()})
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Message: "file too large", Detail: err.Error()})
			return false
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Message: "unprocessable entity", Detail: err.Error()})
		return false
	}
	return true
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "unavailable", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, http.StatusOK)
}

func (h *handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if h.maxUpload > 0 {
		// base64 grows the payload by a third; leave room for metadata.
		limit = h.maxUpload*4/3 + 1<<20
	}
	var item uploadItem
	if !h.decode(w, r, limit, &item) {
		return
	}
	resp, err := h.svc.UploadFile(r.Context(), service.UploadRequest{
		FileID:   item.FileID,
		FileType: item.FileType,
		Data:     item.FileBytes,
		Metadata: item.Metadata,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getFile(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.GetFile(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) updateMetadata(w http.ResponseWriter, r *http.Request) {
	var md map[string]any
	if !h.decode(w, r, 1<<20, &md) {
		return
	}
	resp, err := h.svc.UpdateMetadata(r.Context(), chi.URLParam(r, "file_id"), md)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getFileBytes(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.GetFileBytes(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *handler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.GetConfig(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configBody{RuleDocument: cfg.Document, Version: cfg.Version.Version, Checksum: cfg.Version.Checksum})
}

func (h *handler) setConfig(w http.ResponseWriter, r *http.Request) {
	var doc models.RuleDocument
	if !h.decode(w, r, 4<<20, &doc) {
		return
	}
	cfg, err := h.svc.SetConfig(r.Context(), doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configBody{
		RuleDocument: cfg.Document,
		Version:      cfg.Version.Version,
		Checksum:     cfg.Version.Checksum,
		Changed:      cfg.Changed,
	})
}

func exclusionKey(r *http.Request) models.Key {
	return models.Key{FileID: chi.URLParam(r, "file_id"), FileType: chi.URLParam(r, "file_type")}
}

func (h *handler) addExclusion(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.AddExclusion(r.Context(), exclusionKey(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) removeExclusion(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveExclusion(r.Context(), exclusionKey(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", service.ErrInvalidArgument, name)
	}
	return n, nil
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tasks, err := h.svc.ListTasks(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.ModerationTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *handler) reviewOutcomes(w http.ResponseWriter, r *http.Request) {
	var outcomes []models.ReviewOutcome
	if !h.decode(w, r, 8<<20, &outcomes) {
		return
	}
	res, err := h.svc.ProcessReview(r.Context(), outcomes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewBody{Deleted: len(res.Deletions), Reviewed: len(res.Verdicts)})
}
