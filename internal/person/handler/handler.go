// Package handler exposes the person registry over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dogfight/internal/person/models"
	id "dogfight/pkg/domain"
	dErrors "dogfight/pkg/domain-errors"
	"dogfight/pkg/platform/httputil"
	"dogfight/pkg/requestcontext"
)

const maxBodyBytes = 64 << 10

// Service defines the registry operations the handler needs.
type Service interface {
	Create(ctx context.Context, req models.CreatePersonRequest) (*models.Person, error)
	Find(ctx context.Context, personID id.PersonID) (*models.Person, bool, error)
	Search(ctx context.Context, term string) ([]*models.Person, error)
	Count(ctx context.Context) (int64, error)
}

// Handler handles person endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a new person Handler.
func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register registers the person routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/pessoas", h.handleCreate)
	r.Get("/pessoas/{id}", h.handleGet)
	r.Get("/pessoas", h.handleSearch)
	r.Get("/contagem-pessoas", h.handleCount)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CreatePersonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid create person request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	person, err := h.service.Create(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Location", "/pessoas/"+person.ID.String())
	httputil.WriteJSON(w, http.StatusCreated, person)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	personID, err := id.ParsePersonID(chi.URLParam(r, "id"))
	if err != nil {
		// An id that cannot exist is reported the same as one that does not.
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "person not found"))
		return
	}

	person, found, err := h.service.Find(ctx, personID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "person not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, person)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	term := r.URL.Query().Get("t")
	if term == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "query parameter t is required"))
		return
	}

	people, err := h.service.Search(ctx, term)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, people)
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Count(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strconv.FormatInt(n, 10)))
}

// decodeJSON reads a single JSON object from the request body. Syntax and
// type errors are bad requests; missing or null fields are left for
// validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "request body too large")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if dec.More() {
		return dErrors.New(dErrors.CodeBadRequest, "request body must contain a single JSON object")
	}
	return nil
}
