package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"emrvault/internal/activity"
	"emrvault/internal/emr/models"
	"emrvault/internal/emr/service"
	dErrors "emrvault/pkg/domain-errors"
	"emrvault/pkg/platform/httputil"
	"emrvault/pkg/requestcontext"
)

// maxActivityBatch caps offsets per activity request.
const maxActivityBatch = 500

// Service defines the EMR operations the handler exposes.
type Service interface {
	IssueRecord(ctx context.Context, req service.IssueRequest) (*service.IssueResult, error)
	UpdateRecord(ctx context.Context, req service.UpdateRequest) (*service.UpdateResult, error)
	ReadRecord(ctx context.Context, ref service.RecordRef) (*service.Record, error)
	ListRecords(ctx context.Context, lookup models.HashedID) ([]models.RecordID, error)
	RemoveRecord(ctx context.Context, ref service.RecordRef, lookup models.HashedID) (*service.RemoveResult, error)
	RevokeAccess(ctx context.Context, ref service.RecordRef, lookup models.HashedID) (uint64, error)
	Activity(ctx context.Context, offsets []uint64) ([]*activity.Entry, error)
	ActivityLen() uint64
}

// Handler wires EMR endpoints to the service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts EMR endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/records", h.HandleIssue)
	r.Route("/records/{subject}/{issuer}/{record}", func(r chi.Router) {
		r.Get("/", h.HandleRead)
		r.Patch("/", h.HandleUpdate)
		r.Delete("/", h.HandleRemove)
		r.Post("/revoke", h.HandleRevoke)
	})
	r.Get("/lookups/{lookup}/records", h.HandleLookup)
	r.Get("/activity", h.HandleActivity)
}

// HandleIssue handles POST /records.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueRecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.IssueRecord(ctx, req.parsed)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusCreated, "record issued", &IssueRecordResponse{
		RecordID: res.Record.String(),
		Fields:   res.Fields,
		Offset:   res.Offset,
	})
}

func (h *Handler) ref(w http.ResponseWriter, r *http.Request) (service.RecordRef, bool) {
	ref, err := parseRef(chi.URLParam(r, "subject"), chi.URLParam(r, "issuer"), chi.URLParam(r, "record"))
	if err != nil {
		httputil.WriteError(w, err)
		return ref, false
	}
	return ref, true
}

// HandleRead handles GET /records/{subject}/{issuer}/{record}.
func (h *Handler) HandleRead(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	rec, err := h.service.ReadRecord(r.Context(), ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "", fromRecord(rec))
}

// HandleUpdate handles PATCH /records/{subject}/{issuer}/{record}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateRecordRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.UpdateRecord(ctx, service.UpdateRequest{
		Subject: ref.Subject, Issuer: ref.Issuer, Record: ref.Record,
		Fields: toFields(req.Fields),
	})
	if err != nil {
		if res != nil && res.Updated > 0 {
			h.logger.WarnContext(ctx, "record partially updated",
				"request_id", requestcontext.RequestID(ctx),
				"record_id", ref.Record.String(),
				"updated", res.Updated,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "record updated", &UpdateRecordResponse{Updated: res.Updated, Offset: res.Offset})
}

// HandleRemove handles DELETE /records/{subject}/{issuer}/{record}.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[LookupRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.RemoveRecord(ctx, ref, req.parsed)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "record removed", &RemoveRecordResponse{Removed: res.Removed, Offset: res.Offset})
}

// HandleRevoke handles POST /records/{subject}/{issuer}/{record}/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[LookupRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	offset, err := h.service.RevokeAccess(ctx, ref, req.parsed)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "access revoked", &RevokeResponse{Offset: offset})
}

// HandleLookup handles GET /lookups/{lookup}/records.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	lookup, err := models.ParseHashedHex(chi.URLParam(r, "lookup"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "lookup must be 64 hex characters"))
		return
	}
	ids, err := h.service.ListRecords(r.Context(), lookup)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "", fromRecordIDs(ids))
}

// HandleActivity handles GET /activity?offsets=0,1,2.
func (h *Handler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	offsets, err := parseOffsets(r.URL.Query().Get("offsets"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.service.Activity(r.Context(), offsets)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "", fromActivity(offsets, entries, h.service.ActivityLen()))
}

func parseOffsets(raw string) ([]uint64, error) {
	if raw == "" {
		return []uint64{}, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) > maxActivityBatch {
		return nil, dErrors.New(dErrors.CodeBadRequest, "too many offsets, max "+strconv.Itoa(maxActivityBatch))
	}
	out := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, "offsets must be unsigned integers")
		}
		out[i] = n
	}
	return out, nil
}
