package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"inkgate.org/internal/audit"
	"inkgate.org/internal/auth"
	"inkgate.org/internal/obs"
	"inkgate.org/internal/record"
)

type createRecordRequest struct {
	Payload     json.RawMessage `json:"payload" validate:"required"`
	ContentHash string          `json:"content_hash" validate:"omitempty,max=256"`
}

type listRecordsResponse struct {
	Items []record.Record `json:"items"`
	Count int             `json:"count"`
	AsOf  time.Time       `json:"as_of"`
}

func (a *API) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRecord(w, r)
	case http.MethodGet:
		a.listRecords(w, r)
	case http.MethodDelete:
		a.deleteRecords(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// createRecord persists a document for the caller's tenant. Tenant scope
// comes from the verified identity, never from the body. A storage outage
// stages the write and answers 202 instead of failing the request.
func (a *API) createRecord(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing identity")
		return
	}

	var req createRecordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}
	if !json.Valid(req.Payload) {
		writeError(w, r, http.StatusBadRequest, "payload must be valid JSON")
		return
	}
	hash := strings.TrimSpace(req.ContentHash)
	if hash == "" {
		hash = record.ContentHash(req.Payload)
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.storageTimeout)
	defer cancel()
	rec, err := a.store.Upsert(ctx, identity.OrgID, identity.Subject, hash, req.Payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, rec)
	case errors.Is(err, record.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid record key")
	default:
		// Treat every other failure as an outage: stage the write, keep the
		// request alive. Enqueue problems are logged, never surfaced, so data
		// loss stays observable without breaking availability.
		entry, qerr := a.queue.Enqueue(identity.OrgID, identity.Subject, hash, req.Payload)
		if qerr != nil {
			obs.LogEvent("error", "pending enqueue failed", map[string]any{
				"org_id": identity.OrgID,
				"error":  qerr.Error(),
			})
		}
		_ = audit.LogEvent(r.Context(), "record.write_queued", map[string]any{
			"pending_id": entry.ID,
		})
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
	}
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing identity")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.storageTimeout)
	defer cancel()
	items, err := a.store.ListByTenant(ctx, identity.OrgID, identity.Subject)
	if err != nil {
		// Reads cannot be queued; surface the outage.
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if items == nil {
		items = []record.Record{}
	}
	writeJSON(w, http.StatusOK, listRecordsResponse{
		Items: items,
		Count: len(items),
		AsOf:  time.Now().UTC(),
	})
}

// deleteRecords is the operator erasure path for data-subject requests. It is
// gated on the operator secret, not an end-user token, and is the only place
// a tenant scope arrives in the request itself.
func (a *API) deleteRecords(w http.ResponseWriter, r *http.Request) {
	presented := r.Header.Get(hostKeyHeader)
	if a.hostAPIKey == "" || presented == "" ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(a.hostAPIKey)) != 1 {
		obs.AuthFailures.WithLabelValues("invalid_operator_key").Inc()
		_ = audit.LogEvent(r.Context(), "records.erasure_rejected", map[string]any{
			"path": r.URL.Path,
		})
		writeError(w, r, http.StatusUnauthorized, "operator credential required")
		return
	}

	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if orgID == "" || userID == "" {
		writeError(w, r, http.StatusBadRequest, "org_id and user_id are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.storageTimeout)
	defer cancel()
	deleted, err := a.store.DeleteByTenant(ctx, orgID, userID)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	_ = audit.LogEvent(r.Context(), "records.erased", map[string]any{
		"org_id":  orgID,
		"user_id": userID,
		"deleted": deleted,
	})
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
