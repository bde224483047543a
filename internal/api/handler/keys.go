package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/scanguard/internal/api/middleware"
	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/apikey"
	"github.com/kiranshivaraju/scanguard/internal/telemetry"
)

// KeyService defines the key management operations the handlers depend on.
type KeyService interface {
	Issue(ctx context.Context, p apikey.IssueParams) (*apikey.IssuedKey, error)
	List(ctx context.Context, ownerID string) ([]apikey.KeySummary, error)
	Revoke(ctx context.Context, keyID uuid.UUID, actingOwner string) error
}

// IssueKeyResponse is the only response that ever carries the plaintext key.
type IssueKeyResponse struct {
	APIKey       string     `json:"apiKey"`
	KeyID        uuid.UUID  `json:"keyId"`
	KeyName      string     `json:"keyName"`
	Scopes       []string   `json:"scopes"`
	Tier         string     `json:"tier"`
	DailyLimit   int64      `json:"dailyLimit"`
	MonthlyLimit int64      `json:"monthlyLimit"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

type KeyListResponse struct {
	Keys  []apikey.KeySummary `json:"keys"`
	Total int                 `json:"total"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/keys.
func NewCreateKeyHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			KeyName       string   `json:"keyName"`
			Scopes        []string `json:"scopes"`
			Tier          string   `json:"tier"`
			ExpiresInDays int      `json:"expiresInDays"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		issued, err := svc.Issue(r.Context(), apikey.IssueParams{
			OwnerID:       userID,
			Name:          req.KeyName,
			Scopes:        req.Scopes,
			Tier:          req.Tier,
			ExpiresInDays: req.ExpiresInDays,
		})
		if err != nil {
			switch {
			case errors.Is(err, apikey.ErrInvalidName):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keyName is required", nil)
			case errors.Is(err, apikey.ErrInvalidScope):
				response.Error(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error(),
					map[string]any{"allowed": apikey.AllScopes})
			case errors.Is(err, apikey.ErrDuplicateName):
				response.Error(w, http.StatusBadRequest, "DUPLICATE_NAME",
					"An API key with this name already exists. Please choose a different name.", nil)
			case errors.Is(err, apikey.ErrQuotaExceeded):
				response.Error(w, http.StatusBadRequest, "QUOTA_EXCEEDED",
					"Maximum number of active API keys reached", map[string]any{"max": apikey.MaxActiveKeys})
			case errors.Is(err, apikey.ErrStoreUnavailable):
				slog.Error("issuing api key", "user_id", userID, "error", err)
				response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Key store is unavailable", nil)
			default:
				slog.Error("issuing api key", "user_id", userID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate API key", nil)
			}
			return
		}

		key := issued.Key
		telemetry.KeysIssuedTotal.WithLabelValues(key.Tier).Inc()
		slog.Info("api key issued", "user_id", userID, "key_id", key.ID, "tier", key.Tier)

		response.Created(w, IssueKeyResponse{
			APIKey:       issued.Secret,
			KeyID:        key.ID,
			KeyName:      key.Name,
			Scopes:       key.Scopes,
			Tier:         key.Tier,
			DailyLimit:   key.Usage.DailyLimit,
			MonthlyLimit: key.Usage.MonthlyLimit,
			ExpiresAt:    key.ExpiresAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/keys.
func NewListKeysHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		listKeys(w, r, svc, userID)
	}
}

// NewAdminListKeysHandler returns an http.HandlerFunc for
// GET /api/v1/admin/keys?owner=. It requires an API key with the admin scope.
func NewAdminListKeysHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "owner query parameter is required", nil)
			return
		}
		listKeys(w, r, svc, owner)
	}
}

func listKeys(w http.ResponseWriter, r *http.Request, svc KeyService, owner string) {
	keys, err := svc.List(r.Context(), owner)
	if err != nil {
		slog.Error("listing api keys", "owner_id", owner, "error", err)
		if errors.Is(err, apikey.ErrStoreUnavailable) {
			response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Key store is unavailable", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list API keys", nil)
		return
	}
	response.JSON(w, KeyListResponse{Keys: keys, Total: len(keys)})
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/keys/{keyID}.
func NewRevokeKeyHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keyID must be a valid UUID", nil)
			return
		}

		if err := svc.Revoke(r.Context(), keyID, userID); err != nil {
			switch {
			case errors.Is(err, apikey.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
			case errors.Is(err, apikey.ErrOwnershipMismatch):
				response.Error(w, http.StatusForbidden, "OWNERSHIP_MISMATCH", "Unauthorized to revoke this API key", nil)
			case errors.Is(err, apikey.ErrStoreUnavailable):
				slog.Error("revoking api key", "key_id", keyID, "error", err)
				response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Key store is unavailable", nil)
			default:
				slog.Error("revoking api key", "key_id", keyID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke API key", nil)
			}
			return
		}

		telemetry.KeysRevokedTotal.Inc()
		slog.Info("api key revoked", "user_id", userID, "key_id", keyID)
		response.JSON(w, map[string]any{"keyId": keyID, "revoked": true})
	}
}
