// Package gateway is the HTTP surface of the token vault: a small REST
// management API, a health endpoint and the websocket channel the
// browser agents connect to. Everything except the websocket route is
// meant for the operator on the local network.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tokenvault-backend/lib/protocol"
	"tokenvault-backend/lib/timezone"
	"tokenvault-backend/services/keeper"
	"tokenvault-backend/services/registry"
	"tokenvault-backend/services/tokens"
	tokensdb "tokenvault-backend/services/tokens/db"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/gateway")

type Service struct {
	store              tokens.Service
	reg                *registry.Registry
	keeper             *keeper.Keeper
	managementPassword string
}

func NewService(store tokens.Service, reg *registry.Registry, keep *keeper.Keeper, managementPassword string) *Service {
	return &Service{
		store:              store,
		reg:                reg,
		keeper:             keep,
		managementPassword: managementPassword,
	}
}

func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(lanOnly)

	r.Get("/health", s.handleHealth)
	r.Post("/api/auth/verify", s.handleAuthVerify)
	r.Get("/api/tokens", s.handleListTokens)
	r.Post("/api/tokens", s.handleUpsertToken)
	r.Get("/api/tokens/{userId}", s.handleGetTokenByUser)
	r.Delete("/api/tokens/{id}", s.handleDeleteToken)
	r.Get("/api/connections", s.handleListConnections)
	r.Get("/ws", s.handleWebsocket)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Warn("failed to write response body", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeStorageError keeps the driver detail in the logs and the span;
// callers only ever see a generic failure.
func writeStorageError(ctx context.Context, w http.ResponseWriter, err error) {
	slog.ErrorContext(ctx, "storage failure", "err", err)
	writeError(w, http.StatusInternalServerError, "storage failure")
}

// tokenView is the REST projection of a stored credential. The secret
// itself never leaves the store unmasked.
type tokenView struct {
	Id           int64  `json:"id"`
	UserId       string `json:"user_id"`
	Account      string `json:"account,omitempty"`
	AccountType  string `json:"account_type"`
	TokenMasked  string `json:"token_masked"`
	Status       string `json:"status"`
	ExtensionId  string `json:"extension_id,omitempty"`
	NetworkCode  string `json:"network_code,omitempty"`
	NetworkName  string `json:"network_name,omitempty"`
	NetworkId    int64  `json:"network_id,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	LastActiveAt string `json:"last_active_at,omitempty"`
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).In(timezone.Location).Format(time.RFC3339)
}

func (s *Service) view(row tokensdb.Token) tokenView {
	v := tokenView{
		Id:          row.ID,
		UserId:      row.UserID,
		Account:     row.Account.String,
		AccountType: row.AccountType,
		TokenMasked: s.store.MaskedToken(row),
		Status:      row.Status,
		ExtensionId: row.ExtensionID.String,
		NetworkCode: row.NetworkCode.String,
		NetworkName: row.NetworkName.String,
		NetworkId:   row.NetworkID.Int64,
		CreatedAt:   formatUnix(row.CreatedAt),
		UpdatedAt:   formatUnix(row.UpdatedAt),
	}
	if row.LastActiveAt.Valid {
		v.LastActiveAt = formatUnix(row.LastActiveAt.Int64)
	}
	return v
}

func (s *Service) handleListTokens(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleListTokens")
	defer span.End()

	includeExpired := true
	if raw := r.URL.Query().Get("include_expired"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_expired must be a boolean")
			return
		}
		includeExpired = parsed
	}

	rows, err := s.store.GetAll(ctx, includeExpired)
	if err != nil {
		span.RecordError(err)
		writeStorageError(ctx, w, err)
		return
	}

	views := make([]tokenView, 0, len(rows))
	for _, row := range rows {
		views = append(views, s.view(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(views),
		"tokens": views,
	})
}

type upsertRequest struct {
	Token       string `json:"token"`
	UserId      string `json:"user_id"`
	ExtensionId string `json:"extension_id"`
	Account     string `json:"account"`
	AccountType string `json:"account_type"`
	NetworkCode string `json:"network_code"`
	NetworkName string `json:"network_name"`
	NetworkId   int64  `json:"network_id"`
}

func (s *Service) handleUpsertToken(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleUpsertToken")
	defer span.End()

	var req upsertRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	row, err := s.store.CreateOrUpdate(ctx, tokens.UpsertParams{
		Token:       req.Token,
		UserId:      req.UserId,
		ExtensionId: req.ExtensionId,
		Account:     req.Account,
		AccountType: req.AccountType,
		NetworkCode: req.NetworkCode,
		NetworkName: req.NetworkName,
		NetworkId:   req.NetworkId,
	})

	var invalid *tokens.ValidationError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, invalid.Reason)
		return
	}
	if err != nil {
		span.RecordError(err)
		writeStorageError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(row))
}

func (s *Service) handleGetTokenByUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleGetTokenByUser")
	defer span.End()

	userId := chi.URLParam(r, "userId")
	row, err := s.store.GetByUser(ctx, userId)
	if errors.Is(err, tokens.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no token for user "+userId)
		return
	}
	if err != nil {
		span.RecordError(err)
		writeStorageError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(row))
}

func (s *Service) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleDeleteToken")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token id must be an integer")
		return
	}

	userId, extensionId, err := s.store.Delete(ctx, id)
	if errors.Is(err, tokens.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no token with id "+strconv.FormatInt(id, 10))
		return
	}
	if err != nil {
		span.RecordError(err)
		writeStorageError(ctx, w, err)
		return
	}

	// tell the owning agent to drop its local copy
	if extensionId != "" {
		sent := s.reg.SendToExtension(ctx, extensionId,
			protocol.NewTokenDeleted(userId, "token removed by an administrator"))
		if !sent {
			slog.WarnContext(ctx, "agent offline, delete notification dropped",
				"extension_id", extensionId, "user_id", userId)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "token deleted",
	})
}

type connectionView struct {
	ExtensionId   string `json:"extension_id"`
	UserId        string `json:"user_id,omitempty"`
	ConnectedAt   string `json:"connected_at"`
	LastHeartbeat string `json:"last_heartbeat"`
}

func (s *Service) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.reg.Snapshot()
	views := make([]connectionView, 0, len(conns))
	for _, conn := range conns {
		views = append(views, connectionView{
			ExtensionId:   conn.ExtensionId,
			UserId:        conn.UserId,
			ConnectedAt:   conn.ConnectedAt.In(timezone.Location).Format(time.RFC3339),
			LastHeartbeat: conn.LastHeartbeat.In(timezone.Location).Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       len(views),
		"connections": views,
	})
}

func (s *Service) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	if req.Password != s.managementPassword {
		slog.Warn("management auth rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": "wrong password",
		})
		return
	}

	slog.Info("management auth accepted")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "authenticated",
		"session_token": uuid.NewString(),
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   timezone.Now().Format(time.RFC3339),
		"connections": s.reg.Count(),
		"keep_alive":  s.keeper.Stats(),
	})
}
