// Package api is the thin JSON/HTTP control surface over gateway.Gateway:
// net/http handlers, encoding/json request/response bodies, no framework.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Core is the subset of gateway.Gateway's Control API this HTTP layer
// exposes. Declared here, rather than importing the gateway package
// directly, keeps this package testable against a fake.
type Core interface {
	RegisterAPNSDevice(ctx context.Context, tokenBytes []byte) (uuid.UUID, error)
	RegisterGCMDevice(ctx context.Context, tokenString string) (uuid.UUID, error)
	DropDevice(ctx context.Context, device uuid.UUID) error
	Push(ctx context.Context, device uuid.UUID, message, tag string) (uuid.UUID, error)
	Redeliver(ctx context.Context, messageUUIDs []uuid.UUID) error
	ListDeadDevices(ctx context.Context) ([]push.DeadDeviceEntry, error)
	ListFailedMessages(ctx context.Context, kind *push.Kind) ([]push.FailedMessageEntry, error)
}

// API wires Core's operations onto an http.ServeMux.
type API struct {
	core   Core
	logger *slog.Logger
}

func NewAPI(core Core, logger *slog.Logger) *API {
	return &API{core: core, logger: logger.With("component", "API")}
}

// Mux builds the route table. jwtSecret authenticates every route via
// bearer-token middleware; an empty secret is a programmer error, not a
// request-time one, since the config layer already requires it.
func (a *API) Mux(jwtSecret string) *http.ServeMux {
	mux := http.NewServeMux()
	auth := AuthMiddleware(jwtSecret)

	mux.Handle("POST /devices/apns", auth(http.HandlerFunc(a.registerAPNSDevice)))
	mux.Handle("POST /devices/gcm", auth(http.HandlerFunc(a.registerGCMDevice)))
	mux.Handle("DELETE /devices/{device_uuid}", auth(http.HandlerFunc(a.dropDevice)))
	mux.Handle("POST /push", auth(http.HandlerFunc(a.push)))
	mux.Handle("POST /redeliver", auth(http.HandlerFunc(a.redeliver)))
	mux.Handle("GET /devices/dead", auth(http.HandlerFunc(a.listDeadDevices)))
	mux.Handle("GET /messages/failed", auth(http.HandlerFunc(a.listFailedMessages)))

	return mux
}

type registerAPNSRequest struct {
	TokenHex string `json:"token_hex"`
}

func (a *API) registerAPNSDevice(w http.ResponseWriter, r *http.Request) {
	var req registerAPNSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	tokenBytes, err := hex.DecodeString(req.TokenHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token_hex must be valid hex")
		return
	}

	deviceUUID, err := a.core.RegisterAPNSDevice(r.Context(), tokenBytes)
	if err != nil {
		a.logger.Error("register_apns_device failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"device_uuid": deviceUUID.String()})
}

type registerGCMRequest struct {
	Token string `json:"token"`
}

func (a *API) registerGCMDevice(w http.ResponseWriter, r *http.Request) {
	var req registerGCMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	deviceUUID, err := a.core.RegisterGCMDevice(r.Context(), req.Token)
	if err != nil {
		a.logger.Error("register_gcm_device failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"device_uuid": deviceUUID.String()})
}

func (a *API) dropDevice(w http.ResponseWriter, r *http.Request) {
	deviceUUID, err := uuid.Parse(r.PathValue("device_uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device_uuid")
		return
	}
	if err := a.core.DropDevice(r.Context(), deviceUUID); err != nil {
		a.logger.Error("drop_device failed", "device", deviceUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "drop failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pushRequest struct {
	DeviceUUID string `json:"device_uuid"`
	Message    string `json:"message"`
	Tag        string `json:"tag"`
}

func (a *API) push(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	deviceUUID, err := uuid.Parse(req.DeviceUUID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device_uuid")
		return
	}

	msgUUID, err := a.core.Push(r.Context(), deviceUUID, req.Message, req.Tag)
	if err != nil {
		switch {
		case errors.Is(err, push.ErrUnknownDevice):
			writeError(w, http.StatusNotFound, "unknown device")
		case errors.Is(err, push.ErrProviderNotConfigured):
			writeError(w, http.StatusUnprocessableEntity, "provider not configured for device kind")
		default:
			a.logger.Error("push failed", "error", err)
			writeError(w, http.StatusInternalServerError, "push failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_uuid": msgUUID.String()})
}

type redeliverRequest struct {
	MessageUUIDs []string `json:"message_uuids"`
}

func (a *API) redeliver(w http.ResponseWriter, r *http.Request) {
	var req redeliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.MessageUUIDs))
	for _, raw := range req.MessageUUIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid message uuid: %s", raw))
			return
		}
		ids = append(ids, id)
	}

	if err := a.core.Redeliver(r.Context(), ids); err != nil {
		a.logger.Error("redeliver failed", "error", err)
		writeError(w, http.StatusInternalServerError, "redeliver failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) listDeadDevices(w http.ResponseWriter, r *http.Request) {
	entries, err := a.core.ListDeadDevices(r.Context())
	if err != nil {
		a.logger.Error("list_dead_devices failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) listFailedMessages(w http.ResponseWriter, r *http.Request) {
	var kindPtr *push.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		switch strings.ToLower(raw) {
		case "apns":
			k := push.KindAPNS
			kindPtr = &k
		case "gcm":
			k := push.KindGCM
			kindPtr = &k
		default:
			writeError(w, http.StatusBadRequest, "kind must be apns or gcm")
			return
		}
	}

	entries, err := a.core.ListFailedMessages(r.Context(), kindPtr)
	if err != nil {
		a.logger.Error("list_failed_messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

