package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ponti/attention-service/internal/models"
	"ponti/attention-service/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Handler struct {
	store      store.TicketStore
	sessionTTL time.Duration
	secure     bool
}

type Options struct {
	SessionTTL    time.Duration
	SecureCookies bool
}

func NewHandler(store store.TicketStore, options Options) *Handler {
	ttl := options.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Handler{
		store:      store,
		sessionTTL: ttl,
		secure:     options.SecureCookies,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/login", h.handleLogin)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/snapshot", h.handleTicketSnapshot)
	mux.HandleFunc("/api/tickets/", h.handleTicketByID)
	mux.HandleFunc("/api/attentions", h.handleAttentions)
	return mux
}

type createTicketRequest struct {
	RequestID string `json:"request_id"`

	AttentionPositionID           string `json:"attentionPositionId"`
	AttentionPositionName         string `json:"attentionPositionName"`
	AttentionPositionBusinessID   string `json:"attentionPositionBusinessId"`
	AttentionPositionBusinessName string `json:"attentionPositionBusinessName"`

	PersonDocumentID string `json:"personDocumentId"`
	PersonFirstNames string `json:"personFirstNames"`
	PersonLastNames  string `json:"personLastNames"`
	PersonEmail      string `json:"personEmail"`
	PersonCareer     string `json:"personCareer"`
	PersonPeriodName string `json:"personPeriodName"`
	PersonGender     string `json:"personGender"`
}

type actionRequest struct {
	Version int `json:"version"`
}

type transferActionRequest struct {
	Version int    `json:"version"`
	Reason  string `json:"reason"`

	AttentionPositionID           string `json:"attentionPositionId"`
	AttentionPositionName         string `json:"attentionPositionName"`
	AttentionPositionBusinessID   string `json:"attentionPositionBusinessId"`
	AttentionPositionBusinessName string `json:"attentionPositionBusinessName"`
}

type finishActionRequest struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	staff, err := h.store.GetStaffByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrStaffNotFound) {
			writeError(w, "", http.StatusUnauthorized, "bad_credentials", "invalid email or password")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(staff.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, "", http.StatusUnauthorized, "bad_credentials", "invalid email or password")
		return
	}

	session := store.Session{
		SessionID: uuid.NewString(),
		StaffID:   staff.StaffID,
		CSRFToken: uuid.NewString(),
		ExpiresAt: time.Now().UTC().Add(h.sessionTTL),
	}
	if err := h.store.CreateSession(r.Context(), session); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.SessionID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	// Readable by the client so it can echo the token back as a header.
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    session.CSRFToken,
		Path:     "/",
		Expires:  session.ExpiresAt,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"staff_id":     staff.StaffID,
		"display_name": staff.DisplayName,
	})
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.AttentionPositionID = strings.TrimSpace(req.AttentionPositionID)
	req.AttentionPositionBusinessID = strings.TrimSpace(req.AttentionPositionBusinessID)
	req.PersonDocumentID = strings.TrimSpace(req.PersonDocumentID)
	req.PersonFirstNames = strings.TrimSpace(req.PersonFirstNames)
	req.PersonLastNames = strings.TrimSpace(req.PersonLastNames)

	if req.RequestID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}
	if req.AttentionPositionID == "" || req.AttentionPositionBusinessID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "attentionPositionId and attentionPositionBusinessId are required")
		return
	}
	if req.PersonDocumentID == "" || req.PersonFirstNames == "" || req.PersonLastNames == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "personDocumentId, personFirstNames, and personLastNames are required")
		return
	}

	input := store.CreateTicketInput{
		RequestID: req.RequestID,
		Position: models.Position{
			PositionID:   req.AttentionPositionID,
			PositionName: req.AttentionPositionName,
			BusinessID:   req.AttentionPositionBusinessID,
			BusinessName: req.AttentionPositionBusinessName,
		},
		Person: models.Person{
			DocumentID: req.PersonDocumentID,
			FirstNames: req.PersonFirstNames,
			LastNames:  req.PersonLastNames,
			Email:      strings.TrimSpace(req.PersonEmail),
			Career:     strings.TrimSpace(req.PersonCareer),
			PeriodName: strings.TrimSpace(req.PersonPeriodName),
			Gender:     strings.TrimSpace(req.PersonGender),
		},
		CreatedAt: time.Now().UTC(),
	}

	ticket, _, err := h.store.CreateTicket(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	positionID := strings.TrimSpace(r.URL.Query().Get("position_id"))

	tickets, err := h.store.SnapshotTickets(r.Context(), businessID, positionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleTicketByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		ticketID := parts[0]
		if !isValidUUID(ticketID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket id must be a UUID")
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleGetTicket(w, r, ticketID)
		case http.MethodDelete:
			h.handleDeleteTicket(w, r, ticketID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticketID := parts[0]
		if !isValidUUID(ticketID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket id must be a UUID")
			return
		}
		h.handleTicketAction(w, r, ticketID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleDeleteTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if err := h.store.DeleteTicket(r.Context(), ticketID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if session, ok := sessionFromContext(r.Context()); ok {
		log.Printf("ticket deleted ticket_id=%s staff_id=%s", ticketID, session.StaffID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	switch action {
	case "call":
		h.handleSimpleAction(w, r, ticketID, h.store.CallTicket)
	case "attend":
		h.handleSimpleAction(w, r, ticketID, h.store.AttendTicket)
	case "cancel":
		h.handleSimpleAction(w, r, ticketID, h.store.CancelTicket)
	case "transfer":
		h.handleTransfer(w, r, ticketID)
	case "finish":
		h.handleFinish(w, r, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleSimpleAction(w http.ResponseWriter, r *http.Request, ticketID string, apply func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)) {
	var req actionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Version < 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "version must not be negative")
		return
	}

	ticket, err := apply(r.Context(), store.TicketActionInput{
		TicketID:   ticketID,
		Version:    req.Version,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req transferActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.AttentionPositionID = strings.TrimSpace(req.AttentionPositionID)
	req.AttentionPositionBusinessID = strings.TrimSpace(req.AttentionPositionBusinessID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AttentionPositionID == "" || req.AttentionPositionBusinessID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "attentionPositionId and attentionPositionBusinessId are required")
		return
	}
	if req.Reason == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "reason is required")
		return
	}
	if req.Version < 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "version must not be negative")
		return
	}

	ticket, err := h.store.TransferTicket(r.Context(), store.TransferTicketInput{
		TicketID: ticketID,
		Version:  req.Version,
		Position: models.Position{
			PositionID:   req.AttentionPositionID,
			PositionName: req.AttentionPositionName,
			BusinessID:   req.AttentionPositionBusinessID,
			BusinessName: req.AttentionPositionBusinessName,
		},
		Reason:     req.Reason,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req finishActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "description is required")
		return
	}
	if req.Version < 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "version must not be negative")
		return
	}

	ticket, record, err := h.store.FinishTicket(r.Context(), store.FinishTicketInput{
		TicketID:    ticketID,
		Version:     req.Version,
		Description: req.Description,
		FinishedAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket":    ticket,
		"attention": record,
	})
}

func (h *Handler) handleAttentions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	limit, ok := parseLimit(r.URL.Query().Get("limit"), 100)
	if !ok {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
		return
	}

	records, err := h.store.ListAttentions(r.Context(), businessID, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "version_conflict", "ticket was modified by another writer"
	case errors.Is(err, store.ErrPositionRequired):
		return http.StatusBadRequest, "invalid_request", "a destination position is required"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func parseLimit(raw string, fallback int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
