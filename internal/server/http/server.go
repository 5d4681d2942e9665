// Package httpserver exposes the Ember HTTP API: auth, the message
// lifecycle, handshake sessions, and the burn-event websocket.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emberchat/ember-server/internal/errs"
	"github.com/emberchat/ember-server/internal/handshake"
	"github.com/emberchat/ember-server/internal/model"
	"github.com/emberchat/ember-server/internal/notify"
	"github.com/emberchat/ember-server/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Server wires services into HTTP handlers.
type Server struct {
	auth     service.AuthService
	messages service.MessageService
	sessions handshake.TrackerService
	hub      *notify.Hub
	signKey  []byte
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New constructs the server with injected services.
func New(auth service.AuthService, messages service.MessageService, sessions handshake.TrackerService, hub *notify.Hub, signKey []byte, log *zap.Logger) *Server {
	return &Server{
		auth:     auth,
		messages: messages,
		sessions: sessions,
		hub:      hub,
		signKey:  signKey,
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Router builds the route table. The websocket route stays outside the
// logging middleware; its wrapped writer cannot be hijacked.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover(s.log))

	r.HandleFunc("/ws", s.handleSubscribe).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(RequestLog(s.log))

	authAPI := api.PathPrefix("/auth").Subrouter()
	authAPI.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	authAPI.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	prot := api.PathPrefix("/").Subrouter()
	prot.Use(s.authMiddleware)
	prot.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	prot.HandleFunc("/messages/{id}", s.handleGetMessage).Methods(http.MethodGet)
	prot.HandleFunc("/messages/{id}/ack", s.handleAcknowledge).Methods(http.MethodPost)
	prot.HandleFunc("/messages/{id}/burn", s.handleScheduleBurn).Methods(http.MethodPut)
	prot.HandleFunc("/messages/{id}/burn", s.handleCancelBurn).Methods(http.MethodDelete)
	prot.HandleFunc("/scheduler/stats", s.handleSchedulerStats).Methods(http.MethodGet)
	prot.HandleFunc("/handshakes", s.handleInitiateHandshake).Methods(http.MethodPost)
	prot.HandleFunc("/handshakes/{id}", s.handleGetHandshake).Methods(http.MethodGet)
	prot.HandleFunc("/handshakes/{id}/complete", s.handleCompleteHandshake).Methods(http.MethodPost)
	prot.HandleFunc("/handshakes/{id}/fail", s.handleFailHandshake).Methods(http.MethodPost)
	prot.HandleFunc("/handshakes/{id}/retry", s.handleRetryHandshake).Methods(http.MethodPost)
	prot.HandleFunc("/handshakes/{id}/expire", s.handleExpireHandshake).Methods(http.MethodPost)
	prot.HandleFunc("/recovery/key-lost", s.handleKeyLost).Methods(http.MethodPost)

	return r
}

// --- Auth ---

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "empty username/password", http.StatusBadRequest)
		return
	}
	userID, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      u.ID.String(),
		"access_token": tok.AccessToken,
		"expires_at":   tok.ExpiresAt,
	})
}

// --- Messages ---

type sendMessageRequest struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	BodyEnc        []byte     `json:"body_enc"`
	UnlockHeight   *int64     `json:"unlock_height,omitempty"`
	BurnAt         *time.Time `json:"burn_at,omitempty"`
}

type messageResponse struct {
	ID              uuid.UUID  `json:"id"`
	ConversationID  uuid.UUID  `json:"conversation_id"`
	SenderID        uuid.UUID  `json:"sender_id"`
	BodyEnc         []byte     `json:"body_enc,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UnlockHeight    *int64     `json:"unlock_height,omitempty"`
	ScheduledBurnAt *time.Time `json:"scheduled_burn_at,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	BurnedAt        *time.Time `json:"burned_at,omitempty"`
	Locked          bool       `json:"locked"`
	Burned          bool       `json:"burned"`
}

func toMessageResponse(m *model.Message, locked bool) messageResponse {
	return messageResponse{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		BodyEnc:         m.BodyEnc,
		CreatedAt:       m.CreatedAt,
		UnlockHeight:    m.UnlockHeight,
		ScheduledBurnAt: m.ScheduledBurnAt,
		AcknowledgedAt:  m.AcknowledgedAt,
		BurnedAt:        m.BurnedAt,
		Locked:          locked,
		Burned:          m.Burned(),
	}
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserIDFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	msg, err := s.messages.Send(r.Context(), service.SendInput{
		ID:             req.ID,
		ConversationID: req.ConversationID,
		SenderID:       uid,
		BodyEnc:        req.BodyEnc,
		UnlockHeight:   req.UnlockHeight,
		BurnAt:         req.BurnAt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg, false))
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	view, err := s.messages.GetMessage(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(view.Message, view.Locked))
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	if err := s.messages.Acknowledge(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scheduleBurnRequest struct {
	BurnAt time.Time `json:"burn_at"`
}

func (s *Server) handleScheduleBurn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	var req scheduleBurnRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.BurnAt.IsZero() {
		http.Error(w, "empty burn_at", http.StatusBadRequest)
		return
	}
	if err := s.messages.ScheduleBurn(r.Context(), id, req.BurnAt); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelBurn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	if err := s.messages.CancelBurn(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statsEntry struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	At             time.Time `json:"at"`
	Remaining      string    `json:"remaining"`
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	st := s.messages.SchedulerStats()
	entries := make([]statsEntry, 0, len(st.Entries))
	for _, e := range st.Entries {
		entries = append(entries, statsEntry{
			MessageID:      e.MessageID,
			ConversationID: e.ConversationID,
			At:             e.At,
			Remaining:      e.Remaining.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": st.Pending,
		"entries": entries,
	})
}

// --- Handshakes ---

type initiateHandshakeRequest struct {
	ResponderID uuid.UUID `json:"responder_id"`
	TTLSeconds  int64     `json:"ttl_seconds,omitempty"`
}

type sessionResponse struct {
	SessionID     uuid.UUID          `json:"session_id"`
	InitiatorID   uuid.UUID          `json:"initiator_id"`
	ResponderID   uuid.UUID          `json:"responder_id"`
	State         model.SessionState `json:"state"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
	RetryCount    int                `json:"retry_count"`
	LastRetryAt   *time.Time         `json:"last_retry_at,omitempty"`
	FailureReason *string            `json:"failure_reason,omitempty"`
}

func toSessionResponse(sess *model.HandshakeSession) sessionResponse {
	return sessionResponse{
		SessionID:     sess.SessionID,
		InitiatorID:   sess.InitiatorID,
		ResponderID:   sess.ResponderID,
		State:         sess.State,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
		ExpiresAt:     sess.ExpiresAt,
		RetryCount:    sess.RetryCount,
		LastRetryAt:   sess.LastRetryAt,
		FailureReason: sess.FailureReason,
	}
}

func (s *Server) handleInitiateHandshake(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserIDFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req initiateHandshakeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.ResponderID == uuid.Nil {
		http.Error(w, "empty responder_id", http.StatusBadRequest)
		return
	}
	sess, err := s.sessions.Initiate(r.Context(), uid, req.ResponderID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleGetHandshake(w http.ResponseWriter, r *http.Request) {
	s.handshakeOp(w, r, s.sessions.Get)
}

func (s *Server) handleCompleteHandshake(w http.ResponseWriter, r *http.Request) {
	s.handshakeOp(w, r, s.sessions.Complete)
}

type failHandshakeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailHandshake(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	var req failHandshakeRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "empty reason", http.StatusBadRequest)
		return
	}
	sess, err := s.sessions.Fail(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleRetryHandshake(w http.ResponseWriter, r *http.Request) {
	s.handshakeOp(w, r, s.sessions.Retry)
}

func (s *Server) handleExpireHandshake(w http.ResponseWriter, r *http.Request) {
	s.handshakeOp(w, r, s.sessions.Expire)
}

// handshakeOp runs a single-id session operation and writes the session.
func (s *Server) handshakeOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) (*model.HandshakeSession, error)) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	sess, err := op(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// --- Recovery ---

type keyLostRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleKeyLost(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserIDFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req keyLostRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := s.messages.RecordKeyLoss(r.Context(), uid, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Auth middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.userIDFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}

// userIDFromRequest extracts "Authorization: Bearer <JWT>", verifies
// HS256, and returns the subject as a UUID.
func (s *Server) userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	tok, err := bearerToken(r)
	if err != nil {
		return uuid.Nil, err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errors.New("token expired or not valid yet")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

func bearerToken(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}

// --- Helpers ---

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.FromString(mux.Vars(r)["id"])
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses in one place.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var code int
	switch {
	case errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrAlreadyExists):
		code = http.StatusConflict
	case errors.Is(err, errs.ErrPrecondition):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrLocked):
		code = http.StatusLocked
	case errors.Is(err, errs.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, errs.ErrRateLimited):
		code = http.StatusTooManyRequests
	case strings.HasPrefix(err.Error(), "validation:"):
		code = http.StatusBadRequest
	default:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Error(w, err.Error(), code)
}
