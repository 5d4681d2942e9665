// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// CipherBlob is an opaque ciphertext produced on the client side.
// The server stores and forwards it; it never holds a key that could open it.
type CipherBlob []byte

// Message is a conversation message together with its lifecycle metadata.
// The engine only operates on the metadata columns; the body stays opaque.
type Message struct {
	ID              uuid.UUID  // client-generated PK
	ConversationID  uuid.UUID  // immutable after creation
	SenderID        uuid.UUID  // immutable after creation
	BodyEnc         CipherBlob // nil once burned
	CreatedAt       time.Time
	UnlockHeight    *int64     // nil = no time-lock; immutable once set
	ScheduledBurnAt *time.Time // nil = no scheduled destruction; cleared on burn
	AcknowledgedAt  *time.Time // set at most once, by the recipient
	BurnedAt        *time.Time // set at most once, by the burn scheduler
}

// Burned reports whether the message body has been destroyed.
func (m *Message) Burned() bool { return m.BurnedAt != nil }

// NewMessage is a creation intent coming from the messaging transport.
type NewMessage struct {
	ID              uuid.UUID // client-generated
	ConversationID  uuid.UUID
	BodyEnc         CipherBlob
	UnlockHeight    *int64
	ScheduledBurnAt *time.Time
}

// PendingBurn is one not-yet-burned message carrying a scheduled
// destruction time, as read back from storage on startup.
type PendingBurn struct {
	MessageID       uuid.UUID
	ConversationID  uuid.UUID
	ScheduledBurnAt time.Time
}

// SessionState is the handshake tracker state. FAILED and EXPIRED are
// terminal; terminal rows are never reused.
type SessionState string

// Handshake session states.
const (
	SessionPending SessionState = "PENDING"
	SessionActive  SessionState = "ACTIVE"
	SessionFailed  SessionState = "FAILED"
	SessionExpired SessionState = "EXPIRED"
)

// Terminal reports whether no further transition may leave the state.
func (s SessionState) Terminal() bool {
	return s == SessionFailed || s == SessionExpired
}

// HandshakeSession tracks the progress of an X3DH handshake between two
// users. Metadata only: no private key, shared secret, or ratchet state is
// ever part of this entity, so a server compromise yields traffic metadata
// at worst.
type HandshakeSession struct {
	SessionID     uuid.UUID // client-generated correlation id
	InitiatorID   uuid.UUID
	ResponderID   uuid.UUID
	State         SessionState
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     *time.Time // nil = never expires while ACTIVE
	RetryCount    int
	LastRetryAt   *time.Time
	FailureReason *string // free-text diagnostic, never cryptographic material
}

// User represents an account stored on the server. Only the password hash
// and its salt are kept; identity and message keys live on clients.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	CreatedAt time.Time
}

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}
