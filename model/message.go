package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Message types sent by clients.
const (
	TypeRegisterUser  = "register-user"
	TypeEmployeeReady = "employee-ready"
	TypeListUsers     = "list-users"
	TypeCreate        = "create"
	TypeJoin          = "join"
	TypeVerifyCode    = "verify-code"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeCandidate     = "candidate"
	TypeLeave         = "leave"
)

// Message types sent by server.
const (
	TypeRegistered           = "registered"
	TypeCreated              = "created"
	TypeJoined               = "joined"
	TypeReady                = "ready"
	TypeUserList             = "user-list"
	TypePeerLeft             = "peer-left"
	TypeVerificationComplete = "verification-complete"
	TypeVerificationError    = "verification-error"
	TypeError                = "error"
)

// Message is the wire envelope for both directions. Type selects which of
// the optional fields are meaningful. Offer/answer/candidate payloads are
// kept raw so relayed messages go out byte-identical.
type Message struct {
	Type          string          `json:"type"`
	RoomID        string          `json:"roomId,omitempty"`
	Name          string          `json:"name,omitempty"`
	Code          string          `json:"code,omitempty"`
	Details       *ProfileDetails `json:"details,omitempty"`
	Offer         json.RawMessage `json:"offer,omitempty"`
	Answer        json.RawMessage `json:"answer,omitempty"`
	Candidate     json.RawMessage `json:"candidate,omitempty"`
	Users         []WaitingEntry  `json:"users,omitempty"`
	Initiator     *bool           `json:"initiator,omitempty"`
	IsHost        *bool           `json:"isHost,omitempty"`
	Text          string          `json:"message,omitempty"`
	StayAvailable bool            `json:"stayAvailable,omitempty"`
}

// WaitingEntry is one row of the queue shown to employees.
type WaitingEntry struct {
	RoomID string    `json:"roomId"`
	Name   string    `json:"name"`
	Since  time.Time `json:"-"`
}

// Role of a connection. Every connection starts unassigned; registering
// makes it a customer, employee-ready or a successful join makes it an
// employee.
type Role int

const (
	RoleUnassigned Role = iota
	RoleCustomer
	RoleEmployee
)

func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "customer"
	case RoleEmployee:
		return "employee"
	}
	return "unassigned"
}

const maxDisplayNameLen = 64

// SanitizeDisplayName trims, collapses inner whitespace and caps the length
// of a client-supplied display name. Returns "" for names that are all
// whitespace.
func SanitizeDisplayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if len(name) > maxDisplayNameLen {
		name = strings.TrimSpace(name[:maxDisplayNameLen])
	}
	return name
}
