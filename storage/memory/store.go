// Package memory holds the server's entire mutable state: the connection
// registry, room directory, waiting queue and employee set. Every exported
// mutation is one complete protocol transition executed under a single
// mutex, so a partially applied transition (a deleted room with a live
// waiting entry, say) is never observable from another connection.
package memory

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vkyc-labs/signaling/model"
)

const (
	maxRoomMembers = 2

	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxRoomCodeLen   = 16

	secretDigits = 4
)

var (
	ErrRoomNotFound  = errors.New("room is not found")
	ErrRoomIsFull    = errors.New("room is full")
	ErrRoomExists    = errors.New("room already exists")
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotInRoom     = errors.New("not in a room")
	ErrEmptyName     = errors.New("name is required")
	ErrNotEmployee   = errors.New("employee role is required")
	ErrCustomerJoin  = errors.New("customers cannot join rooms")
	ErrNoMetadata    = errors.New("room has no verification code")
	ErrCodeMismatch  = errors.New("verification code does not match")
)

// Wire is the outbound side of a connection. Sends are fire-and-forget;
// implementations must never block the caller on a dead peer.
type Wire interface {
	Send(msg model.Message)
}

// Peer is one open connection. The identity fields are immutable; the state
// fields belong to the Store and change only under its lock. Everything a
// caller needs after a transition is copied into the result structs, so
// nothing outside this package reads the state fields directly.
type Peer struct {
	ID   uint64
	wire Wire

	role   model.Role
	roomID string
	host   bool
	name   string
}

// Send forwards msg to the peer's outbound wire.
func (p *Peer) Send(msg model.Message) {
	p.wire.Send(msg)
}

// roomMeta is created at customer registration and discarded once
// verification succeeds or the room dies.
type roomMeta struct {
	details *model.ProfileDetails
	secret  string
}

type room struct {
	code    string
	members []*Peer
	meta    *roomMeta
}

func (r *room) host() *Peer {
	for _, m := range r.members {
		if m.host {
			return m
		}
	}
	return r.members[0]
}

// Store is the in-memory directory. Not persisted; a process restart drops
// every session by design.
type Store struct {
	mu        sync.Mutex
	seq       uint64
	peers     map[uint64]*Peer
	rooms     map[string]*room
	waiting   map[string]model.WaitingEntry
	employees map[uint64]*Peer
}

func NewStore() *Store {
	return &Store{
		peers:     make(map[uint64]*Peer),
		rooms:     make(map[string]*room),
		waiting:   make(map[string]model.WaitingEntry),
		employees: make(map[uint64]*Peer),
	}
}

// AddPeer registers a freshly upgraded connection and assigns it the next
// monotonic identifier.
func (s *Store) AddPeer(w Wire) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	p := &Peer{ID: s.seq, wire: w}
	s.peers[p.ID] = p
	return p
}

// RemovePeer runs the full disconnect procedure for p and drops it from the
// registry. Used when the underlying stream closes or errors.
func (s *Store) RemovePeer(p *Peer) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.leaveLocked(p, false)
	delete(s.peers, p.ID)
	return res
}

// RegisterResult is what a successful register-user transition produced.
type RegisterResult struct {
	RoomID string
	Name   string
	Secret string
}

// Register creates a room for a new customer: fresh unique code, the
// customer as host and sole member, sanitized metadata plus a generated
// verification secret, and a waiting entry visible to employees.
func (s *Store) Register(p *Peer, name string, details *model.ProfileDetails) (RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.roomID != "" {
		return RegisterResult{}, ErrAlreadyInRoom
	}
	name = model.SanitizeDisplayName(name)
	if name == "" {
		return RegisterResult{}, ErrEmptyName
	}
	if details != nil {
		details.Sanitize()
	}

	code := s.newRoomCodeLocked()
	meta := &roomMeta{details: details, secret: newSecret()}
	s.rooms[code] = &room{code: code, members: []*Peer{p}, meta: meta}

	p.role = model.RoleCustomer
	p.roomID = code
	p.host = true
	p.name = name

	s.waiting[code] = model.WaitingEntry{RoomID: code, Name: name, Since: time.Now()}

	return RegisterResult{RoomID: code, Name: name, Secret: meta.secret}, nil
}

// MarkEmployee flags p as employee-capable and returns the current queue.
func (s *Store) MarkEmployee(p *Peer) []model.WaitingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.role = model.RoleEmployee
	s.employees[p.ID] = p
	return s.queueLocked()
}

// Queue returns the waiting list for an employee connection.
func (s *Store) Queue(p *Peer) ([]model.WaitingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.role != model.RoleEmployee {
		return nil, ErrNotEmployee
	}
	return s.queueLocked(), nil
}

// QueueSnapshot returns the waiting list together with every employee
// connection that should receive it.
func (s *Store) QueueSnapshot() ([]model.WaitingEntry, []*Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receivers := make([]*Peer, 0, len(s.employees))
	for _, e := range s.employees {
		receivers = append(receivers, e)
	}
	return s.queueLocked(), receivers
}

// CreateRoom opens an empty-metadata room with the requested code, or a
// generated one when no code is requested. The creator becomes host but
// keeps its current role.
func (s *Store) CreateRoom(p *Peer, requested string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.roomID != "" {
		return "", ErrAlreadyInRoom
	}
	var code string
	if requested != "" {
		code = normalizeCode(requested)
		if _, ok := s.rooms[code]; ok {
			return "", ErrRoomExists
		}
	} else {
		code = s.newRoomCodeLocked()
	}

	s.rooms[code] = &room{code: code, members: []*Peer{p}}
	p.roomID = code
	p.host = true
	return code, nil
}

// JoinResult carries everything the coordinator needs to announce a
// completed pairing, captured under the store lock.
type JoinResult struct {
	RoomID   string
	HostName string
	Details  *model.ProfileDetails
	Host     *Peer
	Members  []*Peer
}

// Join adds p as the second member of an existing room and promotes it to
// the employee role. Customers and already-roomed connections are rejected.
func (s *Store) Join(p *Peer, code string) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.roomID != "" {
		return JoinResult{}, ErrAlreadyInRoom
	}
	if p.role == model.RoleCustomer {
		return JoinResult{}, ErrCustomerJoin
	}
	code = normalizeCode(code)
	r, ok := s.rooms[code]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}
	if len(r.members) >= maxRoomMembers {
		return JoinResult{}, ErrRoomIsFull
	}

	host := r.host()
	p.role = model.RoleEmployee
	s.employees[p.ID] = p
	p.roomID = code
	r.members = append(r.members, p)
	delete(s.waiting, code)

	res := JoinResult{
		RoomID:   code,
		HostName: host.name,
		Host:     host,
		Members:  append([]*Peer(nil), r.members...),
	}
	if r.meta != nil {
		res.Details = r.meta.details
	}
	return res, nil
}

// VerifyResult lists the members that must hear verification-complete.
type VerifyResult struct {
	RoomID  string
	Members []*Peer
}

// Verify compares a submitted code against the room's stored secret. On
// match the metadata is consumed; the room itself stays open. Mismatch,
// malformed codes and missing metadata report ErrCodeMismatch /
// ErrNoMetadata, which the coordinator maps to verification-error.
func (s *Store) Verify(p *Peer, submitted string) (VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.role != model.RoleEmployee {
		return VerifyResult{}, ErrNotEmployee
	}
	if p.roomID == "" {
		return VerifyResult{}, ErrNotInRoom
	}
	r, ok := s.rooms[p.roomID]
	if !ok {
		return VerifyResult{}, ErrNotInRoom
	}
	if r.meta == nil {
		return VerifyResult{}, ErrNoMetadata
	}

	digits := onlyDigits(submitted)
	if len(digits) != secretDigits || digits != r.meta.secret {
		return VerifyResult{}, ErrCodeMismatch
	}

	r.meta = nil
	return VerifyResult{
		RoomID:  r.code,
		Members: append([]*Peer(nil), r.members...),
	}, nil
}

// RelayTarget resolves the other member of p's room. A nil peer with nil
// error means p is alone and the relay is silently dropped.
func (s *Store) RelayTarget(p *Peer) (*Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.roomID == "" {
		return nil, ErrNotInRoom
	}
	r, ok := s.rooms[p.roomID]
	if !ok {
		return nil, ErrNotInRoom
	}
	for _, m := range r.members {
		if m != p {
			return m, nil
		}
	}
	return nil, nil
}

// LeaveResult describes the aftermath of a leave/disconnect transition.
type LeaveResult struct {
	// QueueChanged reports that the waiting list may look different and
	// employees need a fresh snapshot.
	QueueChanged bool
	// Remaining is the peer still in the room, nil when the room died.
	Remaining       *Peer
	RemainingIsHost bool
	RoomID          string
}

// Leave runs the failover procedure for an explicit leave message. When
// stayAvailable is set and p is an employee, it keeps its place in the
// employee set (the "leave room but stay on shift" transition).
func (s *Store) Leave(p *Peer, stayAvailable bool) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leaveLocked(p, stayAvailable)
}

func (s *Store) leaveLocked(p *Peer, stayAvailable bool) LeaveResult {
	var res LeaveResult

	if p.role == model.RoleEmployee && !stayAvailable {
		delete(s.employees, p.ID)
		p.role = model.RoleUnassigned
	}

	code := p.roomID
	if code == "" {
		p.host = false
		p.name = ""
		return res
	}

	if _, ok := s.waiting[code]; ok && p.host {
		delete(s.waiting, code)
		res.QueueChanged = true
	}

	r := s.rooms[code]
	for i, m := range r.members {
		if m == p {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}

	if len(r.members) == 0 {
		delete(s.rooms, code)
		delete(s.waiting, code)
		res.QueueChanged = true
	} else {
		rem := r.members[0]
		rem.host = true
		res.Remaining = rem
		res.RemainingIsHost = true
		res.RoomID = code
		if rem.role == model.RoleCustomer {
			// unpaired host goes back on the queue under its own name
			s.waiting[code] = model.WaitingEntry{RoomID: code, Name: rem.name, Since: time.Now()}
		} else {
			delete(s.waiting, code)
			r.meta = nil
		}
		res.QueueChanged = true
	}

	p.roomID = ""
	p.host = false
	p.name = ""
	return res
}

// Stats are the live counters exposed by the REST API.
type Stats struct {
	Peers     int `json:"peers"`
	Rooms     int `json:"rooms"`
	Waiting   int `json:"waiting"`
	Employees int `json:"employees"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Peers:     len(s.peers),
		Rooms:     len(s.rooms),
		Waiting:   len(s.waiting),
		Employees: len(s.employees),
	}
}

func (s *Store) queueLocked() []model.WaitingEntry {
	entries := make([]model.WaitingEntry, 0, len(s.waiting))
	for _, e := range s.waiting {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Since.Equal(entries[j].Since) {
			return entries[i].RoomID < entries[j].RoomID
		}
		return entries[i].Since.Before(entries[j].Since)
	})
	return entries
}

func (s *Store) newRoomCodeLocked() string {
	buf := make([]byte, roomCodeLength)
	for {
		for i := range buf {
			buf[i] = roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))]
		}
		code := string(buf)
		if _, ok := s.rooms[code]; !ok {
			return code
		}
	}
}

func newSecret() string {
	return fmt.Sprintf("%04d", rand.IntN(10000))
}

func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) > maxRoomCodeLen {
		code = code[:maxRoomCodeLen]
	}
	return code
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
