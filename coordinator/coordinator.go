// Package coordinator dispatches decoded client messages and drives the
// room/queue/presence state machine. It owns no state of its own: every
// transition happens inside the store, and the coordinator only decides
// which replies and broadcasts to emit afterwards.
package coordinator

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vkyc-labs/signaling/model"
	"github.com/vkyc-labs/signaling/storage/memory"
)

type Config struct {
	Store  *memory.Store
	Logger *zerolog.Logger
}

type Coordinator struct {
	store  *memory.Store
	logger zerolog.Logger
}

func New(cfg Config) *Coordinator {
	return &Coordinator{
		store:  cfg.Store,
		logger: cfg.Logger.With().Str("component", "coordinator").Logger(),
	}
}

// Attach registers a freshly upgraded connection.
func (c *Coordinator) Attach(w memory.Wire) *memory.Peer {
	p := c.store.AddPeer(w)
	c.logger.Debug().Uint64("peerID", p.ID).Msg("peer attached")
	return p
}

// Detach runs the disconnect procedure after the peer's stream closed,
// errored or sent a close frame.
func (c *Coordinator) Detach(p *memory.Peer) {
	res := c.store.RemovePeer(p)
	c.announceLeave(res)
	c.logger.Debug().Uint64("peerID", p.ID).Msg("peer detached")
}

// Handle processes one raw inbound payload from p. Malformed JSON and
// unknown message types answer with a structured error and mutate nothing.
func (c *Coordinator) Handle(p *memory.Peer, raw []byte) {
	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Debug().Err(err).Uint64("peerID", p.ID).Msg("malformed message")
		p.Send(model.Message{Type: model.TypeError, Text: "invalid message payload"})
		return
	}

	c.logger.Trace().Uint64("peerID", p.ID).Str("type", msg.Type).Msg("message received")

	switch msg.Type {
	case model.TypeRegisterUser:
		c.registerUser(p, msg)
	case model.TypeEmployeeReady:
		c.employeeReady(p)
	case model.TypeListUsers:
		c.listUsers(p)
	case model.TypeCreate:
		c.createRoom(p, msg)
	case model.TypeJoin:
		c.join(p, msg)
	case model.TypeVerifyCode:
		c.verifyCode(p, msg)
	case model.TypeOffer, model.TypeAnswer, model.TypeCandidate:
		c.relay(p, msg)
	case model.TypeLeave:
		c.leave(p, msg)
	default:
		p.Send(model.Message{Type: model.TypeError, Text: "unknown message type"})
	}
}

func (c *Coordinator) registerUser(p *memory.Peer, msg model.Message) {
	res, err := c.store.Register(p, msg.Name, msg.Details)
	if err != nil {
		c.sendError(p, err)
		return
	}
	p.Send(model.Message{
		Type:   model.TypeRegistered,
		RoomID: res.RoomID,
		Name:   res.Name,
		Code:   res.Secret,
	})
	c.broadcastQueue()
	c.logger.Debug().
		Str("roomID", res.RoomID).
		Str("name", res.Name).
		Msg("customer registered")
}

func (c *Coordinator) employeeReady(p *memory.Peer) {
	entries := c.store.MarkEmployee(p)
	p.Send(model.Message{Type: model.TypeUserList, Users: entries})
	c.logger.Debug().Uint64("peerID", p.ID).Msg("employee ready")
}

func (c *Coordinator) listUsers(p *memory.Peer) {
	entries, err := c.store.Queue(p)
	if err != nil {
		c.sendError(p, err)
		return
	}
	p.Send(model.Message{Type: model.TypeUserList, Users: entries})
}

func (c *Coordinator) createRoom(p *memory.Peer, msg model.Message) {
	code, err := c.store.CreateRoom(p, msg.RoomID)
	if err != nil {
		c.sendError(p, err)
		return
	}
	p.Send(model.Message{Type: model.TypeCreated, RoomID: code})
	c.logger.Debug().Str("roomID", code).Msg("room created")
}

func (c *Coordinator) join(p *memory.Peer, msg model.Message) {
	res, err := c.store.Join(p, msg.RoomID)
	if err != nil {
		c.sendError(p, err)
		return
	}
	p.Send(model.Message{
		Type:    model.TypeJoined,
		RoomID:  res.RoomID,
		Name:    res.HostName,
		Details: res.Details,
	})
	// pairing complete, exactly one member is the initiator: the host
	for _, m := range res.Members {
		initiator := m == res.Host
		m.Send(model.Message{
			Type:      model.TypeReady,
			RoomID:    res.RoomID,
			Initiator: &initiator,
		})
	}
	c.broadcastQueue()
	c.logger.Debug().
		Str("roomID", res.RoomID).
		Uint64("peerID", p.ID).
		Msg("room paired")
}

func (c *Coordinator) verifyCode(p *memory.Peer, msg model.Message) {
	res, err := c.store.Verify(p, msg.Code)
	switch {
	case err == nil:
		done := model.Message{Type: model.TypeVerificationComplete, RoomID: res.RoomID}
		for _, m := range res.Members {
			m.Send(done)
		}
		c.logger.Debug().Str("roomID", res.RoomID).Msg("verification complete")
	case errors.Is(err, memory.ErrCodeMismatch) || errors.Is(err, memory.ErrNoMetadata):
		p.Send(model.Message{Type: model.TypeVerificationError, Text: err.Error()})
	default:
		c.sendError(p, err)
	}
}

func (c *Coordinator) relay(p *memory.Peer, msg model.Message) {
	target, err := c.store.RelayTarget(p)
	if err != nil {
		c.sendError(p, err)
		return
	}
	if target == nil {
		// unpaired sender, nowhere to forward
		c.logger.Trace().Uint64("peerID", p.ID).Str("type", msg.Type).Msg("relay dropped, no partner")
		return
	}
	target.Send(msg)
}

func (c *Coordinator) leave(p *memory.Peer, msg model.Message) {
	res := c.store.Leave(p, msg.StayAvailable)
	c.announceLeave(res)
	c.logger.Debug().Uint64("peerID", p.ID).Msg("peer left room")
}

func (c *Coordinator) announceLeave(res memory.LeaveResult) {
	if res.Remaining != nil {
		isHost := res.RemainingIsHost
		res.Remaining.Send(model.Message{
			Type:   model.TypePeerLeft,
			RoomID: res.RoomID,
			IsHost: &isHost,
		})
	}
	if res.QueueChanged {
		c.broadcastQueue()
	}
}

func (c *Coordinator) broadcastQueue() {
	entries, receivers := c.store.QueueSnapshot()
	msg := model.Message{Type: model.TypeUserList, Users: entries}
	for _, e := range receivers {
		e.Send(msg)
	}
}

func (c *Coordinator) sendError(p *memory.Peer, err error) {
	p.Send(model.Message{Type: model.TypeError, Text: err.Error()})
}
