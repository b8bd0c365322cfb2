package memory

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkyc-labs/signaling/model"
)

type nopWire struct{}

func (nopWire) Send(model.Message) {}

func newPeer(s *Store) *Peer {
	return s.AddPeer(nopWire{})
}

var (
	codePattern   = regexp.MustCompile(`^[A-Z2-9]{6}$`)
	secretPattern = regexp.MustCompile(`^[0-9]{4}$`)
)

func TestRegisterCreatesWaitingRoom(t *testing.T) {
	s := NewStore()
	p := newPeer(s)

	res, err := s.Register(p, "  Asha   Rao ", nil)
	require.NoError(t, err)
	assert.Regexp(t, codePattern, res.RoomID)
	assert.Regexp(t, secretPattern, res.Secret)
	assert.Equal(t, "Asha Rao", res.Name)

	entries, receivers := s.QueueSnapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, res.RoomID, entries[0].RoomID)
	assert.Equal(t, "Asha Rao", entries[0].Name)
	assert.Empty(t, receivers)
}

func TestRegisterRejectsSecondRoom(t *testing.T) {
	s := NewStore()
	p := newPeer(s)

	_, err := s.Register(p, "Asha Rao", nil)
	require.NoError(t, err)
	_, err = s.Register(p, "Asha Rao", nil)
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestRegisterRejectsBlankName(t *testing.T) {
	s := NewStore()
	_, err := s.Register(newPeer(s), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestRegisterCodesAreUnique(t *testing.T) {
	s := NewStore()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		res, err := s.Register(newPeer(s), "Customer", nil)
		require.NoError(t, err)
		require.False(t, seen[res.RoomID], "duplicate code %s", res.RoomID)
		seen[res.RoomID] = true
	}
}

func TestJoinErrorTable(t *testing.T) {
	s := NewStore()

	customer := newPeer(s)
	reg, err := s.Register(customer, "Asha Rao", nil)
	require.NoError(t, err)

	t.Run("missing room", func(t *testing.T) {
		_, err := s.Join(newPeer(s), "NOSUCH")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("roomed customer cannot join", func(t *testing.T) {
		blocked := newPeer(s)
		_, err := s.Register(blocked, "Meena", nil)
		require.NoError(t, err)
		_, err = s.Join(blocked, reg.RoomID)
		assert.ErrorIs(t, err, ErrAlreadyInRoom)
	})

	t.Run("roomless customer cannot join", func(t *testing.T) {
		former := newPeer(s)
		_, err := s.Register(former, "Ravi", nil)
		require.NoError(t, err)
		_ = s.Leave(former, false)
		_, err = s.Join(former, reg.RoomID)
		assert.ErrorIs(t, err, ErrCustomerJoin)
	})

	t.Run("full room", func(t *testing.T) {
		first := newPeer(s)
		_, err := s.Join(first, reg.RoomID)
		require.NoError(t, err)
		_, err = s.Join(newPeer(s), reg.RoomID)
		assert.ErrorIs(t, err, ErrRoomIsFull)
	})

	t.Run("already in a room", func(t *testing.T) {
		spare := newPeer(s)
		spareReg, err := s.Register(newPeer(s), "Lata", nil)
		require.NoError(t, err)
		_, err = s.Join(spare, spareReg.RoomID)
		require.NoError(t, err)
		_, err = s.Join(spare, reg.RoomID)
		assert.ErrorIs(t, err, ErrAlreadyInRoom)
	})
}

func TestJoinLowercaseCodeMatches(t *testing.T) {
	s := NewStore()
	reg, err := s.Register(newPeer(s), "Asha Rao", nil)
	require.NoError(t, err)

	res, err := s.Join(newPeer(s), "  "+lower(reg.RoomID)+" ")
	require.NoError(t, err)
	assert.Equal(t, reg.RoomID, res.RoomID)
	assert.Equal(t, "Asha Rao", res.HostName)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestJoinClearsWaitingEntry(t *testing.T) {
	s := NewStore()
	reg, err := s.Register(newPeer(s), "Asha Rao", nil)
	require.NoError(t, err)

	res, err := s.Join(newPeer(s), reg.RoomID)
	require.NoError(t, err)
	require.Len(t, res.Members, 2)
	assert.Same(t, res.Host, res.Members[0])

	entries, _ := s.QueueSnapshot()
	assert.Empty(t, entries)
}

func TestCreateRoom(t *testing.T) {
	s := NewStore()

	code, err := s.CreateRoom(newPeer(s), "kiosk7")
	require.NoError(t, err)
	assert.Equal(t, "KIOSK7", code)

	_, err = s.CreateRoom(newPeer(s), "KIOSK7")
	assert.ErrorIs(t, err, ErrRoomExists)

	generated, err := s.CreateRoom(newPeer(s), "")
	require.NoError(t, err)
	assert.Regexp(t, codePattern, generated)

	// no waiting entry for non-customer rooms
	entries, _ := s.QueueSnapshot()
	assert.Empty(t, entries)
}

func TestVerifyFlow(t *testing.T) {
	s := NewStore()
	customer := newPeer(s)
	reg, err := s.Register(customer, "Asha Rao", &model.ProfileDetails{PANNumber: "abcde1234f"})
	require.NoError(t, err)

	employee := newPeer(s)
	joinRes, err := s.Join(employee, reg.RoomID)
	require.NoError(t, err)
	require.NotNil(t, joinRes.Details)
	assert.Equal(t, "ABCDE1234F", joinRes.Details.PANNumber)

	t.Run("customer cannot verify", func(t *testing.T) {
		_, err := s.Verify(customer, reg.Secret)
		assert.ErrorIs(t, err, ErrNotEmployee)
	})

	t.Run("wrong code", func(t *testing.T) {
		wrong := "0000"
		if wrong == reg.Secret {
			wrong = "0001"
		}
		_, err := s.Verify(employee, wrong)
		assert.ErrorIs(t, err, ErrCodeMismatch)
	})

	t.Run("short code", func(t *testing.T) {
		_, err := s.Verify(employee, reg.Secret[:3])
		assert.ErrorIs(t, err, ErrCodeMismatch)
	})

	t.Run("match consumes metadata", func(t *testing.T) {
		res, err := s.Verify(employee, " "+reg.Secret+" ")
		require.NoError(t, err)
		assert.Equal(t, reg.RoomID, res.RoomID)
		assert.Len(t, res.Members, 2)

		_, err = s.Verify(employee, reg.Secret)
		assert.ErrorIs(t, err, ErrNoMetadata)
	})
}

func TestVerifyWithoutRoom(t *testing.T) {
	s := NewStore()
	p := newPeer(s)
	s.MarkEmployee(p)
	_, err := s.Verify(p, "1234")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestRelayTarget(t *testing.T) {
	s := NewStore()

	loner := newPeer(s)
	_, err := s.RelayTarget(loner)
	assert.ErrorIs(t, err, ErrNotInRoom)

	customer := newPeer(s)
	reg, err := s.Register(customer, "Asha Rao", nil)
	require.NoError(t, err)

	target, err := s.RelayTarget(customer)
	require.NoError(t, err)
	assert.Nil(t, target, "alone in the room relays nowhere")

	employee := newPeer(s)
	_, err = s.Join(employee, reg.RoomID)
	require.NoError(t, err)

	target, err = s.RelayTarget(customer)
	require.NoError(t, err)
	assert.Same(t, employee, target)

	target, err = s.RelayTarget(employee)
	require.NoError(t, err)
	assert.Same(t, customer, target)
}

func TestLeaveOfNonHostRequeuesCustomer(t *testing.T) {
	s := NewStore()
	customer := newPeer(s)
	reg, err := s.Register(customer, "Asha Rao", nil)
	require.NoError(t, err)
	employee := newPeer(s)
	_, err = s.Join(employee, reg.RoomID)
	require.NoError(t, err)

	res := s.Leave(employee, false)
	assert.True(t, res.QueueChanged)
	assert.Same(t, customer, res.Remaining)
	assert.True(t, res.RemainingIsHost)
	assert.Equal(t, reg.RoomID, res.RoomID)

	entries, _ := s.QueueSnapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "Asha Rao", entries[0].Name)
	assert.Equal(t, reg.RoomID, entries[0].RoomID)

	// the departed employee lost its role and room
	_, err = s.Queue(employee)
	assert.ErrorIs(t, err, ErrNotEmployee)
}

func TestLeaveOfHostPromotesEmployeeAndDropsMetadata(t *testing.T) {
	s := NewStore()
	customer := newPeer(s)
	reg, err := s.Register(customer, "Asha Rao", &model.ProfileDetails{Name: "ASHA RAO"})
	require.NoError(t, err)
	employee := newPeer(s)
	_, err = s.Join(employee, reg.RoomID)
	require.NoError(t, err)

	res := s.Leave(customer, false)
	assert.Same(t, employee, res.Remaining)
	assert.True(t, res.RemainingIsHost)

	entries, _ := s.QueueSnapshot()
	assert.Empty(t, entries, "employee-only room never waits")

	_, err = s.Verify(employee, "1234")
	assert.ErrorIs(t, err, ErrNoMetadata, "metadata must be discarded with the host")
}

func TestLeaveOfSoleHostDestroysRoom(t *testing.T) {
	s := NewStore()
	customer := newPeer(s)
	reg, err := s.Register(customer, "Asha Rao", nil)
	require.NoError(t, err)

	res := s.Leave(customer, false)
	assert.True(t, res.QueueChanged)
	assert.Nil(t, res.Remaining)

	entries, _ := s.QueueSnapshot()
	assert.Empty(t, entries)
	assert.Zero(t, s.Stats().Rooms)

	_, err = s.Join(newPeer(s), reg.RoomID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestLeaveStayAvailableKeepsEmployee(t *testing.T) {
	s := NewStore()
	reg, err := s.Register(newPeer(s), "Asha Rao", nil)
	require.NoError(t, err)
	employee := newPeer(s)
	_, err = s.Join(employee, reg.RoomID)
	require.NoError(t, err)

	_ = s.Leave(employee, true)

	entries, err := s.Queue(employee)
	require.NoError(t, err, "employee must survive a stay-available leave")
	require.Len(t, entries, 1)

	_, receivers := s.QueueSnapshot()
	assert.Len(t, receivers, 1)
}

func TestRemovePeerDropsRegistry(t *testing.T) {
	s := NewStore()
	reg, err := s.Register(newPeer(s), "Asha Rao", nil)
	require.NoError(t, err)
	employee := newPeer(s)
	_, err = s.Join(employee, reg.RoomID)
	require.NoError(t, err)
	require.Equal(t, Stats{Peers: 2, Rooms: 1, Waiting: 0, Employees: 1}, s.Stats())

	res := s.RemovePeer(employee)
	assert.True(t, res.QueueChanged)
	assert.Equal(t, Stats{Peers: 1, Rooms: 1, Waiting: 1, Employees: 0}, s.Stats())
}

func TestQueueRequiresEmployeeRole(t *testing.T) {
	s := NewStore()
	p := newPeer(s)
	_, err := s.Queue(p)
	assert.ErrorIs(t, err, ErrNotEmployee)

	entries := s.MarkEmployee(p)
	assert.Empty(t, entries)

	_, err = s.Queue(p)
	assert.NoError(t, err)
}
