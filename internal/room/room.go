// Package room maintains the process-wide mapping of rooms to their admitted
// members and delivers broadcast and addressed payloads between them.
//
// The registry owns all mutable room state. Connection handlers interact with
// it through value snapshots; no caller ever observes a partially applied
// mutation. Sends happen outside the room lock so one slow peer cannot stall
// the others.
package room

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MaxNameLen caps stored display names.
const MaxNameLen = 64

var ErrRoomFull = errors.New("room is full")

// errDropped marks a room that was removed from the registry between lookup
// and join; Registry.Join retries with a fresh room.
var errDropped = errors.New("room dropped")

// Conn is the transport side of an admitted member. Implementations must not
// block indefinitely in SendJSON; a send that cannot complete promptly should
// fail so the registry can evict the member.
type Conn interface {
	SendJSON(v any) error
	Close() error
}

// RosterEntry is one member as seen by clients.
type RosterEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type member struct {
	id   string
	name string
	conn Conn
}

// Registry is the set of all live rooms, keyed by room id. Construct one at
// startup and share it across connection handlers; it is safe for concurrent
// use.
type Registry struct {
	log      *slog.Logger
	capacity int

	// leftNotice builds the payload broadcast when a member is evicted after
	// a failed send. Injected so this package stays ignorant of wire shapes.
	leftNotice func(memberID string) any

	mu    sync.Mutex
	rooms map[string]*Room
}

// Options configures a Registry.
type Options struct {
	// Capacity is the per-room member limit, 1..10.
	Capacity int

	// LeftNotice builds the broadcast payload announcing an evicted member.
	LeftNotice func(memberID string) any

	Logger *slog.Logger
}

func NewRegistry(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	capacity := opts.Capacity
	if capacity < 1 {
		capacity = 1
	}
	leftNotice := opts.LeftNotice
	if leftNotice == nil {
		leftNotice = func(memberID string) any {
			return map[string]string{"type": "peer-left", "id": memberID}
		}
	}
	return &Registry{
		log:        log,
		capacity:   capacity,
		leftNotice: leftNotice,
		rooms:      make(map[string]*Room),
	}
}

// Room returns the room with the given id, creating it when absent.
func (r *Registry) Room(id string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		rm = &Room{
			registry: r,
			id:       id,
			capacity: r.capacity,
			members:  make(map[string]*member),
		}
		r.rooms[id] = rm
	}
	return rm
}

// Join admits a connection into the room with the given id, creating the room
// when absent. It retries internally when the looked-up room is concurrently
// dropped for being empty.
func (r *Registry) Join(roomID string, conn Conn) (rm *Room, memberID string, roster []RosterEntry, err error) {
	for {
		rm = r.Room(roomID)
		memberID, roster, err = rm.Join(conn)
		if errors.Is(err, errDropped) {
			continue
		}
		return rm, memberID, roster, err
	}
}

// Stats reports the current number of rooms and members, for /status.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms = len(r.rooms)
	for _, rm := range r.rooms {
		rm.mu.Lock()
		members += len(rm.members)
		rm.mu.Unlock()
	}
	return rooms, members
}

func (r *Registry) dropIfEmpty(rm *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm.mu.Lock()
	if len(rm.members) == 0 && r.rooms[rm.id] == rm {
		rm.dropped = true
		delete(r.rooms, rm.id)
	}
	rm.mu.Unlock()
}

// Room is one isolated set of peers. All mutations are linearized under its
// mutex.
type Room struct {
	registry *Registry
	id       string
	capacity int

	mu      sync.Mutex
	members map[string]*member
	dropped bool
}

func (rm *Room) ID() string    { return rm.id }
func (rm *Room) Capacity() int { return rm.capacity }

// Size returns the current member count.
func (rm *Room) Size() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Join admits a connection and returns its new member id along with the
// roster of the members that were already present, which is exactly what the
// hello message shows the newcomer.
func (rm *Room) Join(conn Conn) (memberID string, existing []RosterEntry, err error) {
	id := newMemberID()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.dropped {
		return "", nil, errDropped
	}
	if len(rm.members) >= rm.capacity {
		return "", nil, ErrRoomFull
	}
	existing = rm.rosterLocked()
	rm.members[id] = &member{id: id, conn: conn}
	return id, existing, nil
}

// Leave removes a member. It is idempotent and reports whether the member was
// present.
func (rm *Room) Leave(memberID string) bool {
	rm.mu.Lock()
	_, ok := rm.members[memberID]
	delete(rm.members, memberID)
	rm.mu.Unlock()

	if ok {
		rm.registry.dropIfEmpty(rm)
	}
	return ok
}

// SetName stores a display name (truncated to MaxNameLen) and returns the
// updated roster for the follow-up broadcast. It returns ok=false when the
// member is no longer present.
func (rm *Room) SetName(memberID, name string) (roster []RosterEntry, ok bool) {
	if runes := []rune(name); len(runes) > MaxNameLen {
		name = string(runes[:MaxNameLen])
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[memberID]
	if !ok {
		return nil, false
	}
	m.name = name
	return rm.rosterLocked(), true
}

// Name returns the member's current display name.
func (rm *Room) Name(memberID string) string {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if m, ok := rm.members[memberID]; ok {
		return m.name
	}
	return ""
}

// Roster returns the current member list.
func (rm *Room) Roster() []RosterEntry {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.rosterLocked()
}

func (rm *Room) rosterLocked() []RosterEntry {
	roster := make([]RosterEntry, 0, len(rm.members))
	for _, m := range rm.members {
		roster = append(roster, RosterEntry{ID: m.id, Name: m.name})
	}
	return roster
}

// Broadcast delivers payload to every current member except exclude (pass ""
// to reach everyone). Members whose send fails are evicted and announced with
// a left-notice broadcast of their own; eviction happens before that
// recursive broadcast so delivery never loops back to a dead member.
func (rm *Room) Broadcast(payload any, exclude string) {
	snapshot := rm.snapshot()

	var dead []string
	for _, m := range snapshot {
		if m.id == exclude {
			continue
		}
		if !rm.stillPresent(m.id) {
			// Removed mid-broadcast; it must not receive this payload.
			continue
		}
		if err := m.conn.SendJSON(payload); err != nil {
			dead = append(dead, m.id)
		}
	}

	rm.evict(dead)
}

// SendTo delivers payload to a single member. It returns false when the
// target is absent or the send fails; a failed send evicts the target.
func (rm *Room) SendTo(targetID string, payload any) bool {
	rm.mu.Lock()
	m, ok := rm.members[targetID]
	rm.mu.Unlock()
	if !ok {
		return false
	}

	if err := m.conn.SendJSON(payload); err != nil {
		rm.evict([]string{targetID})
		return false
	}
	return true
}

// Has reports whether a member id is currently present.
func (rm *Room) Has(memberID string) bool {
	return rm.stillPresent(memberID)
}

func (rm *Room) snapshot() []*member {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := make([]*member, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m)
	}
	return out
}

func (rm *Room) stillPresent(memberID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.members[memberID]
	return ok
}

func (rm *Room) evict(memberIDs []string) {
	for _, id := range memberIDs {
		rm.mu.Lock()
		m, ok := rm.members[id]
		delete(rm.members, id)
		rm.mu.Unlock()

		if !ok {
			continue
		}
		_ = m.conn.Close()
		rm.registry.log.Info("peer evicted after failed send", "room_size", rm.Size(), "peer", shortID(id))

		// Announce after removal; a cascade of failures terminates because
		// each eviction shrinks the member set.
		rm.Broadcast(rm.registry.leftNotice(id), "")
	}
	if len(memberIDs) > 0 {
		rm.registry.dropIfEmpty(rm)
	}
}

func newMemberID() string {
	// 32 hex chars. uuid.NewRandom only fails when the platform RNG does,
	// in which case fall back to raw crypto/rand bytes.
	if u, err := uuid.NewRandom(); err == nil {
		return hex.EncodeToString(u[:])
	}
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
