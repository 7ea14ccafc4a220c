package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/hooks"
	"github.com/hardspoon/chatsemble/internal/logging"
	"github.com/hardspoon/chatsemble/internal/metrics"
)

// Registry maps room ids to live actors. Actors are created lazily:
// the first access after process start (or after eviction) rebuilds
// the actor from persisted state, so clients cannot tell a reactivated
// room from one that stayed resident.
type Registry struct {
	store    Store
	dispatch Dispatcher
	log      *logging.Logger
	opts     ActorOptions

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRegistry creates an empty registry. dispatch may be nil when no
// agent pipeline is configured.
func NewRegistry(st Store, d Dispatcher, log *logging.Logger, opts ActorOptions) *Registry {
	opts.normalize()
	return &Registry{
		store:    st,
		dispatch: d,
		log:      log,
		opts:     opts,
		actors:   make(map[string]*Actor),
	}
}

// Get returns the actor for roomID, loading it from the store on first
// access. Returns store.ErrRoomNotFound when the room does not exist.
func (r *Registry) Get(roomID string) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[roomID]; ok {
		return a, nil
	}

	rm, err := r.store.GetRoom(roomID)
	if err != nil {
		return nil, err
	}
	members, err := r.store.Members(roomID)
	if err != nil {
		return nil, fmt.Errorf("loading members for room %s: %w", roomID, err)
	}

	a := NewActor(rm, members, r.store, r.dispatch, r.log, r.opts)
	r.actors[roomID] = a
	metrics.ActiveRooms.Inc()
	r.log.Debug().Str("room", roomID).Int("members", len(members)).Msg("room actor activated")
	return a, nil
}

// CreateChatRoom persists a new room with its initial members in one
// atomic step and activates its actor. The creation either fully
// succeeds or leaves no trace.
func (r *Registry) CreateChatRoom(rm domain.ChatRoom, members []domain.ChatRoomMember) (*Actor, error) {
	for i := range members {
		members[i].RoomID = rm.ID
	}
	if err := r.store.CreateRoom(rm, members); err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	a := NewActor(rm, members, r.store, r.dispatch, r.log, r.opts)
	r.actors[rm.ID] = a
	metrics.ActiveRooms.Inc()
	r.log.Info().Str("room", rm.ID).Str("name", rm.Name).Str("type", string(rm.Type)).Int("members", len(members)).Msg("room created")
	r.opts.Hooks.EmitAsync(context.Background(), hooks.Event{Name: hooks.EventRoomCreated, RoomID: rm.ID})
	return a, nil
}

// Evict drops a room's actor from memory and closes its sockets. The
// room's persisted state is untouched; the next Get reloads it.
func (r *Registry) Evict(roomID string) {
	r.mu.Lock()
	a, ok := r.actors[roomID]
	delete(r.actors, roomID)
	r.mu.Unlock()

	if !ok {
		return
	}
	a.CloseSockets()
	metrics.ActiveRooms.Dec()
	r.log.Debug().Str("room", roomID).Msg("room actor evicted")
	r.opts.Hooks.EmitAsync(context.Background(), hooks.Event{Name: hooks.EventRoomEvicted, RoomID: roomID})
}

// Len returns the number of resident actors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
