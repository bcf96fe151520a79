package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sprintpoker/sprintpoker/internal/models"
)

// MemoryRepository keeps rooms in a process-local map. A single mutex
// serializes all access; handlers for different connections may interleave,
// so nothing here assumes single-threaded dispatch.
type MemoryRepository struct {
	mu     sync.Mutex
	rooms  map[string]*models.Room
	owners map[string]string
	clock  clockwork.Clock
}

// NewMemoryRepository creates an empty in-memory room store.
func NewMemoryRepository(clock clockwork.Clock) *MemoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRepository{
		rooms:  make(map[string]*models.Room),
		owners: make(map[string]string),
		clock:  clock,
	}
}

func (r *MemoryRepository) Backend() Backend { return BackendMemory }

func (r *MemoryRepository) generateID() string {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := randomRoomCode()
		if _, taken := r.rooms[id]; !taken {
			return id
		}
	}
	return fallbackRoomCode()
}

func (r *MemoryRepository) Create(_ context.Context, _ string, ownerSessionID string, ttl time.Duration) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.generateID()
	now := r.clock.Now().UnixMilli()
	room := &models.Room{
		ID:           id,
		CreatedAt:    now,
		ExpiresAt:    now + ttl.Milliseconds(),
		Participants: []models.Participant{},
	}
	r.rooms[id] = room
	r.owners[id] = ownerSessionID
	return room.Clone(), nil
}

func (r *MemoryRepository) Get(_ context.Context, roomID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID].Clone(), nil
}

func (r *MemoryRepository) GetOwner(_ context.Context, roomID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[roomID], nil
}

func (r *MemoryRepository) Exists(_ context.Context, roomID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok, nil
}

func (r *MemoryRepository) Remove(_ context.Context, roomID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	delete(r.owners, roomID)
	return ok, nil
}

func (r *MemoryRepository) AllIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *MemoryRepository) RemoveExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nowMs := now.UnixMilli()
	removed := 0
	for id, room := range r.rooms {
		if room.Expired(nowMs) {
			delete(r.rooms, id)
			delete(r.owners, id)
			removed++
		}
	}
	return removed, nil
}

// ensure returns the live room record; callers must hold the mutex.
func (r *MemoryRepository) ensure(roomID string) (*models.Room, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (r *MemoryRepository) AddParticipant(_ context.Context, roomID string, p models.Participant) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.ensure(roomID)
	if err != nil {
		return nil, err
	}
	addParticipant(room, p)
	return room.Clone(), nil
}

func (r *MemoryRepository) RemoveParticipant(_ context.Context, roomID, participantID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, nil
	}
	removeParticipant(room, participantID)
	return room.Clone(), nil
}

func (r *MemoryRepository) CastVote(_ context.Context, roomID, participantID, value string) (*models.Room, error) {
	if value == "" {
		return nil, ErrInvalidVote
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.ensure(roomID)
	if err != nil {
		return nil, err
	}
	if room.Votes == nil {
		room.Votes = make(map[string]string)
	}
	room.Votes[participantID] = value
	return room.Clone(), nil
}

func (r *MemoryRepository) Reset(_ context.Context, roomID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.ensure(roomID)
	if err != nil {
		return nil, err
	}
	resetRound(room)
	return room.Clone(), nil
}

func (r *MemoryRepository) SetRevealed(_ context.Context, roomID string, revealed bool) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.ensure(roomID)
	if err != nil {
		return nil, err
	}
	room.Revealed = revealed
	return room.Clone(), nil
}

func (r *MemoryRepository) SetStory(_ context.Context, roomID string, story *models.Story) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.ensure(roomID)
	if err != nil {
		return nil, err
	}
	setStory(room, story)
	return room.Clone(), nil
}

func (r *MemoryRepository) SetDeck(_ context.Context, roomID, deckID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.ensure(roomID)
	if err != nil {
		return nil, err
	}
	room.DeckID = deckID
	return room.Clone(), nil
}

func (r *MemoryRepository) UpsertCustomDeck(_ context.Context, roomID string, deck models.CustomDeck) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.ensure(roomID)
	if err != nil {
		return nil, err
	}
	upsertCustomDeck(room, deck)
	return room.Clone(), nil
}

func (r *MemoryRepository) DeleteCustomDeck(_ context.Context, roomID, deckID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.ensure(roomID)
	if err != nil {
		return nil, err
	}
	deleteCustomDeck(room, deckID)
	return room.Clone(), nil
}

var _ Repository = (*MemoryRepository)(nil)
