package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/sprintpoker/sprintpoker/internal/models"
)

// Backend identifies which store implementation backs a repository.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// ErrRoomNotFound is returned when a mutating operation targets an unknown
// room id. The gateway is expected to have checked existence already, so
// seeing this surface there is an invariant violation, not a client error.
var ErrRoomNotFound = errors.New("room not found")

// ErrInvalidVote is returned when a vote value is empty.
var ErrInvalidVote = errors.New("invalid vote")

// Repository is the persistence contract for room state. Two interchangeable
// implementations exist: a process-local map and a shared Redis store whose
// keys expire with the room. Mutating operations return the updated room.
type Repository interface {
	Backend() Backend

	Create(ctx context.Context, hostName, ownerSessionID string, ttl time.Duration) (*models.Room, error)
	Get(ctx context.Context, roomID string) (*models.Room, error)
	GetOwner(ctx context.Context, roomID string) (string, error)
	Exists(ctx context.Context, roomID string) (bool, error)
	Remove(ctx context.Context, roomID string) (bool, error)
	AllIDs(ctx context.Context) ([]string, error)

	// RemoveExpired deletes rooms whose TTL has passed and returns how many
	// were removed. Self-expiring backends implement this as a no-op.
	RemoveExpired(ctx context.Context, now time.Time) (int, error)

	AddParticipant(ctx context.Context, roomID string, p models.Participant) (*models.Room, error)
	RemoveParticipant(ctx context.Context, roomID, participantID string) (*models.Room, error)
	CastVote(ctx context.Context, roomID, participantID, value string) (*models.Room, error)
	Reset(ctx context.Context, roomID string) (*models.Room, error)
	SetRevealed(ctx context.Context, roomID string, revealed bool) (*models.Room, error)
	SetStory(ctx context.Context, roomID string, story *models.Story) (*models.Room, error)
	SetDeck(ctx context.Context, roomID, deckID string) (*models.Room, error)
	UpsertCustomDeck(ctx context.Context, roomID string, deck models.CustomDeck) (*models.Room, error)
	DeleteCustomDeck(ctx context.Context, roomID, deckID string) (*models.Room, error)
}
