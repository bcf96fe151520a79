package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sprintpoker/sprintpoker/internal/models"
)

// idClaimTTL bounds a provisional room-id claim so a crash between claiming
// and writing the room cannot lock the code forever.
const idClaimTTL = 60 * time.Second

const idClaimSentinel = "__CLAIM__"

// RedisRepository stores each room as a JSON document whose Redis expiry
// mirrors the room's own expiresAt, so the store self-expires and the
// sweeper has nothing to do. Concurrent writers follow last-writer-wins on
// the full document; room state is short-lived and low-value, so stale
// overwrites are tolerated.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	clock  clockwork.Clock
}

// NewRedisRepository creates a Redis-backed room store using the given key
// prefix (defaults to "room").
func NewRedisRepository(client redis.UniversalClient, keyPrefix string, clock clockwork.Clock) *RedisRepository {
	if keyPrefix == "" {
		keyPrefix = "room"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisRepository{client: client, prefix: keyPrefix, clock: clock}
}

func (r *RedisRepository) Backend() Backend { return BackendRedis }

func (r *RedisRepository) key(roomID string) string {
	return r.prefix + ":" + roomID
}

func (r *RedisRepository) ownerKey(roomID string) string {
	return r.prefix + ":" + roomID + ":owner"
}

// tryClaimID atomically claims a candidate room id with SET NX so two
// concurrent creators cannot both win the same code.
func (r *RedisRepository) tryClaimID(ctx context.Context, roomID string) (bool, error) {
	return r.client.SetNX(ctx, r.key(roomID), idClaimSentinel, idClaimTTL).Result()
}

func (r *RedisRepository) generateID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := randomRoomCode()
		ok, err := r.tryClaimID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("claim room id: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	// Last resort after exhausting attempts: random code, claimed
	// best-effort without re-checking success.
	id := fallbackRoomCode()
	if _, err := r.tryClaimID(ctx, id); err != nil {
		return "", fmt.Errorf("claim fallback room id: %w", err)
	}
	return id, nil
}

func (r *RedisRepository) Create(ctx context.Context, _ string, ownerSessionID string, ttl time.Duration) (*models.Room, error) {
	id, err := r.generateID(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now().UnixMilli()
	room := &models.Room{
		ID:           id,
		CreatedAt:    now,
		ExpiresAt:    now + ttl.Milliseconds(),
		Participants: []models.Participant{},
	}
	if err := r.write(ctx, room); err != nil {
		return nil, err
	}
	expiresAt := time.UnixMilli(room.ExpiresAt)
	if err := r.client.Set(ctx, r.ownerKey(id), ownerSessionID, 0).Err(); err != nil {
		return nil, fmt.Errorf("write room owner: %w", err)
	}
	if err := r.client.PExpireAt(ctx, r.ownerKey(id), expiresAt).Err(); err != nil {
		return nil, fmt.Errorf("expire room owner: %w", err)
	}
	return room, nil
}

func (r *RedisRepository) Get(ctx context.Context, roomID string) (*models.Room, error) {
	raw, err := r.client.Get(ctx, r.key(roomID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read room: %w", err)
	}
	var room models.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		// Unparseable payloads (including a pending id claim) read as absent.
		return nil, nil
	}
	if room.Participants == nil {
		room.Participants = []models.Participant{}
	}
	return &room, nil
}

func (r *RedisRepository) GetOwner(ctx context.Context, roomID string) (string, error) {
	v, err := r.client.Get(ctx, r.ownerKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read room owner: %w", err)
	}
	return v, nil
}

func (r *RedisRepository) Exists(ctx context.Context, roomID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(roomID)).Result()
	if err != nil {
		return false, fmt.Errorf("check room exists: %w", err)
	}
	return n == 1, nil
}

func (r *RedisRepository) Remove(ctx context.Context, roomID string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(roomID), r.ownerKey(roomID)).Result()
	if err != nil {
		return false, fmt.Errorf("delete room: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRepository) AllIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	pattern := r.prefix + ":*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan rooms: %w", err)
		}
		for _, k := range keys {
			// Primary room keys only; skip :owner keys.
			rest := strings.TrimPrefix(k, r.prefix+":")
			if !strings.Contains(rest, ":") {
				ids = append(ids, rest)
			}
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// RemoveExpired is a no-op: Redis key TTLs expire rooms on their own.
func (r *RedisRepository) RemoveExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// write persists the full room document and mirrors the room's expiry onto
// the store key, keeping data-key and room lifetimes consistent.
func (r *RedisRepository) write(ctx context.Context, room *models.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	key := r.key(room.ID)
	if err := r.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("write room: %w", err)
	}
	if err := r.client.PExpireAt(ctx, key, time.UnixMilli(room.ExpiresAt)).Err(); err != nil {
		return fmt.Errorf("expire room: %w", err)
	}
	return nil
}

func (r *RedisRepository) ensure(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// mutate applies fn to the current document and writes it back.
func (r *RedisRepository) mutate(ctx context.Context, roomID string, fn func(*models.Room)) (*models.Room, error) {
	room, err := r.ensure(ctx, roomID)
	if err != nil {
		return nil, err
	}
	fn(room)
	if err := r.write(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (r *RedisRepository) AddParticipant(ctx context.Context, roomID string, p models.Participant) (*models.Room, error) {
	return r.mutate(ctx, roomID, func(room *models.Room) {
		addParticipant(room, p)
	})
}

func (r *RedisRepository) RemoveParticipant(ctx context.Context, roomID, participantID string) (*models.Room, error) {
	room, err := r.Get(ctx, roomID)
	if err != nil || room == nil {
		return nil, err
	}
	removeParticipant(room, participantID)
	if err := r.write(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (r *RedisRepository) CastVote(ctx context.Context, roomID, participantID, value string) (*models.Room, error) {
	if value == "" {
		return nil, ErrInvalidVote
	}
	return r.mutate(ctx, roomID, func(room *models.Room) {
		if room.Votes == nil {
			room.Votes = make(map[string]string)
		}
		room.Votes[participantID] = value
	})
}

func (r *RedisRepository) Reset(ctx context.Context, roomID string) (*models.Room, error) {
	return r.mutate(ctx, roomID, resetRound)
}

func (r *RedisRepository) SetRevealed(ctx context.Context, roomID string, revealed bool) (*models.Room, error) {
	return r.mutate(ctx, roomID, func(room *models.Room) {
		room.Revealed = revealed
	})
}

func (r *RedisRepository) SetStory(ctx context.Context, roomID string, story *models.Story) (*models.Room, error) {
	return r.mutate(ctx, roomID, func(room *models.Room) {
		setStory(room, story)
	})
}

func (r *RedisRepository) SetDeck(ctx context.Context, roomID, deckID string) (*models.Room, error) {
	return r.mutate(ctx, roomID, func(room *models.Room) {
		room.DeckID = deckID
	})
}

func (r *RedisRepository) UpsertCustomDeck(ctx context.Context, roomID string, deck models.CustomDeck) (*models.Room, error) {
	return r.mutate(ctx, roomID, func(room *models.Room) {
		upsertCustomDeck(room, deck)
	})
}

func (r *RedisRepository) DeleteCustomDeck(ctx context.Context, roomID, deckID string) (*models.Room, error) {
	return r.mutate(ctx, roomID, func(room *models.Room) {
		deleteCustomDeck(room, deckID)
	})
}

var _ Repository = (*RedisRepository)(nil)
