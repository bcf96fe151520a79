package gateway

import (
	"encoding/json"

	"github.com/sprintpoker/sprintpoker/internal/models"
)

// Event is the wire envelope in both directions: an event name plus its
// JSON payload.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	EventRoomJoin   = "room:join"
	EventVoteCast   = "vote:cast"
	EventVoteReveal = "vote:reveal"
	EventVoteReset  = "vote:reset"
	EventStorySet   = "story:set"
	EventDeckSet    = "deck:set"
	EventDeckSave   = "deck:save"
	EventDeckDelete = "deck:delete"
)

// Outbound event names.
const (
	EventRoomState    = "room:state"
	EventVoteProgress = "vote:progress"
	EventRoomError    = "room:error"
)

// ErrorCode classifies a client-visible failure.
type ErrorCode string

const (
	CodeInvalidPayload ErrorCode = "invalid_payload"
	CodeInvalidRoom    ErrorCode = "invalid_room"
	CodeForbidden      ErrorCode = "forbidden"
	CodeExpired        ErrorCode = "expired"
	CodeRateLimited    ErrorCode = "rate_limited"
)

// ErrorEvent is the payload of room:error, scoped to a single client.
type ErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// JoinPayload is the payload of room:join.
type JoinPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	Secret string `json:"secret,omitempty"`
	Role   string `json:"role,omitempty"` // "observer" or "player"
}

// VoteCastPayload is the payload of vote:cast.
type VoteCastPayload struct {
	Value string `json:"value"`
}

// StoryPayload is the inbound story shape; the id is generated when absent.
type StoryPayload struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Notes string `json:"notes,omitempty"`
}

// StorySetPayload is the payload of story:set.
type StorySetPayload struct {
	Story StoryPayload `json:"story"`
}

// DeckSetPayload is the payload of deck:set.
type DeckSetPayload struct {
	DeckID string `json:"deckId"`
}

// DeckPayload is the inbound custom-deck shape for deck:save.
type DeckPayload struct {
	ID     string   `json:"id,omitempty"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// DeckSavePayload is the payload of deck:save.
type DeckSavePayload struct {
	Deck DeckPayload `json:"deck"`
}

// DeckDeletePayload is the payload of deck:delete.
type DeckDeletePayload struct {
	DeckID string `json:"deckId"`
}

// RoomState is the outward projection of a room. Votes and stats are
// populated only for revealed rounds; the shaping in shape.go is the single
// place that decides this.
type RoomState struct {
	ID           string               `json:"id"`
	CreatedAt    int64                `json:"createdAt"`
	ExpiresAt    int64                `json:"expiresAt"`
	Participants []models.Participant `json:"participants"`
	Story        *models.Story        `json:"story,omitempty"`
	DeckID       string               `json:"deckId,omitempty"`
	Revealed     bool                 `json:"revealed,omitempty"`
	Votes        map[string]string    `json:"votes,omitempty"`
	Stats        *models.VoteStats    `json:"stats,omitempty"`
	CustomDecks  []models.CustomDeck  `json:"customDecks,omitempty"`
}
