package models

// Role defines what a participant may do inside a room.
type Role string

const (
	RoleHost     Role = "host"
	RolePlayer   Role = "player"
	RoleObserver Role = "observer"
)

// HostPlaceholderID is the fixed participant id used to keep the host role
// alive while its connection is gone. The owning session reclaims it on the
// next join.
const HostPlaceholderID = "host"

// Participant is one connected identity within a room. The id equals the
// connection id assigned by the gateway, except for the host placeholder.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// IsHost reports whether p holds the host role.
func (p Participant) IsHost() bool {
	return p.Role == RoleHost
}

// IsEligibleVoter reports whether p counts toward voting progress and
// statistics. Observers never do.
func (p Participant) IsEligibleVoter() bool {
	return p.Role == RoleHost || p.Role == RolePlayer
}

// Story is the item currently being estimated.
type Story struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Notes string `json:"notes,omitempty"`
}

// CustomDeck is a host-defined card deck stored on the room.
type CustomDeck struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// VoteStats holds statistics over the numeric votes of a revealed round,
// each rounded to one decimal place.
type VoteStats struct {
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
}

// VoteProgress reports how many eligible voters have voted without exposing
// any vote values.
type VoteProgress struct {
	Count    int      `json:"count"`
	Total    int      `json:"total"`
	VotedIDs []string `json:"votedIds"`
}

// Room is a bounded-lifetime estimation session. Votes and stats are hidden
// data: they must never reach a client while Revealed is false.
type Room struct {
	ID           string            `json:"id"`
	CreatedAt    int64             `json:"createdAt"` // epoch ms
	ExpiresAt    int64             `json:"expiresAt"` // epoch ms
	Participants []Participant     `json:"participants"`
	Story        *Story            `json:"story,omitempty"`
	DeckID       string            `json:"deckId,omitempty"`
	Revealed     bool              `json:"revealed,omitempty"`
	Votes        map[string]string `json:"votes,omitempty"`
	Stats        *VoteStats        `json:"stats,omitempty"`
	CustomDecks  []CustomDeck      `json:"customDecks,omitempty"`
}

// Expired reports whether the room's TTL has passed at nowMs.
func (r *Room) Expired(nowMs int64) bool {
	return r.ExpiresAt <= nowMs
}

// Clone returns a deep copy so callers can mutate without aliasing store
// state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	out.Participants = append([]Participant(nil), r.Participants...)
	if r.Votes != nil {
		out.Votes = make(map[string]string, len(r.Votes))
		for k, v := range r.Votes {
			out.Votes[k] = v
		}
	}
	if r.Story != nil {
		s := *r.Story
		out.Story = &s
	}
	if r.Stats != nil {
		st := *r.Stats
		out.Stats = &st
	}
	if r.CustomDecks != nil {
		out.CustomDecks = make([]CustomDeck, len(r.CustomDecks))
		for i, d := range r.CustomDecks {
			cd := d
			cd.Values = append([]string(nil), d.Values...)
			out.CustomDecks[i] = cd
		}
	}
	return &out
}
