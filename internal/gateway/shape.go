package gateway

import (
	"github.com/sprintpoker/sprintpoker/internal/models"
)

// shapeRoom builds the outward projection of a room. While the round is
// hidden the projection carries neither votes nor stats, no matter which
// mutation produced it. Once revealed, votes are included and stats are
// recomputed fresh on every broadcast rather than reused from a previous
// turn.
func (g *Gateway) shapeRoom(room *models.Room) RoomState {
	state := RoomState{
		ID:           room.ID,
		CreatedAt:    room.CreatedAt,
		ExpiresAt:    room.ExpiresAt,
		Participants: append([]models.Participant{}, room.Participants...),
		Story:        room.Story,
		DeckID:       room.DeckID,
		CustomDecks:  room.CustomDecks,
	}
	if !room.Revealed {
		return state
	}
	state.Revealed = true
	// An empty vote set is carried as an absent key; clients treat absent
	// as empty for every optional field.
	state.Votes = room.Votes
	state.Stats = g.rooms.ComputeStats(room)
	return state
}
