package rooms

import (
	"strings"

	"github.com/sprintpoker/sprintpoker/internal/models"
)

// Shared mutation rules applied by every repository backend so the two
// implementations cannot drift.

// addParticipant inserts or replaces a participant. A host-role participant
// evicts any existing host entries first, which is how host identity
// migrates across reconnects and how the placeholder gets replaced.
func addParticipant(room *models.Room, p models.Participant) {
	if p.Role == models.RoleHost {
		kept := room.Participants[:0]
		for _, existing := range room.Participants {
			if existing.Role != models.RoleHost {
				kept = append(kept, existing)
			}
		}
		room.Participants = kept
	}
	for i, existing := range room.Participants {
		if existing.ID == p.ID {
			room.Participants[i] = p
			return
		}
	}
	room.Participants = append(room.Participants, p)
}

func removeParticipant(room *models.Room, participantID string) {
	kept := room.Participants[:0]
	for _, p := range room.Participants {
		if p.ID != participantID {
			kept = append(kept, p)
		}
	}
	room.Participants = kept
}

// resetRound clears votes, hides the round and drops stale stats.
func resetRound(room *models.Room) {
	room.Revealed = false
	room.Votes = map[string]string{}
	room.Stats = nil
}

func setStory(room *models.Room, story *models.Story) {
	if story == nil {
		room.Story = nil
		return
	}
	next := models.Story{ID: story.ID, Title: story.Title}
	if strings.TrimSpace(story.Notes) != "" {
		next.Notes = story.Notes
	}
	room.Story = &next
}

func upsertCustomDeck(room *models.Room, deck models.CustomDeck) {
	next := models.CustomDeck{
		ID:     deck.ID,
		Name:   deck.Name,
		Values: append([]string(nil), deck.Values...),
	}
	for i, d := range room.CustomDecks {
		if d.ID == deck.ID {
			room.CustomDecks[i] = next
			return
		}
	}
	room.CustomDecks = append(room.CustomDecks, next)
}

func deleteCustomDeck(room *models.Room, deckID string) {
	kept := room.CustomDecks[:0]
	for _, d := range room.CustomDecks {
		if d.ID != deckID {
			kept = append(kept, d)
		}
	}
	room.CustomDecks = kept
	if len(room.CustomDecks) == 0 {
		room.CustomDecks = nil
	}
	if room.DeckID == deckID {
		room.DeckID = ""
	}
}
