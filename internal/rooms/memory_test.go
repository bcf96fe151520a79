package rooms

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sprintpoker/sprintpoker/internal/models"
)

var roomCodePattern = regexp.MustCompile(`^[A-HJ-NP-Z]{4}-[0-9]{4}$`)

func TestMemoryCreate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := NewMemoryRepository(clock)
	ctx := context.Background()

	room, err := repo.Create(ctx, "Hannah", "sess-1", 24*time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !roomCodePattern.MatchString(room.ID) {
		t.Errorf("room id %q does not match code format", room.ID)
	}
	now := clock.Now().UnixMilli()
	if room.CreatedAt != now {
		t.Errorf("CreatedAt = %d, want %d", room.CreatedAt, now)
	}
	if want := now + (24 * time.Hour).Milliseconds(); room.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", room.ExpiresAt, want)
	}
	if len(room.Participants) != 0 {
		t.Errorf("new room has %d participants, want 0", len(room.Participants))
	}

	owner, err := repo.GetOwner(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetOwner: %v", err)
	}
	if owner != "sess-1" {
		t.Errorf("owner = %q, want sess-1", owner)
	}
}

func TestMemoryGetUnknownRoom(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	room, err := repo.Get(context.Background(), "NOPE-0000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if room != nil {
		t.Fatalf("Get unknown room = %+v, want nil", room)
	}
}

func TestMemoryRemove(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	ctx := context.Background()

	room, _ := repo.Create(ctx, "Hannah", "sess", time.Hour)
	ok, err := repo.Remove(ctx, room.ID)
	if err != nil || !ok {
		t.Fatalf("Remove = %v, %v; want true, nil", ok, err)
	}
	ok, err = repo.Remove(ctx, room.ID)
	if err != nil || ok {
		t.Fatalf("second Remove = %v, %v; want false, nil", ok, err)
	}
}

func TestMemoryRemoveExpiredBoundary(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := NewMemoryRepository(clock)
	ctx := context.Background()

	ttl := time.Hour
	room, _ := repo.Create(ctx, "Hannah", "sess", ttl)

	// One millisecond before expiry nothing happens.
	removed, err := repo.RemoveExpired(ctx, clock.Now().Add(ttl-time.Millisecond))
	if err != nil {
		t.Fatalf("RemoveExpired: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d before expiry, want 0", removed)
	}

	// Expiry is inclusive: at exactly createdAt+ttl the room is gone.
	removed, err = repo.RemoveExpired(ctx, clock.Now().Add(ttl))
	if err != nil {
		t.Fatalf("RemoveExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d at expiry, want 1", removed)
	}
	if got, _ := repo.Get(ctx, room.ID); got != nil {
		t.Error("expired room still retrievable")
	}
	if owner, _ := repo.GetOwner(ctx, room.ID); owner != "" {
		t.Error("expired room still has an owner record")
	}
}

func TestMemoryAddParticipantHostEviction(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	ctx := context.Background()
	room, _ := repo.Create(ctx, "Hannah", "sess", time.Hour)

	_, err := repo.AddParticipant(ctx, room.ID, models.Participant{ID: models.HostPlaceholderID, Name: "Hannah", Role: models.RoleHost})
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	updated, err := repo.AddParticipant(ctx, room.ID, models.Participant{ID: "c1", Name: "Hannah", Role: models.RoleHost})
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	hosts := 0
	for _, p := range updated.Participants {
		if p.IsHost() {
			hosts++
			if p.ID != "c1" {
				t.Errorf("surviving host id = %q, want c1", p.ID)
			}
		}
	}
	if hosts != 1 {
		t.Fatalf("room has %d hosts, want exactly 1", hosts)
	}
}

func TestMemoryAddParticipantReplacesByID(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	ctx := context.Background()
	room, _ := repo.Create(ctx, "Hannah", "sess", time.Hour)

	repo.AddParticipant(ctx, room.ID, models.Participant{ID: "p1", Name: "Pat", Role: models.RolePlayer})
	updated, _ := repo.AddParticipant(ctx, room.ID, models.Participant{ID: "p1", Name: "Patricia", Role: models.RoleObserver})

	if len(updated.Participants) != 1 {
		t.Fatalf("participants = %d, want 1", len(updated.Participants))
	}
	if p := updated.Participants[0]; p.Name != "Patricia" || p.Role != models.RoleObserver {
		t.Errorf("participant = %+v, want replaced entry", p)
	}
}

func TestMemoryRemoveParticipantUnknownRoom(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	room, err := repo.RemoveParticipant(context.Background(), "NOPE-0000", "p1")
	if err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if room != nil {
		t.Fatal("expected nil room for unknown room id")
	}
}

func TestMemoryVoteLifecycle(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	ctx := context.Background()
	room, _ := repo.Create(ctx, "Hannah", "sess", time.Hour)
	repo.AddParticipant(ctx, room.ID, models.Participant{ID: "p1", Name: "Pat", Role: models.RolePlayer})

	if _, err := repo.CastVote(ctx, room.ID, "p1", "5"); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	updated, err := repo.CastVote(ctx, room.ID, "p1", "8")
	if err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if got := updated.Votes["p1"]; got != "8" {
		t.Errorf("re-cast vote = %q, want 8 (overwrite)", got)
	}

	revealed, err := repo.SetRevealed(ctx, room.ID, true)
	if err != nil {
		t.Fatalf("SetRevealed: %v", err)
	}
	if !revealed.Revealed {
		t.Error("room not revealed after SetRevealed(true)")
	}

	reset, err := repo.Reset(ctx, room.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Revealed {
		t.Error("room still revealed after reset")
	}
	if len(reset.Votes) != 0 {
		t.Errorf("votes after reset = %v, want empty", reset.Votes)
	}
	if reset.Stats != nil {
		t.Errorf("stats after reset = %+v, want nil", reset.Stats)
	}
}

func TestMemoryCustomDecks(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	ctx := context.Background()
	room, _ := repo.Create(ctx, "Hannah", "sess", time.Hour)

	deck := models.CustomDeck{ID: "d1", Name: "Tees", Values: []string{"S", "M", "L"}}
	updated, err := repo.UpsertCustomDeck(ctx, room.ID, deck)
	if err != nil {
		t.Fatalf("UpsertCustomDeck: %v", err)
	}
	if len(updated.CustomDecks) != 1 {
		t.Fatalf("decks = %d, want 1", len(updated.CustomDecks))
	}

	deck.Name = "T-Shirts"
	updated, _ = repo.UpsertCustomDeck(ctx, room.ID, deck)
	if len(updated.CustomDecks) != 1 || updated.CustomDecks[0].Name != "T-Shirts" {
		t.Fatalf("upsert did not replace deck: %+v", updated.CustomDecks)
	}

	repo.SetDeck(ctx, room.ID, "d1")
	updated, err = repo.DeleteCustomDeck(ctx, room.ID, "d1")
	if err != nil {
		t.Fatalf("DeleteCustomDeck: %v", err)
	}
	if len(updated.CustomDecks) != 0 {
		t.Errorf("decks after delete = %+v, want none", updated.CustomDecks)
	}
	if updated.DeckID != "" {
		t.Errorf("deck id = %q after deleting the active deck, want empty", updated.DeckID)
	}
}

func TestMemoryReturnsClones(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	ctx := context.Background()
	room, _ := repo.Create(ctx, "Hannah", "sess", time.Hour)
	repo.AddParticipant(ctx, room.ID, models.Participant{ID: "p1", Name: "Pat", Role: models.RolePlayer})

	got, _ := repo.Get(ctx, room.ID)
	got.Participants[0].Name = "mutated"
	got.Votes = map[string]string{"p1": "99"}

	fresh, _ := repo.Get(ctx, room.ID)
	if fresh.Participants[0].Name != "Pat" {
		t.Error("store state aliased through returned room")
	}
	if len(fresh.Votes) != 0 {
		t.Error("vote map aliased through returned room")
	}
}

func TestMemoryMutationsOnUnknownRoom(t *testing.T) {
	repo := NewMemoryRepository(clockwork.NewFakeClock())
	ctx := context.Background()

	if _, err := repo.CastVote(ctx, "NOPE-0000", "p1", "5"); err != ErrRoomNotFound {
		t.Errorf("CastVote err = %v, want ErrRoomNotFound", err)
	}
	if _, err := repo.Reset(ctx, "NOPE-0000"); err != ErrRoomNotFound {
		t.Errorf("Reset err = %v, want ErrRoomNotFound", err)
	}
	if _, err := repo.AddParticipant(ctx, "NOPE-0000", models.Participant{ID: "p1"}); err != ErrRoomNotFound {
		t.Errorf("AddParticipant err = %v, want ErrRoomNotFound", err)
	}
}
