package models

import "testing"

func TestExpiredBoundary(t *testing.T) {
	room := &Room{ExpiresAt: 1000}
	if room.Expired(999) {
		t.Error("room expired before its deadline")
	}
	if !room.Expired(1000) {
		t.Error("expiry deadline is inclusive")
	}
	if !room.Expired(1001) {
		t.Error("room not expired after its deadline")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Room{
		ID:           "ABCD-1234",
		Participants: []Participant{{ID: "p1", Name: "Pat", Role: RolePlayer}},
		Votes:        map[string]string{"p1": "5"},
		Story:        &Story{ID: "s1", Title: "Checkout"},
		Stats:        &VoteStats{Avg: 5, Median: 5},
		CustomDecks:  []CustomDeck{{ID: "d1", Name: "Tees", Values: []string{"S", "M"}}},
	}

	clone := orig.Clone()
	clone.Participants[0].Name = "x"
	clone.Votes["p1"] = "x"
	clone.Story.Title = "x"
	clone.Stats.Avg = 0
	clone.CustomDecks[0].Values[0] = "x"

	if orig.Participants[0].Name != "Pat" {
		t.Error("participants aliased")
	}
	if orig.Votes["p1"] != "5" {
		t.Error("votes aliased")
	}
	if orig.Story.Title != "Checkout" {
		t.Error("story aliased")
	}
	if orig.Stats.Avg != 5 {
		t.Error("stats aliased")
	}
	if orig.CustomDecks[0].Values[0] != "S" {
		t.Error("deck values aliased")
	}
}

func TestCloneNil(t *testing.T) {
	var room *Room
	if room.Clone() != nil {
		t.Error("nil room must clone to nil")
	}
}

func TestRolePredicates(t *testing.T) {
	if !(Participant{Role: RoleHost}).IsHost() {
		t.Error("host not recognized")
	}
	if (Participant{Role: RolePlayer}).IsHost() {
		t.Error("player recognized as host")
	}
	if !(Participant{Role: RoleHost}).IsEligibleVoter() || !(Participant{Role: RolePlayer}).IsEligibleVoter() {
		t.Error("host and player must be eligible voters")
	}
	if (Participant{Role: RoleObserver}).IsEligibleVoter() {
		t.Error("observer must not be an eligible voter")
	}
}
