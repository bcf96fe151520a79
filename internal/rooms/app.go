package rooms

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sprintpoker/sprintpoker/internal/logging"
	"github.com/sprintpoker/sprintpoker/internal/models"
)

// DefaultTTL is how long a room lives after creation.
const DefaultTTL = 24 * time.Hour

// numericVote matches vote values eligible for statistics: integers or
// decimals like "0.5". Anything else ("?", coffee) counts toward progress
// but never toward stats.
var numericVote = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// App is the room service: a stateless facade over a Repository plus the
// derivation algorithms for progress and statistics.
type App struct {
	repo Repository
	ttl  time.Duration
	rec  *logging.Recorder
}

// NewApp creates the room service over the given repository.
func NewApp(repo Repository, rec *logging.Recorder) *App {
	if rec == nil {
		rec = logging.Default()
	}
	return &App{repo: repo, ttl: DefaultTTL, rec: rec}
}

// WithTTL overrides the room lifetime. Zero or negative durations keep the
// default.
func (a *App) WithTTL(d time.Duration) *App {
	if d > 0 {
		a.ttl = d
	}
	return a
}

// Backend reports which store implementation is in use.
func (a *App) Backend() Backend { return a.repo.Backend() }

// Create makes a new room owned by the given session.
func (a *App) Create(ctx context.Context, hostName, ownerSessionID string) (*models.Room, error) {
	if strings.TrimSpace(hostName) == "" {
		return nil, fmt.Errorf("invalid host name")
	}
	if ownerSessionID == "" {
		return nil, fmt.Errorf("invalid owner session")
	}
	room, err := a.repo.Create(ctx, hostName, ownerSessionID, a.ttl)
	if err != nil {
		return nil, err
	}
	a.rec.Event("room_create", logging.Fields{"room_id": room.ID, "host": hostName})
	return room, nil
}

func (a *App) Get(ctx context.Context, roomID string) (*models.Room, error) {
	return a.repo.Get(ctx, roomID)
}

func (a *App) GetOwner(ctx context.Context, roomID string) (string, error) {
	return a.repo.GetOwner(ctx, roomID)
}

func (a *App) Exists(ctx context.Context, roomID string) (bool, error) {
	return a.repo.Exists(ctx, roomID)
}

func (a *App) AllIDs(ctx context.Context) ([]string, error) {
	return a.repo.AllIDs(ctx)
}

func (a *App) Remove(ctx context.Context, roomID string) (bool, error) {
	return a.repo.Remove(ctx, roomID)
}

// RemoveExpired reclaims rooms past their TTL. Self-expiring backends make
// this a no-op, so the sweeper can call it unconditionally.
func (a *App) RemoveExpired(ctx context.Context, now time.Time) (int, error) {
	if a.repo.Backend() == BackendRedis {
		return 0, nil
	}
	removed, err := a.repo.RemoveExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		a.rec.Event("room_expired_bulk", logging.Fields{"count": removed})
	}
	return removed, nil
}

// CastVote stores a vote value for a participant; re-casting overwrites.
func (a *App) CastVote(ctx context.Context, roomID, participantID, value string) (*models.Room, error) {
	if participantID == "" {
		return nil, fmt.Errorf("invalid participant")
	}
	return a.repo.CastVote(ctx, roomID, participantID, value)
}

// Reset clears the current round: votes gone, reveal off, stats dropped.
func (a *App) Reset(ctx context.Context, roomID string) (*models.Room, error) {
	return a.repo.Reset(ctx, roomID)
}

func (a *App) SetRevealed(ctx context.Context, roomID string, revealed bool) (*models.Room, error) {
	return a.repo.SetRevealed(ctx, roomID, revealed)
}

func (a *App) SetStory(ctx context.Context, roomID string, story *models.Story) (*models.Room, error) {
	return a.repo.SetStory(ctx, roomID, story)
}

func (a *App) SetDeck(ctx context.Context, roomID, deckID string) (*models.Room, error) {
	return a.repo.SetDeck(ctx, roomID, deckID)
}

func (a *App) UpsertCustomDeck(ctx context.Context, roomID string, deck models.CustomDeck) (*models.Room, error) {
	return a.repo.UpsertCustomDeck(ctx, roomID, deck)
}

func (a *App) DeleteCustomDeck(ctx context.Context, roomID, deckID string) (*models.Room, error) {
	return a.repo.DeleteCustomDeck(ctx, roomID, deckID)
}

func (a *App) AddParticipant(ctx context.Context, roomID string, p models.Participant) (*models.Room, error) {
	return a.repo.AddParticipant(ctx, roomID, p)
}

// RemoveParticipant drops a participant by connection id. Returns nil room
// for unknown rooms instead of an error; disconnects race room expiry.
func (a *App) RemoveParticipant(ctx context.Context, roomID, participantID string) (*models.Room, error) {
	before, err := a.repo.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room, err := a.repo.RemoveParticipant(ctx, roomID, participantID)
	if err != nil {
		return nil, err
	}
	if before != nil && room != nil && len(before.Participants) != len(room.Participants) {
		a.rec.Event("participant_removed", logging.Fields{"room_id": roomID, "participant_id": participantID})
	}
	return room, nil
}

// ComputeProgress derives the value-free voting progress for a room. Only
// hosts and players are eligible; observer votes are ignored even if one
// somehow ended up in the votes map.
func (a *App) ComputeProgress(room *models.Room) models.VoteProgress {
	eligible := make(map[string]struct{})
	total := 0
	for _, p := range room.Participants {
		if p.IsEligibleVoter() {
			eligible[p.ID] = struct{}{}
			total++
		}
	}
	votedIDs := make([]string, 0, len(room.Votes))
	for id := range room.Votes {
		if _, ok := eligible[id]; ok {
			votedIDs = append(votedIDs, id)
		}
	}
	sort.Strings(votedIDs)
	return models.VoteProgress{Count: len(votedIDs), Total: total, VotedIDs: votedIDs}
}

// ComputeStats derives average and median over the numeric votes of
// eligible voters, each rounded to one decimal. Returns nil when no numeric
// votes exist.
func (a *App) ComputeStats(room *models.Room) *models.VoteStats {
	eligible := make(map[string]struct{})
	for _, p := range room.Participants {
		if p.IsEligibleVoter() {
			eligible[p.ID] = struct{}{}
		}
	}
	var nums []float64
	for id, raw := range room.Votes {
		if _, ok := eligible[id]; !ok {
			continue
		}
		v := strings.TrimSpace(raw)
		if !numericVote.MatchString(v) {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return nil
	}
	sort.Float64s(nums)
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	avg := round1(sum / float64(len(nums)))
	mid := len(nums) / 2
	var median float64
	if len(nums)%2 == 1 {
		median = nums[mid]
	} else {
		median = (nums[mid-1] + nums[mid]) / 2
	}
	return &models.VoteStats{Avg: avg, Median: round1(median)}
}

// round1 rounds half up to one decimal place.
func round1(x float64) float64 {
	return math.Floor(x*10+0.5) / 10
}
