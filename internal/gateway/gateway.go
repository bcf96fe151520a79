package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sprintpoker/sprintpoker/internal/logging"
	"github.com/sprintpoker/sprintpoker/internal/models"
	"github.com/sprintpoker/sprintpoker/internal/perf"
	"github.com/sprintpoker/sprintpoker/internal/ratelimit"
	"github.com/sprintpoker/sprintpoker/internal/rooms"
)

// maxPayloadBytes caps the serialized size of any inbound payload.
const maxPayloadBytes = 2 * 1024

// Broadcaster republishes room broadcasts to other gateway instances.
// Implementations must not deliver a payload back to the publishing
// instance.
type Broadcaster interface {
	Publish(roomID string, data []byte) error
}

// Config tunes the protocol layer.
type Config struct {
	Connection ConnectionConfig
	RateLimit  ratelimit.Config
	// RateLimitedEvents is the set of inbound events subject to admission
	// control. Story and deck edits are host-only and deliberately outside
	// this set; widening it is a configuration decision.
	RateLimitedEvents []string
}

// DefaultConfig returns the production protocol settings.
func DefaultConfig() Config {
	return Config{
		Connection: DefaultConnectionConfig(),
		RateLimit:  ratelimit.DefaultConfig(),
		RateLimitedEvents: []string{
			EventRoomJoin, EventVoteCast, EventVoteReveal, EventVoteReset,
		},
	}
}

// Gateway is the realtime protocol layer: it maps connections to rooms,
// authorizes every inbound event by role, validates and size-caps payloads,
// shapes outbound state and broadcasts it to a room's pool.
type Gateway struct {
	rooms   *rooms.App
	manager *ConnectionManager
	limiter *ratelimit.Limiter
	perf    *perf.Recorder
	rec     *logging.Recorder
	bridge  Broadcaster
	clock   clockwork.Clock
	limited map[string]struct{}
	config  Config
}

// New creates a Gateway over the room service.
func New(app *rooms.App, cfg Config, pf *perf.Recorder, rec *logging.Recorder, clock clockwork.Clock) *Gateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pf == nil {
		pf = perf.New(clock)
	}
	if rec == nil {
		rec = logging.Default()
	}
	limited := make(map[string]struct{}, len(cfg.RateLimitedEvents))
	for _, ev := range cfg.RateLimitedEvents {
		limited[ev] = struct{}{}
	}
	return &Gateway{
		rooms:   app,
		manager: NewConnectionManager(cfg.Connection),
		limiter: ratelimit.New(cfg.RateLimit, clock),
		perf:    pf,
		rec:     rec,
		clock:   clock,
		limited: limited,
		config:  cfg,
	}
}

// SetBroadcaster attaches a cross-instance bridge. Must be called before
// serving traffic.
func (g *Gateway) SetBroadcaster(b Broadcaster) { g.bridge = b }

// Manager exposes the connection pools, mainly for the bridge and tests.
func (g *Gateway) Manager() *ConnectionManager { return g.manager }

// NewClient registers a connection identity without a transport, used by
// the upgrade path and by tests. The returned client buffers outbound
// payloads on its send channel.
func (g *Gateway) NewClient(sessionID, ip string) *Client {
	return &Client{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		IP:          ip,
		send:        make(chan []byte, 256),
		ConnectedAt: g.clock.Now(),
	}
}

func (g *Gateway) correlationID(c *Client) string {
	if c.SessionID != "" {
		return c.SessionID
	}
	return c.ID
}

// HandleMessage dispatches one inbound frame for a connection. Unknown
// event names are ignored; they represent clients newer than this server.
func (g *Gateway) HandleMessage(c *Client, raw []byte) {
	var env Event
	if err := json.Unmarshal(raw, &env); err != nil {
		g.sendError(c, CodeInvalidPayload, "Invalid payload")
		return
	}
	ctx := context.Background()
	switch env.Event {
	case EventRoomJoin:
		g.handleJoin(ctx, c, env.Data)
	case EventVoteCast:
		g.handleVoteCast(ctx, c, env.Data)
	case EventVoteReveal:
		g.handleVoteReveal(ctx, c, env.Data)
	case EventVoteReset:
		g.handleVoteReset(ctx, c, env.Data)
	case EventStorySet:
		g.handleStorySet(ctx, c, env.Data)
	case EventDeckSet:
		g.handleDeckSet(ctx, c, env.Data)
	case EventDeckSave:
		g.handleDeckSave(ctx, c, env.Data)
	case EventDeckDelete:
		g.handleDeckDelete(ctx, c, env.Data)
	default:
		log.Debug().Str("event", env.Event).Str("connection_id", c.ID).Msg("ignoring unknown event")
	}
}

// enforceLimits consumes rate-limit tokens for limited events. Rejections
// are reported to the offending client only.
func (g *Gateway) enforceLimits(event string, c *Client) bool {
	if _, ok := g.limited[event]; !ok {
		return true
	}
	if g.limiter.Allow(c.ID, c.IP) {
		return true
	}
	g.sendError(c, CodeRateLimited, "Too many requests. Please slow down.")
	g.rec.EventCtx("rate_limited", logging.Fields{
		"action":    event,
		"ip":        c.IP,
		"socket_id": c.ID,
	}, g.correlationID(c), -1)
	return false
}

// decodePayload size-caps and strictly decodes an inbound payload before
// any business logic runs. Unknown fields are schema violations.
func (g *Gateway) decodePayload(c *Client, data json.RawMessage, dst interface{}) bool {
	if len(data) > maxPayloadBytes {
		g.sendError(c, CodeInvalidPayload, "Payload too large")
		return false
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		g.sendError(c, CodeInvalidPayload, "Invalid payload")
		return false
	}
	return true
}

type handlerContext struct {
	roomID string
	room   *models.Room
	me     models.Participant
}

// getContext resolves the connection's room and participant. A missing
// mapping means the client raced a reload; the action is silently ignored.
func (g *Gateway) getContext(ctx context.Context, c *Client) *handlerContext {
	roomID := g.manager.RoomOf(c.ID)
	if roomID == "" {
		return nil
	}
	room, err := g.rooms.Get(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("room lookup failed")
		return nil
	}
	if room == nil {
		return nil
	}
	for _, p := range room.Participants {
		if p.ID == c.ID {
			return &handlerContext{roomID: roomID, room: room, me: p}
		}
	}
	return nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, data json.RawMessage) {
	stop := g.perf.Start("ws_handler.room_join")
	if !g.enforceLimits(EventRoomJoin, c) {
		return
	}
	var payload JoinPayload
	if !g.decodePayload(c, data, &payload) {
		return
	}
	roomID := strings.TrimSpace(payload.RoomID)
	name := strings.TrimSpace(payload.Name)
	if roomID == "" || name == "" {
		g.sendError(c, CodeInvalidPayload, "Invalid payload")
		return
	}
	if payload.Role != "" && payload.Role != string(models.RoleObserver) && payload.Role != string(models.RolePlayer) {
		g.sendError(c, CodeInvalidPayload, "Invalid payload")
		return
	}

	room, err := g.rooms.Get(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("room lookup failed")
		return
	}
	if room == nil {
		g.sendError(c, CodeInvalidRoom, "This room does not exist or has expired.")
		return
	}
	if room.Expired(g.clock.Now().UnixMilli()) {
		// Stale room: delete silently and tell only this client.
		if _, err := g.rooms.Remove(ctx, roomID); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to remove expired room")
		}
		g.sendError(c, CodeExpired, "This room has expired. Please create a new room.")
		return
	}

	g.manager.Subscribe(c, roomID)

	owner, err := g.rooms.GetOwner(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("owner lookup failed")
	}
	role := models.RolePlayer
	if c.SessionID != "" && c.SessionID == owner {
		role = models.RoleHost
	} else if payload.Role == string(models.RoleObserver) {
		role = models.RoleObserver
	}
	updated, err := g.rooms.AddParticipant(ctx, roomID, models.Participant{ID: c.ID, Name: name, Role: role})
	if err != nil {
		g.invariantFailure(c, "add participant", err)
		return
	}

	g.broadcastState(roomID, updated)
	g.broadcastProgress(roomID, updated)
	ms := stop()
	g.rec.EventCtx("room_join", logging.Fields{
		"room_id":   roomID,
		"name":      name,
		"socket_id": c.ID,
	}, g.correlationID(c), ms)
}

func (g *Gateway) handleVoteCast(ctx context.Context, c *Client, data json.RawMessage) {
	stop := g.perf.Start("ws_handler.vote_cast")
	if !g.enforceLimits(EventVoteCast, c) {
		return
	}
	var payload VoteCastPayload
	if !g.decodePayload(c, data, &payload) {
		return
	}
	value := strings.TrimSpace(payload.Value)
	if value == "" {
		g.sendError(c, CodeInvalidPayload, "Invalid payload")
		return
	}
	hctx := g.getContext(ctx, c)
	if hctx == nil {
		return
	}
	if !hctx.me.IsEligibleVoter() {
		g.forbidden(c, EventVoteCast, hctx, "Observers cannot vote")
		return
	}
	updated, err := g.rooms.CastVote(ctx, hctx.roomID, c.ID, value)
	if err != nil {
		g.invariantFailure(c, "cast vote", err)
		return
	}
	// Progress only; vote values stay hidden until reveal.
	g.broadcastProgress(hctx.roomID, updated)
	ms := stop()
	g.rec.EventCtx("vote_cast", logging.Fields{
		"room_id":   hctx.roomID,
		"socket_id": c.ID,
	}, g.correlationID(c), ms)
}

func (g *Gateway) handleVoteReveal(ctx context.Context, c *Client, data json.RawMessage) {
	stop := g.perf.Start("ws_handler.vote_reveal")
	if !g.enforceLimits(EventVoteReveal, c) {
		return
	}
	var payload struct{}
	if !g.decodePayload(c, data, &payload) {
		return
	}
	hctx := g.getContext(ctx, c)
	if hctx == nil {
		return
	}
	if !hctx.me.IsHost() {
		g.forbidden(c, EventVoteReveal, hctx, "Only host can reveal votes")
		return
	}
	after, err := g.rooms.SetRevealed(ctx, hctx.roomID, true)
	if err != nil {
		g.invariantFailure(c, "reveal votes", err)
		return
	}
	g.broadcastState(hctx.roomID, after)
	g.broadcastProgress(hctx.roomID, after)
	ms := stop()
	g.rec.EventCtx("vote_reveal", logging.Fields{
		"room_id":   hctx.roomID,
		"socket_id": c.ID,
	}, g.correlationID(c), ms)
}

func (g *Gateway) handleVoteReset(ctx context.Context, c *Client, data json.RawMessage) {
	stop := g.perf.Start("ws_handler.vote_reset")
	if !g.enforceLimits(EventVoteReset, c) {
		return
	}
	var payload struct{}
	if !g.decodePayload(c, data, &payload) {
		return
	}
	hctx := g.getContext(ctx, c)
	if hctx == nil {
		return
	}
	if !hctx.me.IsHost() {
		g.forbidden(c, EventVoteReset, hctx, "Only host can reset votes")
		return
	}
	after, err := g.rooms.Reset(ctx, hctx.roomID)
	if err != nil {
		g.invariantFailure(c, "reset round", err)
		return
	}
	g.broadcastState(hctx.roomID, after)
	g.broadcastProgress(hctx.roomID, after)
	ms := stop()
	g.rec.EventCtx("vote_reset", logging.Fields{
		"room_id":   hctx.roomID,
		"socket_id": c.ID,
	}, g.correlationID(c), ms)
}

func (g *Gateway) handleStorySet(ctx context.Context, c *Client, data json.RawMessage) {
	stop := g.perf.Start("ws_handler.story_set")
	var payload StorySetPayload
	if !g.decodePayload(c, data, &payload) {
		return
	}
	hctx := g.getContext(ctx, c)
	if hctx == nil {
		return
	}
	if !hctx.me.IsHost() {
		g.forbidden(c, EventStorySet, hctx, "Only host can set story")
		return
	}
	story := g.sanitizeStory(payload.Story)
	if story == nil {
		g.sendError(c, CodeInvalidPayload, "Story title is required")
		return
	}
	after, err := g.rooms.SetStory(ctx, hctx.roomID, story)
	if err != nil {
		g.invariantFailure(c, "set story", err)
		return
	}
	g.broadcastState(hctx.roomID, after)
	g.broadcastProgress(hctx.roomID, after)
	ms := stop()
	g.rec.EventCtx("story_set", logging.Fields{
		"room_id":   hctx.roomID,
		"socket_id": c.ID,
	}, g.correlationID(c), ms)
}

func (g *Gateway) handleDeckSet(ctx context.Context, c *Client, data json.RawMessage) {
	stop := g.perf.Start("ws_handler.deck_set")
	var payload DeckSetPayload
	if !g.decodePayload(c, data, &payload) {
		return
	}
	deckID := strings.TrimSpace(payload.DeckID)
	if deckID == "" {
		g.sendError(c, CodeInvalidPayload, "Invalid payload")
		return
	}
	hctx := g.getContext(ctx, c)
	if hctx == nil {
		return
	}
	if !hctx.me.IsHost() {
		g.forbidden(c, EventDeckSet, hctx, "Only host can change deck")
		return
	}
	if _, err := g.rooms.SetDeck(ctx, hctx.roomID, deckID); err != nil {
		g.invariantFailure(c, "set deck", err)
		return
	}
	// Changing the deck invalidates the round; reset before broadcasting so
	// no client ever sees stale votes against the new deck.
	after, err := g.rooms.Reset(ctx, hctx.roomID)
	if err != nil {
		g.invariantFailure(c, "reset after deck change", err)
		return
	}
	g.broadcastState(hctx.roomID, after)
	g.broadcastProgress(hctx.roomID, after)
	ms := stop()
	g.rec.EventCtx("deck_set", logging.Fields{
		"room_id":   hctx.roomID,
		"socket_id": c.ID,
		"deck":      deckID,
	}, g.correlationID(c), ms)
}

func (g *Gateway) handleDeckSave(ctx context.Context, c *Client, data json.RawMessage) {
	stop := g.perf.Start("ws_handler.deck_save")
	var payload DeckSavePayload
	if !g.decodePayload(c, data, &payload) {
		return
	}
	hctx := g.getContext(ctx, c)
	if hctx == nil {
		return
	}
	if !hctx.me.IsHost() {
		g.forbidden(c, EventDeckSave, hctx, "Only host can manage decks")
		return
	}
	deck := sanitizeDeck(payload.Deck)
	if deck == nil {
		g.sendError(c, CodeInvalidPayload, "Deck name and values are required")
		return
	}
	after, err := g.rooms.UpsertCustomDeck(ctx, hctx.roomID, *deck)
	if err != nil {
		g.invariantFailure(c, "save deck", err)
		return
	}
	g.broadcastState(hctx.roomID, after)
	g.broadcastProgress(hctx.roomID, after)
	ms := stop()
	g.rec.EventCtx("deck_save", logging.Fields{
		"room_id":   hctx.roomID,
		"socket_id": c.ID,
		"deck":      deck.ID,
	}, g.correlationID(c), ms)
}

func (g *Gateway) handleDeckDelete(ctx context.Context, c *Client, data json.RawMessage) {
	stop := g.perf.Start("ws_handler.deck_delete")
	var payload DeckDeletePayload
	if !g.decodePayload(c, data, &payload) {
		return
	}
	deckID := strings.TrimSpace(payload.DeckID)
	if deckID == "" {
		g.sendError(c, CodeInvalidPayload, "Invalid payload")
		return
	}
	hctx := g.getContext(ctx, c)
	if hctx == nil {
		return
	}
	if !hctx.me.IsHost() {
		g.forbidden(c, EventDeckDelete, hctx, "Only host can manage decks")
		return
	}
	after, err := g.rooms.DeleteCustomDeck(ctx, hctx.roomID, deckID)
	if err != nil {
		g.invariantFailure(c, "delete deck", err)
		return
	}
	g.broadcastState(hctx.roomID, after)
	g.broadcastProgress(hctx.roomID, after)
	ms := stop()
	g.rec.EventCtx("deck_delete", logging.Fields{
		"room_id":   hctx.roomID,
		"socket_id": c.ID,
		"deck":      deckID,
	}, g.correlationID(c), ms)
}

// Disconnect runs the transport-close transition: the participant is
// removed, and when it held the host role a durable placeholder takes its
// place so the room is never left host-less across a natural reconnect.
func (g *Gateway) Disconnect(c *Client) {
	stop := g.perf.Start("ws_handler.disconnect")
	defer c.close()

	ctx := context.Background()
	hctx := g.getContext(ctx, c)
	roomID := g.manager.Unsubscribe(c)
	g.limiter.Forget(c.ID)
	if roomID == "" {
		return
	}

	room, err := g.rooms.RemoveParticipant(ctx, roomID, c.ID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("remove participant failed")
		return
	}
	if room == nil {
		return
	}
	if hctx != nil && hctx.me.IsHost() {
		room, err = g.rooms.AddParticipant(ctx, roomID, models.Participant{
			ID:   models.HostPlaceholderID,
			Name: hctx.me.Name,
			Role: models.RoleHost,
		})
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("host placeholder insert failed")
			return
		}
	}
	ms := stop()
	g.rec.EventCtx("room_leave", logging.Fields{
		"room_id":   roomID,
		"socket_id": c.ID,
	}, g.correlationID(c), ms)
	g.broadcastState(roomID, room)
	g.broadcastProgress(roomID, room)
}

func (g *Gateway) sanitizeStory(s StoryPayload) *models.Story {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return nil
	}
	id := strings.TrimSpace(s.ID)
	if id == "" {
		id = generateStoryID(g.clock.Now())
	}
	story := &models.Story{ID: id, Title: title}
	if strings.TrimSpace(s.Notes) != "" {
		story.Notes = s.Notes
	}
	return story
}

func generateStoryID(now time.Time) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return "S-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + string(suffix)
}

func sanitizeDeck(d DeckPayload) *models.CustomDeck {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil
	}
	values := make([]string, 0, len(d.Values))
	for _, v := range d.Values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return nil
	}
	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = "D-" + uuid.NewString()[:8]
	}
	return &models.CustomDeck{ID: id, Name: name, Values: values}
}

func (g *Gateway) forbidden(c *Client, action string, hctx *handlerContext, message string) {
	g.sendError(c, CodeForbidden, message)
	g.rec.EventCtx("auth_forbidden", logging.Fields{
		"action":    action,
		"room_id":   hctx.roomID,
		"socket_id": c.ID,
		"role":      string(hctx.me.Role),
	}, g.correlationID(c), -1)
}

// invariantFailure handles service errors the gateway's own checks should
// have made impossible. Fatal to the request, not to the connection.
func (g *Gateway) invariantFailure(c *Client, op string, err error) {
	if errors.Is(err, rooms.ErrRoomNotFound) || errors.Is(err, rooms.ErrInvalidVote) {
		log.Error().Err(err).Str("op", op).Str("connection_id", c.ID).Msg("gateway invariant violated")
		return
	}
	log.Error().Err(err).Str("op", op).Str("connection_id", c.ID).Msg("store operation failed")
}

func (g *Gateway) sendError(c *Client, code ErrorCode, message string) {
	data, err := json.Marshal(ErrorEvent{Code: code, Message: message})
	if err != nil {
		return
	}
	payload, err := json.Marshal(Event{Event: EventRoomError, Data: data})
	if err != nil {
		return
	}
	if !c.trySend(payload) {
		log.Warn().Str("connection_id", c.ID).Msg("dropping error event, send buffer full")
	}
}

// broadcastState shapes and fans out the room projection. Broadcasts happen
// synchronously with the mutation that produced them so every client
// observes state transitions in order.
func (g *Gateway) broadcastState(roomID string, room *models.Room) {
	g.broadcast(roomID, EventRoomState, g.shapeRoom(room))
}

func (g *Gateway) broadcastProgress(roomID string, room *models.Room) {
	stop := g.perf.Start("ws_emit.vote_progress")
	g.broadcast(roomID, EventVoteProgress, g.rooms.ComputeProgress(room))
	stop()
}

func (g *Gateway) broadcast(roomID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal broadcast payload")
		return
	}
	frame, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal broadcast frame")
		return
	}
	g.manager.DeliverRoom(roomID, frame)
	if g.bridge != nil {
		if err := g.bridge.Publish(roomID, frame); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("bridge publish failed")
		}
	}
}
