// Package core implements the matchmaking engine and signaling relay for the
// roulette server: who is online, who is waiting for a partner, which pairs
// are currently matched, and which signaling frames are allowed to flow
// between them. All state lives in memory and is owned by a single Engine.
package core

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/neochat/roulette/internal/models"
)

const defaultNameMax = 32

// Notifier delivers outbound frames to connections. Implementations must not
// block: the engine calls these while holding its state lock and never awaits
// delivery. A frame to an unknown or congested connection is dropped.
type Notifier interface {
	Send(id string, msg any)
	Broadcast(msg any)
}

type connection struct {
	name       string
	mediaReady bool
}

type match struct {
	id   string
	a, b string
}

func (m *match) has(id string) bool { return m.a == id || m.b == id }

func (m *match) other(id string) string {
	if m.a == id {
		return m.b
	}
	return m.a
}

// Engine owns the connection registry, the waiting queue and the match table.
// Every mutating call takes the single mutex, completes its state transition,
// and only then emits notifications, so a concurrently delivered event never
// observes a half-updated state.
type Engine struct {
	mu       sync.Mutex
	conns    map[string]*connection
	queue    []string          // waiting connection ids, duplicate-free
	matches  map[string]*match // match id -> live match
	matchOf  map[string]string // connection id -> live match id
	notifier Notifier
	nameMax  int
	log      *slog.Logger
}

func New(notifier Notifier, nameMax int) *Engine {
	if nameMax <= 0 {
		nameMax = defaultNameMax
	}
	return &Engine{
		conns:    make(map[string]*connection),
		matches:  make(map[string]*match),
		matchOf:  make(map[string]string),
		notifier: notifier,
		nameMax:  nameMax,
		log:      slog.Default(),
	}
}

// Connect registers a new live connection under a transport-assigned id and
// greets it with its default display name.
func (e *Engine) Connect(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[id]; ok {
		// Transport ids are never reused while live; a duplicate connect is
		// a transport bug, not a state change.
		e.log.Warn("duplicate connect ignored", "id", id)
		return
	}
	name := defaultName(id)
	e.conns[id] = &connection{name: name}
	e.log.Info("client connected", "id", id)

	e.notifier.Send(id, models.Event{Type: models.EventConnected, ID: id, Name: name})
	e.broadcastLocked()
}

// Register sets the display name. Unknown ids and empty names are ignored so
// late or duplicate register frames are harmless.
func (e *Engine) Register(id, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.conns[id]
	if !ok {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if r := []rune(name); len(r) > e.nameMax {
		name = string(r[:e.nameMax])
	}
	c.name = name
	e.log.Info("client registered", "id", id, "name", name)

	e.notifier.Send(id, models.Event{Type: models.EventRegistered, Name: name})
	e.broadcastLocked()
}

// SetMediaReady records whether the connection has granted camera/mic access.
func (e *Engine) SetMediaReady(id string, ready bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.conns[id]
	if !ok {
		return
	}
	c.mediaReady = ready
	e.broadcastLocked()
}

// Find puts the connection into the waiting queue and runs a pairing pass.
// A connection that already holds a live match stays out of the queue.
func (e *Engine) Find(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[id]; !ok {
		return
	}
	if e.matchOf[id] != "" {
		return
	}
	e.enqueueLocked(id)
	e.notifier.Send(id, models.Event{Type: models.EventSearching})
	e.tryMatchLocked()
	e.broadcastLocked()
}

// StopSearch removes the connection from the waiting queue. Idempotent.
func (e *Engine) StopSearch(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removeFromQueueLocked(id)
	e.broadcastLocked()
}

// Skip tears down the caller's live match, re-queues both sides and
// immediately runs a fresh pairing pass. A stale or foreign match id is a
// silent no-op.
func (e *Engine) Skip(id, matchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.matches[matchID]
	if !ok || !m.has(id) {
		return
	}
	partner := m.other(id)
	e.destroyMatchLocked(m)
	e.log.Info("match skipped", "matchId", matchID, "by", id)

	e.enqueueLocked(id)
	e.notifier.Send(id, models.Event{Type: models.EventSearching})

	if _, live := e.conns[partner]; live {
		e.notifier.Send(partner, models.Event{Type: models.EventPartnerSkipped})
		e.enqueueLocked(partner)
		e.notifier.Send(partner, models.Event{Type: models.EventSearching})
	}

	e.tryMatchLocked()
	e.broadcastLocked()
}

// Stop ends the caller's live match without re-queueing the caller. The
// partner is notified and re-queued. The caller also leaves the waiting
// queue, so a stop with a stale match id still cancels an active search.
func (e *Engine) Stop(id, matchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.matches[matchID]; ok && m.has(id) {
		partner := m.other(id)
		e.destroyMatchLocked(m)
		e.log.Info("match stopped", "matchId", matchID, "by", id)

		if _, live := e.conns[partner]; live {
			e.notifier.Send(partner, models.Event{Type: models.EventPartnerStopped})
			e.enqueueLocked(partner)
			e.notifier.Send(partner, models.Event{Type: models.EventSearching})
		}
		e.tryMatchLocked()
	}
	e.removeFromQueueLocked(id)
	e.broadcastLocked()
}

// Relay forwards an offer/answer/ice-candidate to the recipient, but only if
// matchID resolves to a live match binding exactly {from, to}. Anything else
// is dropped without a word: teardown races against in-flight signaling all
// the time, and the one thing that must never happen is delivery to a
// connection outside the match.
func (e *Engine) Relay(kind models.EventType, from, to, matchID string, payload json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if matchID == "" {
		return
	}
	m, ok := e.matches[matchID]
	if !ok {
		e.log.Debug("dropped signal for dead match", "kind", kind, "from", from, "matchId", matchID)
		return
	}
	if from == to || !m.has(from) || !m.has(to) {
		e.log.Warn("dropped signal with mismatched participants", "kind", kind, "from", from, "to", to, "matchId", matchID)
		return
	}
	if _, live := e.conns[to]; !live {
		return
	}
	e.notifier.Send(to, models.Signal{Type: kind, From: from, MatchID: matchID, Payload: payload})
}

// Disconnect purges the connection from the queue, its match and the
// registry. A previously matched partner is notified, re-queued and gets an
// immediate pairing pass.
func (e *Engine) Disconnect(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[id]; !ok {
		return
	}
	e.removeFromQueueLocked(id)

	if matchID := e.matchOf[id]; matchID != "" {
		m := e.matches[matchID]
		partner := m.other(id)
		e.destroyMatchLocked(m)
		delete(e.conns, id)
		e.log.Info("client disconnected", "id", id, "matchId", matchID)

		if _, live := e.conns[partner]; live {
			e.notifier.Send(partner, models.Event{Type: models.EventPartnerDisconnected})
			e.enqueueLocked(partner)
			e.notifier.Send(partner, models.Event{Type: models.EventSearching})
		}
		// The freed partner may pair with someone already waiting.
		e.tryMatchLocked()
	} else {
		delete(e.conns, id)
		e.log.Info("client disconnected", "id", id)
	}
	e.broadcastLocked()
}

// Whoami reports the connection's own id and current display name.
func (e *Engine) Whoami(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.conns[id]
	if !ok {
		return
	}
	e.notifier.Send(id, models.Event{Type: models.EventWhoami, ID: id, Name: c.name})
}

// Counts returns the live aggregate counters backing the presence broadcast
// and the HTTP status endpoints.
func (e *Engine) Counts() (total, ready, waiting, matches int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countsLocked()
}

func (e *Engine) countsLocked() (total, ready, waiting, matches int) {
	total = len(e.conns)
	for _, c := range e.conns {
		if c.mediaReady {
			ready++
		}
	}
	return total, ready, len(e.queue), len(e.matches)
}

// ConnectionInfo is one registry entry in a debug snapshot.
type ConnectionInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MediaReady bool   `json:"mediaReady"`
	MatchID    string `json:"matchId,omitempty"`
}

// MatchInfo is one live match in a debug snapshot.
type MatchInfo struct {
	ID string `json:"id"`
	A  string `json:"a"`
	B  string `json:"b"`
}

// Snapshot is a point-in-time copy of the full engine state.
type Snapshot struct {
	Connections []ConnectionInfo `json:"connections"`
	Queue       []string         `json:"queue"`
	Matches     []MatchInfo      `json:"matches"`
}

// Debug copies the full state for the admin endpoint. Map order is
// normalized so consecutive snapshots diff cleanly.
func (e *Engine) Debug() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{Queue: append([]string(nil), e.queue...)}
	for id, c := range e.conns {
		snap.Connections = append(snap.Connections, ConnectionInfo{
			ID:         id,
			Name:       c.name,
			MediaReady: c.mediaReady,
			MatchID:    e.matchOf[id],
		})
	}
	sort.Slice(snap.Connections, func(i, j int) bool { return snap.Connections[i].ID < snap.Connections[j].ID })
	for id, m := range e.matches {
		snap.Matches = append(snap.Matches, MatchInfo{ID: id, A: m.a, B: m.b})
	}
	sort.Slice(snap.Matches, func(i, j int) bool { return snap.Matches[i].ID < snap.Matches[j].ID })
	return snap
}

// tryMatchLocked runs one drain pass over the waiting queue: shuffle, walk
// two at a time, pair up everyone still eligible. A pair in which either
// member was matched out from under the queue is not re-paired within the
// same pass; eligible members stay queued for the next pass. An odd leftover
// stays queued.
func (e *Engine) tryMatchLocked() {
	if len(e.queue) < 2 {
		return
	}
	rand.Shuffle(len(e.queue), func(i, j int) {
		e.queue[i], e.queue[j] = e.queue[j], e.queue[i]
	})

	var remaining []string
	var pairs [][2]string
	i := 0
	for ; i+1 < len(e.queue); i += 2 {
		a, b := e.queue[i], e.queue[i+1]
		okA, okB := e.eligibleLocked(a), e.eligibleLocked(b)
		if okA && okB {
			pairs = append(pairs, [2]string{a, b})
			continue
		}
		// Keep whichever member is still eligible for the next pass; a
		// matched or dead id in the queue is purged here.
		if okA {
			remaining = append(remaining, a)
		}
		if okB {
			remaining = append(remaining, b)
		}
	}
	if i < len(e.queue) && e.eligibleLocked(e.queue[i]) {
		remaining = append(remaining, e.queue[i])
	}
	e.queue = remaining

	for _, p := range pairs {
		a, b := p[0], p[1]
		m := &match{id: uuid.New().String(), a: a, b: b}
		e.matches[m.id] = m
		e.matchOf[a] = m.id
		e.matchOf[b] = m.id

		initiatorA := rand.IntN(2) == 0
		e.notifier.Send(a, models.Found{
			Type:        models.EventFound,
			PartnerID:   b,
			PartnerName: e.conns[b].name,
			MatchID:     m.id,
			Initiator:   initiatorA,
		})
		e.notifier.Send(b, models.Found{
			Type:        models.EventFound,
			PartnerID:   a,
			PartnerName: e.conns[a].name,
			MatchID:     m.id,
			Initiator:   !initiatorA,
		})
		e.log.Info("match created", "matchId", m.id, "a", a, "b", b)
	}
}

func (e *Engine) eligibleLocked(id string) bool {
	if _, ok := e.conns[id]; !ok {
		return false
	}
	return e.matchOf[id] == ""
}

func (e *Engine) enqueueLocked(id string) {
	if !e.eligibleLocked(id) {
		return
	}
	for _, q := range e.queue {
		if q == id {
			return
		}
	}
	e.queue = append(e.queue, id)
}

func (e *Engine) removeFromQueueLocked(id string) {
	kept := e.queue[:0]
	seen := 0
	for _, q := range e.queue {
		if q == id {
			seen++
			continue
		}
		kept = append(kept, q)
	}
	if seen > 1 {
		// Should be unreachable under the lock; dedupe and move on.
		e.log.Warn("duplicate queue entries removed", "id", id, "count", seen)
	}
	e.queue = kept
}

func (e *Engine) destroyMatchLocked(m *match) {
	delete(e.matches, m.id)
	delete(e.matchOf, m.a)
	delete(e.matchOf, m.b)
}

func (e *Engine) broadcastLocked() {
	total, ready, waiting, matches := e.countsLocked()
	e.notifier.Broadcast(models.OnlineCount{
		Type:          models.EventOnlineCount,
		Total:         total,
		Ready:         ready,
		Waiting:       waiting,
		ActiveMatches: matches,
	})
}

func defaultName(id string) string {
	short := id
	if len(short) > 5 {
		short = short[:5]
	}
	return "Guest-" + short
}
