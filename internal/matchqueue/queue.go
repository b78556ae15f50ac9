package matchqueue

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-match-server/internal/obslog"
)

var (
	ErrInvalidPlayer = errors.New("invalid player")
	ErrAlreadyQueued = errors.New("player already queued")
)

// Player is one waiting entry. Owned exclusively by the queue while
// enqueued; TryMatch hands ownership to the caller.
type Player struct {
	ID         string
	Name       string
	Rating     int
	EnqueuedAt time.Time
}

// Queue is the shared waiting list. FIFO by (enqueue time, id); all
// operations are check-and-act under one mutex so a player can never be
// matched twice or removed twice.
type Queue struct {
	mu            sync.Mutex
	waiting       map[string]*Player
	order         []*Player
	waitPerPlayer time.Duration
}

func NewQueue(waitPerPlayer time.Duration) *Queue {
	return &Queue{
		waiting:       make(map[string]*Player),
		waitPerPlayer: waitPerPlayer,
	}
}

// Join appends the player. Duplicate identities fail with ErrAlreadyQueued
// so a double-click on "play" cannot queue anyone twice.
func (q *Queue) Join(p Player) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return ErrInvalidPlayer
	}
	if p.EnqueuedAt.IsZero() {
		p.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.waiting[p.ID]; ok {
		return ErrAlreadyQueued
	}
	q.insertLocked(&p)
	obslog.L().Info("queue_join", zap.String("player_id", p.ID), zap.Int("depth", len(q.order)))
	return nil
}

// Leave removes the player if present. Never fails; returns whether an
// entry was actually removed.
func (q *Queue) Leave(playerID string) bool {
	playerID = strings.TrimSpace(playerID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.waiting[playerID]; !ok {
		return false
	}
	delete(q.waiting, playerID)
	for i, p := range q.order {
		if p.ID == playerID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	obslog.L().Info("queue_leave", zap.String("player_id", playerID), zap.Int("depth", len(q.order)))
	return true
}

// TryMatch atomically removes and returns the two oldest waiting players.
// Safe to call on a fixed interval concurrently with Join/Leave.
func (q *Queue) TryMatch() (*Player, *Player, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) < 2 {
		return nil, nil, false
	}
	a, b := q.order[0], q.order[1]
	q.order = q.order[2:]
	delete(q.waiting, a.ID)
	delete(q.waiting, b.ID)
	obslog.L().Info("queue_match",
		zap.String("player_a", a.ID),
		zap.String("player_b", b.ID),
		zap.Int("depth", len(q.order)),
	)
	return a, b, true
}

// Requeue reinserts players with their original enqueue timestamps, used
// when session creation for a matched pair fails and the match is retried.
func (q *Queue) Requeue(players ...*Player) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range players {
		if p == nil || strings.TrimSpace(p.ID) == "" {
			continue
		}
		if _, ok := q.waiting[p.ID]; ok {
			continue
		}
		q.insertLocked(p)
		obslog.L().Info("queue_requeue", zap.String("player_id", p.ID))
	}
}

// Status returns the queue depth and a wait estimate. The estimate is a
// policy knob (linear in depth), not a correctness property.
func (q *Queue) Status() (int, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order), time.Duration(len(q.order)) * q.waitPerPlayer
}

// insertLocked keeps order sorted by (EnqueuedAt, ID); the id tiebreak
// makes match selection deterministic for identical timestamps.
func (q *Queue) insertLocked(p *Player) {
	q.waiting[p.ID] = p
	q.order = append(q.order, p)
	sort.SliceStable(q.order, func(i, j int) bool {
		if q.order[i].EnqueuedAt.Equal(q.order[j].EnqueuedAt) {
			return q.order[i].ID < q.order[j].ID
		}
		return q.order[i].EnqueuedAt.Before(q.order[j].EnqueuedAt)
	})
}
