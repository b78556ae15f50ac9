package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-match-server/internal/obslog"
	"github.com/park285/chess-match-server/internal/rules"
)

const (
	sessionTTL = 24 * time.Hour

	loadAttempts = 3
	loadBackoff  = 100 * time.Millisecond
)

// Rules is the external move-legality collaborator consumed by the store.
type Rules interface {
	StartingFEN() string
	Apply(history []string, move string) (*rules.Result, error)
}

// Store is the authoritative state for active sessions: a Redis fast store
// with write-through persistence to the Durable store. All session mutation
// funnels through ApplyMove/EndSession; each session is serialized by its
// own mutex so one slow game never stalls another.
type Store struct {
	rdb   *redis.Client
	db    Durable
	rules Rules

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(rdb *redis.Client, db Durable, r Rules) *Store {
	return &Store{
		rdb:   rdb,
		db:    db,
		rules: r,
		locks: make(map[string]*sync.Mutex),
	}
}

func sessionKey(id string) string { return "match:session:" + id }

// lockFor returns the per-session mutex, creating it on first use. Lock
// entries are retained for the process lifetime; they are tiny and sessions
// are bounded by concurrent players.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create allocates a new active session. The durable row is written before
// the id is returned; if either store cannot record the session the whole
// creation fails with ErrPersistenceUnavailable and the caller decides
// whether to retry the match.
func (s *Store) Create(ctx context.Context, first, second Participant) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		First:     first,
		Second:    second,
		FEN:       s.rules.StartingFEN(),
		Turn:      SideFirst,
		MovesUCI:  []string{},
		MovesSAN:  []string{},
		Status:    StatusActive,
		Outcome:   OutcomeUndetermined,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: create: %v", ErrPersistenceUnavailable, err)
	}
	if err := s.saveFast(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: fast store: %v", ErrPersistenceUnavailable, err)
	}
	obslog.L().Info("session_create",
		zap.String("session_id", sess.ID),
		zap.String("first_id", first.ID),
		zap.String("second_id", second.ID),
	)
	return sess.Clone(), nil
}

// Get returns a snapshot of the session, filling the fast store from the
// durable store on a miss.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == nil {
		var sess Session
		if jerr := json.Unmarshal(raw, &sess); jerr != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, jerr)
		}
		return &sess, nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("%w: fast store: %v", ErrPersistenceUnavailable, err)
	}

	// Cache miss: the durable store is the fallback. Reads retry a
	// bounded number of times with backoff.
	sess, err := s.loadDurable(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if ferr := s.saveFast(ctx, sess); ferr != nil {
		obslog.L().Warn("session_cache_fill_error", zap.String("session_id", id), zap.Error(ferr))
	}
	return sess, nil
}

func (s *Store) loadDurable(ctx context.Context, id string) (*Session, error) {
	var lastErr error
	for attempt := 1; attempt <= loadAttempts; attempt++ {
		sess, err := s.db.LoadSession(ctx, id)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		obslog.L().Warn("session_durable_load_retry",
			zap.String("session_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, ctx.Err())
		case <-time.After(time.Duration(attempt) * loadBackoff):
		}
	}
	return nil, fmt.Errorf("%w: load: %v", ErrPersistenceUnavailable, lastErr)
}

// ApplyMove validates and applies one move for the acting player. The new
// state is durably recorded before success is reported (write-through); a
// failed persistence write fails the whole move and leaves both stores as
// they were. Returns the updated snapshot and whether the game ended.
func (s *Store) ApplyMove(ctx context.Context, id, actingPlayerID, move string) (*Session, bool, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !sess.Active() {
		return nil, false, ErrSessionNotActive
	}
	side, ok := sess.SideOf(actingPlayerID)
	if !ok {
		return nil, false, ErrNotFound
	}
	if side != sess.Turn {
		return nil, false, ErrNotYourTurn
	}

	res, err := s.rules.Apply(sess.MovesUCI, move)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return nil, false, ErrIllegalMove
		}
		return nil, false, fmt.Errorf("rules adapter: %w", err)
	}

	// Mutate a copy so any persistence failure leaves state unchanged.
	next := sess.Clone()
	next.FEN = res.FEN
	next.MovesUCI = append(next.MovesUCI, res.MoveUCI)
	next.MovesSAN = append(next.MovesSAN, res.MoveSAN)
	next.Turn = SideForColor(res.NextTurn)
	next.UpdatedAt = time.Now()

	gameOver := false
	switch res.Terminal {
	case rules.TerminalCheckmate:
		gameOver = true
		next.Status = StatusCompleted
		next.Outcome = WinFor(SideForColor(res.Winner))
		next.Reason = ReasonCheckmate
	case rules.TerminalStalemate:
		gameOver = true
		next.Status = StatusCompleted
		next.Outcome = OutcomeDraw
		next.Reason = ReasonStalemate
	case rules.TerminalOtherDraw:
		gameOver = true
		next.Status = StatusCompleted
		next.Outcome = OutcomeDraw
		next.Reason = ReasonRuleDraw
	}

	if err := s.persist(ctx, next, gameOver); err != nil {
		return nil, false, err
	}

	obslog.L().Info("session_move",
		zap.String("session_id", next.ID),
		zap.String("player_id", actingPlayerID),
		zap.String("uci", res.MoveUCI),
		zap.String("turn", string(next.Turn)),
		zap.Bool("game_over", gameOver),
	)
	return next.Clone(), gameOver, nil
}

// EndSession forces the session to completed with the given outcome. It is
// idempotent: if the session already completed, the current snapshot is
// returned with changed=false and nothing is written, so racing terminal
// transitions resolve to exactly one winner.
func (s *Store) EndSession(ctx context.Context, id string, outcome Outcome, reason EndReason) (*Session, bool, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !sess.Active() {
		return sess.Clone(), false, nil
	}

	next := sess.Clone()
	next.Status = StatusCompleted
	next.Outcome = outcome
	next.Reason = reason
	next.UpdatedAt = time.Now()

	if err := s.persist(ctx, next, true); err != nil {
		return nil, false, err
	}

	obslog.L().Info("session_end",
		zap.String("session_id", next.ID),
		zap.String("outcome", string(outcome)),
		zap.String("reason", string(reason)),
	)
	return next.Clone(), true, nil
}

// Evict removes a completed session from the fast store only. A session
// that is still active is left alone.
func (s *Store) Evict(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: fast store: %v", ErrPersistenceUnavailable, err)
	}
	var sess Session
	if jerr := json.Unmarshal(raw, &sess); jerr != nil {
		return fmt.Errorf("decode session %s: %w", id, jerr)
	}
	if sess.Active() {
		return nil
	}
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: evict: %v", ErrPersistenceUnavailable, err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// persist writes durable-first, then the fast store. If the fast write
// fails after the durable write succeeded, the cached copy is invalidated
// so the next read refills from the durable store instead of serving the
// pre-move state.
func (s *Store) persist(ctx context.Context, sess *Session, final bool) error {
	var err error
	if final {
		err = s.db.FinalizeSession(ctx, sess)
	} else {
		err = s.db.SaveSession(ctx, sess)
	}
	if err != nil {
		return fmt.Errorf("%w: write-through: %v", ErrPersistenceUnavailable, err)
	}
	if err := s.saveFast(ctx, sess); err != nil {
		if derr := s.rdb.Del(ctx, sessionKey(sess.ID)).Err(); derr != nil && derr != redis.Nil {
			obslog.L().Error("session_cache_invalidate_error",
				zap.String("session_id", sess.ID), zap.Error(derr))
		}
		return fmt.Errorf("%w: fast store: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

func (s *Store) saveFast(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(sess.ID), raw, sessionTTL).Err()
}
