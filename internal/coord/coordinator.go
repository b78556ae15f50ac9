package coord

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-match-server/internal/hub"
	"github.com/park285/chess-match-server/internal/matchqueue"
	"github.com/park285/chess-match-server/internal/obslog"
	"github.com/park285/chess-match-server/internal/session"
	"github.com/park285/chess-match-server/pkg/wire"
)

// Config carries the coordinator's timing knobs.
type Config struct {
	// MoveTimeout is the full inactivity window re-granted after every
	// accepted move.
	MoveTimeout time.Duration
	// MatchInterval is the pairing poll period.
	MatchInterval time.Duration
}

// Scheduler is the per-session timeout collaborator.
type Scheduler interface {
	Arm(id string, d time.Duration, onFire func())
	Cancel(id string)
}

// Coordinator glues the queue, the session store, the scheduler and the
// hub together: queue -> session creation -> timer arming -> move
// application -> broadcast -> teardown. It is the only component that
// drives session mutation.
type Coordinator struct {
	store *session.Store
	queue *matchqueue.Queue
	sched Scheduler
	hub   *hub.Hub
	cfg   Config

	mu         sync.Mutex
	clients    map[string]hub.Subscriber // playerID -> live connection
	drawOffers map[string]session.Side   // sessionID -> offering side
	order      map[string]*sync.Mutex    // sessionID -> mutate+broadcast lock
}

func New(store *session.Store, queue *matchqueue.Queue, sch Scheduler, h *hub.Hub, cfg Config) *Coordinator {
	c := &Coordinator{
		store:      store,
		queue:      queue,
		sched:      sch,
		hub:        h,
		cfg:        cfg,
		clients:    make(map[string]hub.Subscriber),
		drawOffers: make(map[string]session.Side),
		order:      make(map[string]*sync.Mutex),
	}
	h.OnDisconnect(c.handleDisconnect)
	return c
}

// Run drives the periodic pairing poll until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.MatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.MatchPass(ctx)
		}
	}
}

// MatchPass drains the queue of as many pairs as it currently holds. One
// poll cycle; also called directly by tests.
func (c *Coordinator) MatchPass(ctx context.Context) {
	for {
		a, b, ok := c.queue.TryMatch()
		if !ok {
			return
		}
		if !c.startMatch(ctx, a, b) {
			// Persistence refused the session; connected players
			// keep their place in line and the pass ends so the
			// next poll retries. A player who dropped between
			// TryMatch and here is not reinserted as a ghost entry.
			c.queue.Requeue(c.stillConnected(a, b)...)
			return
		}
	}
}

// Connect registers a live connection for a player and puts it in the
// lobby. A reconnect replaces the previous subscriber.
func (c *Coordinator) Connect(sub hub.Subscriber) {
	c.mu.Lock()
	c.clients[sub.ID()] = sub
	c.mu.Unlock()
	c.hub.JoinRoom(sub, hub.LobbyRoom)
}

// Disconnect tears down sub's registration, but only if it is still the
// live connection for its player. A replaced connection whose read loop
// ends after the player reconnected must not clobber the fresh
// registration.
func (c *Coordinator) Disconnect(sub hub.Subscriber) {
	c.mu.Lock()
	cur, ok := c.clients[sub.ID()]
	c.mu.Unlock()
	if !ok || cur != sub {
		return
	}
	c.hub.Disconnect(sub.ID())
}

func (c *Coordinator) subscriber(playerID string) (hub.Subscriber, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.clients[playerID]
	return sub, ok
}

// stillConnected filters the pair down to players that still have a live
// connection.
func (c *Coordinator) stillConnected(players ...*matchqueue.Player) []*matchqueue.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	var live []*matchqueue.Player
	for _, p := range players {
		if _, ok := c.clients[p.ID]; ok {
			live = append(live, p)
		}
	}
	return live
}

// orderLock returns the per-session lock that serializes a session
// mutation together with its room broadcast, so events reach the room in
// apply order.
func (c *Coordinator) orderLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.order[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.order[sessionID] = l
	}
	return l
}

// JoinMatchmaking enqueues the player and acknowledges with the queue
// depth and wait estimate.
func (c *Coordinator) JoinMatchmaking(sub hub.Subscriber, name string, rating int) {
	err := c.queue.Join(matchqueue.Player{ID: sub.ID(), Name: name, Rating: rating})
	if err != nil {
		code := "invalid_player"
		if errors.Is(err, matchqueue.ErrAlreadyQueued) {
			code = "already_queued"
		}
		sub.Send(wire.Error{Type: wire.TypeError, Code: code, Message: err.Error()})
		return
	}
	depth, est := c.queue.Status()
	sub.Send(wire.MatchmakingJoined{
		Type:           wire.TypeMatchmakingJoined,
		QueueDepth:     depth,
		EstWaitSeconds: int(est / time.Second),
	})
}

// LeaveMatchmaking removes the player from the queue. Always succeeds.
func (c *Coordinator) LeaveMatchmaking(sub hub.Subscriber) {
	c.queue.Leave(sub.ID())
}

// JoinSession puts a participant's connection into the session room and
// replies with the authoritative current state. Reconnecting clients use
// this to resynchronize.
func (c *Coordinator) JoinSession(ctx context.Context, sub hub.Subscriber, sessionID string) {
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		sub.Send(wire.Error{Type: wire.TypeError, Code: errorCode(err), Message: "cannot join session"})
		return
	}
	side, ok := sess.SideOf(sub.ID())
	if !ok {
		sub.Send(wire.Error{Type: wire.TypeError, Code: "not_found", Message: "not a participant"})
		return
	}
	c.hub.JoinRoom(sub, sessionRoom(sessionID))
	sub.Send(wire.SessionJoined{
		Type:         wire.TypeSessionJoined,
		SessionID:    sessionID,
		AssignedSide: string(side),
		State:        stateOf(sess),
	})
}

// SubmitMove applies one move. Rejections go to the acting client only;
// accepted moves fan out to the room, and a terminal move additionally
// emits the single session-over event. The order lock binds the
// broadcast to the apply, so back-to-back moves can never reach the room
// inverted.
func (c *Coordinator) SubmitMove(ctx context.Context, sub hub.Subscriber, sessionID, move string) {
	lock := c.orderLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, gameOver, err := c.store.ApplyMove(ctx, sessionID, sub.ID(), move)
	if err != nil {
		if errors.Is(err, session.ErrPersistenceUnavailable) {
			obslog.L().Error("move_persist_error",
				zap.String("session_id", sessionID),
				zap.String("player_id", sub.ID()),
				zap.Error(err),
			)
		}
		sub.Send(wire.MoveRejected{Type: wire.TypeMoveRejected, SessionID: sessionID, Reason: errorCode(err)})
		return
	}

	// An accepted move supersedes any pending draw offer.
	c.mu.Lock()
	delete(c.drawOffers, sessionID)
	c.mu.Unlock()

	applied := ""
	if n := len(sess.MovesUCI); n > 0 {
		applied = sess.MovesUCI[n-1]
	}
	c.hub.Broadcast(sessionRoom(sessionID), wire.MoveApplied{
		Type:      wire.TypeMoveApplied,
		SessionID: sessionID,
		Move:      applied,
		State:     stateOf(sess),
		GameOver:  gameOver,
	})

	if gameOver {
		c.finish(ctx, sess)
		return
	}
	// Full window again: total inactivity since the last move, not a
	// chess clock.
	c.armTimer(sessionID)
}

// Resign ends the session in the opponent's favor. Racing terminal events
// are tolerated: whoever loses the race observes no change and stays
// silent.
func (c *Coordinator) Resign(ctx context.Context, sub hub.Subscriber, sessionID string) {
	lock := c.orderLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		sub.Send(wire.Error{Type: wire.TypeError, Code: errorCode(err), Message: "cannot resign"})
		return
	}
	side, ok := sess.SideOf(sub.ID())
	if !ok {
		sub.Send(wire.Error{Type: wire.TypeError, Code: "not_found", Message: "not a participant"})
		return
	}
	ended, changed, err := c.store.EndSession(ctx, sessionID, session.WinFor(side.Other()), session.ReasonResignation)
	if err != nil {
		obslog.L().Error("resign_error", zap.String("session_id", sessionID), zap.Error(err))
		sub.Send(wire.Error{Type: wire.TypeError, Code: errorCode(err), Message: "cannot resign"})
		return
	}
	if changed {
		c.finish(ctx, ended)
	}
}

// OfferDraw records a pending offer (one per session) and notifies the
// room.
func (c *Coordinator) OfferDraw(ctx context.Context, sub hub.Subscriber, sessionID string) {
	lock := c.orderLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		sub.Send(wire.Error{Type: wire.TypeError, Code: errorCode(err), Message: "cannot offer draw"})
		return
	}
	side, ok := sess.SideOf(sub.ID())
	if !ok || !sess.Active() {
		sub.Send(wire.Error{Type: wire.TypeError, Code: "session_not_active", Message: "cannot offer draw"})
		return
	}
	c.mu.Lock()
	c.drawOffers[sessionID] = side
	c.mu.Unlock()
	c.hub.Broadcast(sessionRoom(sessionID), wire.DrawOffered{
		Type:      wire.TypeDrawOffered,
		SessionID: sessionID,
		From:      string(side),
	})
}

// AcceptDraw completes the session by agreement, provided the acceptor is
// the side the offer was made to. The pending offer is consumed only
// after the terminal transition succeeds, so an accept that hits a
// persistence failure can be retried.
func (c *Coordinator) AcceptDraw(ctx context.Context, sub hub.Subscriber, sessionID string) {
	lock := c.orderLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		sub.Send(wire.Error{Type: wire.TypeError, Code: errorCode(err), Message: "cannot accept draw"})
		return
	}
	side, ok := sess.SideOf(sub.ID())
	if !ok {
		sub.Send(wire.Error{Type: wire.TypeError, Code: "not_found", Message: "not a participant"})
		return
	}

	c.mu.Lock()
	from, pending := c.drawOffers[sessionID]
	c.mu.Unlock()
	if !pending || from == side {
		sub.Send(wire.Error{Type: wire.TypeError, Code: "no_pending_offer", Message: "no draw offer to accept"})
		return
	}

	ended, changed, err := c.store.EndSession(ctx, sessionID, session.OutcomeDraw, session.ReasonAgreement)
	if err != nil {
		obslog.L().Error("draw_accept_error", zap.String("session_id", sessionID), zap.Error(err))
		sub.Send(wire.Error{Type: wire.TypeError, Code: errorCode(err), Message: "cannot accept draw"})
		return
	}
	c.mu.Lock()
	delete(c.drawOffers, sessionID)
	c.mu.Unlock()
	c.hub.Broadcast(sessionRoom(sessionID), wire.DrawResolved{
		Type:      wire.TypeDrawResolved,
		SessionID: sessionID,
		Accepted:  true,
	})
	if changed {
		c.finish(ctx, ended)
	}
}

// DeclineDraw clears the pending offer and notifies the room.
func (c *Coordinator) DeclineDraw(_ context.Context, sub hub.Subscriber, sessionID string) {
	lock := c.orderLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	_, pending := c.drawOffers[sessionID]
	delete(c.drawOffers, sessionID)
	c.mu.Unlock()
	if !pending {
		sub.Send(wire.Error{Type: wire.TypeError, Code: "no_pending_offer", Message: "no draw offer to decline"})
		return
	}
	c.hub.Broadcast(sessionRoom(sessionID), wire.DrawResolved{
		Type:      wire.TypeDrawResolved,
		SessionID: sessionID,
		Accepted:  false,
	})
}

// handleDisconnect runs when the hub loses a client. Disconnection is
// informational only: the opponent hears about it, but only the timeout
// scheduler can end a session for inactivity.
func (c *Coordinator) handleDisconnect(clientID string, rooms []string) {
	c.queue.Leave(clientID)
	c.mu.Lock()
	delete(c.clients, clientID)
	c.mu.Unlock()

	for _, room := range rooms {
		sid, ok := sessionIDOf(room)
		if !ok {
			continue
		}
		c.hub.Broadcast(room, wire.OpponentDisconnected{
			Type:      wire.TypeOpponentDisconnected,
			SessionID: sid,
		})
		obslog.L().Info("client_disconnect",
			zap.String("client_id", clientID),
			zap.String("session_id", sid),
		)
	}
}

// startMatch creates a session for the pair with randomized sides and
// tells each player. Returns false when session creation failed and the
// pair should be requeued.
func (c *Coordinator) startMatch(ctx context.Context, a, b *matchqueue.Player) bool {
	first, second := a, b
	if coinFlip() {
		first, second = b, a
	}
	sess, err := c.store.Create(ctx,
		session.Participant{ID: first.ID, Name: first.Name, Rating: first.Rating},
		session.Participant{ID: second.ID, Name: second.Name, Rating: second.Rating},
	)
	if err != nil {
		obslog.L().Error("match_create_error",
			zap.String("player_a", a.ID),
			zap.String("player_b", b.ID),
			zap.Error(err),
		)
		return false
	}

	c.armTimer(sess.ID)
	obslog.L().Info("match_found",
		zap.String("session_id", sess.ID),
		zap.String("first_id", sess.First.ID),
		zap.String("second_id", sess.Second.ID),
	)

	c.notifyMatched(sess.First, sess.Second, sess.ID, session.SideFirst)
	c.notifyMatched(sess.Second, sess.First, sess.ID, session.SideSecond)
	return true
}

func (c *Coordinator) notifyMatched(p, opponent session.Participant, sessionID string, side session.Side) {
	sub, ok := c.subscriber(p.ID)
	if !ok {
		// Player dropped between queueing and pairing; they can still
		// resynchronize via join-session after reconnecting.
		obslog.L().Warn("match_notify_no_client",
			zap.String("session_id", sessionID),
			zap.String("player_id", p.ID),
		)
		return
	}
	sub.Send(wire.MatchFound{
		Type:         wire.TypeMatchFound,
		SessionID:    sessionID,
		Opponent:     opponent.Name,
		AssignedSide: string(side),
	})
}

func (c *Coordinator) armTimer(sessionID string) {
	c.sched.Arm(sessionID, c.cfg.MoveTimeout, func() { c.onTimeout(sessionID) })
}

// onTimeout fires when a session saw no move for the full window. The
// session may have completed between the timer firing and this running; in
// that benign race EndSession reports no change and nothing is emitted.
func (c *Coordinator) onTimeout(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lock := c.orderLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, changed, err := c.store.EndSession(ctx, sessionID, session.OutcomeDraw, session.ReasonTimeout)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return
		}
		obslog.L().Error("timeout_end_error", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	obslog.L().Info("session_timeout", zap.String("session_id", sessionID))
	c.finish(ctx, sess)
}

// finish is the single terminal tail shared by all four edges into
// completed: cancel the timer, broadcast exactly one session-over, evict
// the fast-store copy and drop any pending draw offer.
func (c *Coordinator) finish(ctx context.Context, sess *session.Session) {
	c.sched.Cancel(sess.ID)

	c.mu.Lock()
	delete(c.drawOffers, sess.ID)
	c.mu.Unlock()

	c.hub.Broadcast(sessionRoom(sess.ID), wire.SessionOver{
		Type:       wire.TypeSessionOver,
		SessionID:  sess.ID,
		Outcome:    string(sess.Outcome),
		Reason:     string(sess.Reason),
		WinnerSide: string(sess.Outcome.WinnerSide()),
	})
	if err := c.store.Evict(ctx, sess.ID); err != nil {
		obslog.L().Warn("session_evict_error", zap.String("session_id", sess.ID), zap.Error(err))
	}
	obslog.L().Info("session_over",
		zap.String("session_id", sess.ID),
		zap.String("outcome", string(sess.Outcome)),
		zap.String("reason", string(sess.Reason)),
	)
}

func stateOf(s *session.Session) wire.GameState {
	return wire.GameState{
		FEN:      s.FEN,
		Turn:     string(s.Turn),
		MovesUCI: append([]string(nil), s.MovesUCI...),
		Status:   string(s.Status),
		Outcome:  string(s.Outcome),
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "not_found"
	case errors.Is(err, session.ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, session.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, session.ErrIllegalMove):
		return "illegal_move"
	case errors.Is(err, session.ErrPersistenceUnavailable):
		return "persistence_unavailable"
	default:
		return "internal"
	}
}

func sessionRoom(id string) string { return "session:" + id }

func sessionIDOf(room string) (string, bool) {
	const prefix = "session:"
	if len(room) > len(prefix) && room[:len(prefix)] == prefix {
		return room[len(prefix):], true
	}
	return "", false
}

// coinFlip uses crypto/rand so side assignment carries no systematic bias.
func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return time.Now().UnixNano()%2 == 0
	}
	return n.Int64() == 0
}
