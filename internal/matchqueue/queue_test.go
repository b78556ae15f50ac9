package matchqueue

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestJoin_DuplicateIdentity(t *testing.T) {
	q := NewQueue(5 * time.Second)
	if err := q.Join(Player{ID: "u1"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := q.Join(Player{ID: "u1"}); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	if depth, _ := q.Status(); depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
}

func TestJoin_InvalidPlayer(t *testing.T) {
	q := NewQueue(time.Second)
	if err := q.Join(Player{ID: "  "}); !errors.Is(err, ErrInvalidPlayer) {
		t.Fatalf("expected ErrInvalidPlayer, got %v", err)
	}
}

func TestTryMatch_OldestFirst(t *testing.T) {
	q := NewQueue(time.Second)
	base := time.Now()
	// Insert out of order; match must return the two oldest.
	_ = q.Join(Player{ID: "late", EnqueuedAt: base.Add(3 * time.Second)})
	_ = q.Join(Player{ID: "first", EnqueuedAt: base})
	_ = q.Join(Player{ID: "second", EnqueuedAt: base.Add(time.Second)})

	a, b, ok := q.TryMatch()
	if !ok {
		t.Fatalf("expected a match")
	}
	if a.ID != "first" || b.ID != "second" {
		t.Fatalf("expected oldest pair (first, second), got (%s, %s)", a.ID, b.ID)
	}
	if depth, _ := q.Status(); depth != 1 {
		t.Fatalf("expected depth 1 after match, got %d", depth)
	}
}

func TestTryMatch_TimestampTieBrokenByID(t *testing.T) {
	q := NewQueue(time.Second)
	ts := time.Now()
	_ = q.Join(Player{ID: "bbb", EnqueuedAt: ts})
	_ = q.Join(Player{ID: "aaa", EnqueuedAt: ts})
	a, b, ok := q.TryMatch()
	if !ok || a.ID != "aaa" || b.ID != "bbb" {
		t.Fatalf("expected deterministic (aaa, bbb), got (%v, %v, %v)", a, b, ok)
	}
}

func TestTryMatch_FewerThanTwo(t *testing.T) {
	q := NewQueue(time.Second)
	if _, _, ok := q.TryMatch(); ok {
		t.Fatalf("empty queue must not match")
	}
	_ = q.Join(Player{ID: "solo"})
	if _, _, ok := q.TryMatch(); ok {
		t.Fatalf("single player must not match")
	}
}

func TestLeave_NoopWhenAbsent(t *testing.T) {
	q := NewQueue(time.Second)
	if q.Leave("ghost") {
		t.Fatalf("leaving an absent player must be a no-op")
	}
	_ = q.Join(Player{ID: "u1"})
	if !q.Leave("u1") {
		t.Fatalf("expected removal")
	}
	if depth, _ := q.Status(); depth != 0 {
		t.Fatalf("expected empty queue, got depth %d", depth)
	}
}

func TestRequeue_KeepsOriginalTimestamp(t *testing.T) {
	q := NewQueue(time.Second)
	old := time.Now().Add(-time.Minute)
	_ = q.Join(Player{ID: "fresh"})
	q.Requeue(&Player{ID: "veteran", EnqueuedAt: old}, &Player{ID: "veteran2", EnqueuedAt: old.Add(time.Second)})

	a, b, ok := q.TryMatch()
	if !ok || a.ID != "veteran" || b.ID != "veteran2" {
		t.Fatalf("requeued players must keep their place in line, got (%v, %v)", a, b)
	}
}

func TestStatus_Estimate(t *testing.T) {
	q := NewQueue(4 * time.Second)
	_ = q.Join(Player{ID: "u1"})
	_ = q.Join(Player{ID: "u2"})
	_ = q.Join(Player{ID: "u3"})
	depth, est := q.Status()
	if depth != 3 {
		t.Fatalf("expected depth 3, got %d", depth)
	}
	if est != 12*time.Second {
		t.Fatalf("expected 12s estimate, got %s", est)
	}
}

// No player may be matched twice or half-removed, no matter how
// join/leave/tryMatch interleave.
func TestConcurrentJoinLeaveMatch(t *testing.T) {
	q := NewQueue(time.Second)
	const players = 200

	var wg sync.WaitGroup
	matched := make(chan string, players)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%03d", i)
			if err := q.Join(Player{ID: id}); err != nil {
				t.Errorf("Join %s: %v", id, err)
			}
			if i%10 == 0 {
				q.Leave(id)
			}
		}(i)
	}
	var matchWG sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		matchWG.Add(1)
		go func() {
			defer matchWG.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if a, b, ok := q.TryMatch(); ok {
					matched <- a.ID
					matched <- b.ID
				}
			}
		}()
	}

	wg.Wait()
	// Drain until the queue can no longer pair anyone.
	for {
		a, b, ok := q.TryMatch()
		if !ok {
			break
		}
		matched <- a.ID
		matched <- b.ID
	}
	close(stop)
	matchWG.Wait()
	close(matched)

	seen := make(map[string]bool)
	for id := range matched {
		if seen[id] {
			t.Fatalf("player %s matched twice", id)
		}
		seen[id] = true
	}
	depth, _ := q.Status()
	if depth > 1 {
		t.Fatalf("queue should hold at most one leftover, got %d", depth)
	}
}
