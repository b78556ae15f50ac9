package rules

import (
	"errors"
	"strings"
	"testing"
)

func TestStartingFEN(t *testing.T) {
	a := NewAdapter()
	fen := a.StartingFEN()
	if !strings.HasPrefix(fen, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w") {
		t.Fatalf("unexpected starting FEN: %s", fen)
	}
}

func TestApply_UCIAndSAN(t *testing.T) {
	a := NewAdapter()

	res, err := a.Apply(nil, "e2e4")
	if err != nil {
		t.Fatalf("Apply e2e4: %v", err)
	}
	if res.MoveUCI != "e2e4" {
		t.Fatalf("unexpected UCI: %s", res.MoveUCI)
	}
	if res.NextTurn != Black {
		t.Fatalf("expected black to move, got %s", res.NextTurn)
	}
	if res.Terminal != TerminalNone {
		t.Fatalf("unexpected terminal: %s", res.Terminal)
	}

	// SAN fallback for players who type algebraic notation.
	res2, err := a.Apply([]string{"e2e4"}, "Nc6")
	if err != nil {
		t.Fatalf("Apply Nc6: %v", err)
	}
	if res2.MoveUCI != "b8c6" {
		t.Fatalf("unexpected UCI for Nc6: %s", res2.MoveUCI)
	}
	if res2.NextTurn != White {
		t.Fatalf("expected white to move, got %s", res2.NextTurn)
	}
}

func TestApply_IllegalMove(t *testing.T) {
	a := NewAdapter()
	for _, mv := range []string{"", "   ", "e2e5", "Qh5", "zz9"} {
		if _, err := a.Apply(nil, mv); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("move %q: expected ErrIllegalMove, got %v", mv, err)
		}
	}
}

func TestApply_WrongTurnMoveIsIllegal(t *testing.T) {
	a := NewAdapter()
	// Black piece move while white is to move.
	if _, err := a.Apply(nil, "e7e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
}

func TestApply_CheckmateDetection(t *testing.T) {
	a := NewAdapter()
	// Fool's mate: black delivers checkmate on move two.
	history := []string{"f2f3", "e7e5", "g2g4"}
	res, err := a.Apply(history, "d8h4")
	if err != nil {
		t.Fatalf("Apply mate: %v", err)
	}
	if res.Terminal != TerminalCheckmate {
		t.Fatalf("expected checkmate, got %s", res.Terminal)
	}
	if res.Winner != Black {
		t.Fatalf("expected black winner, got %s", res.Winner)
	}
	if !strings.Contains(res.MoveSAN, "#") {
		t.Fatalf("expected mate marker in SAN, got %s", res.MoveSAN)
	}
}

func TestApply_StalemateDetection(t *testing.T) {
	a := NewAdapter()
	// Loyd's ten-move stalemate.
	history := []string{
		"e2e3", "a7a5",
		"d1h5", "a8a6",
		"h5a5", "h7h5",
		"a5c7", "a6h6",
		"h2h4", "f7f6",
		"c7d7", "e8f7",
		"d7b7", "d8d3",
		"b7b8", "d3h7",
		"b8c8", "f7g6",
	}
	res, err := a.Apply(history, "c8e6")
	if err != nil {
		t.Fatalf("Apply stalemating move: %v", err)
	}
	if res.Terminal != TerminalStalemate {
		t.Fatalf("expected stalemate, got %s", res.Terminal)
	}
	if res.Winner != "" {
		t.Fatalf("stalemate has no winner, got %s", res.Winner)
	}
}

func TestApply_CorruptHistory(t *testing.T) {
	a := NewAdapter()
	if _, err := a.Apply([]string{"e2e4", "e2e4"}, "g1f3"); err == nil {
		t.Fatalf("expected replay error for corrupt history")
	}
}
