package session

import (
	"time"

	"github.com/park285/chess-match-server/internal/rules"
)

// Side identifies one of the two seats in a session. The mapping to game
// colors is fixed: first plays white, second plays black.
type Side string

const (
	SideFirst  Side = "first"
	SideSecond Side = "second"
)

// Color returns the chess color assigned to the side.
func (s Side) Color() rules.Color {
	if s == SideFirst {
		return rules.White
	}
	return rules.Black
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SideFirst {
		return SideSecond
	}
	return SideFirst
}

// SideForColor maps a chess color back to the seat that plays it.
func SideForColor(c rules.Color) Side {
	if c == rules.White {
		return SideFirst
	}
	return SideSecond
}

// Status represents the session lifecycle state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusAbandoned Status = "ABANDONED"
)

// Outcome is undetermined while the session is active and set exactly when
// the session completes.
type Outcome string

const (
	OutcomeUndetermined Outcome = "undetermined"
	OutcomeFirstWins    Outcome = "first_wins"
	OutcomeSecondWins   Outcome = "second_wins"
	OutcomeDraw         Outcome = "draw"
)

// WinnerSide returns the winning side, or "" for a draw or an undetermined
// outcome.
func (o Outcome) WinnerSide() Side {
	switch o {
	case OutcomeFirstWins:
		return SideFirst
	case OutcomeSecondWins:
		return SideSecond
	}
	return ""
}

// WinFor returns the outcome in which the given side wins.
func WinFor(s Side) Outcome {
	if s == SideFirst {
		return OutcomeFirstWins
	}
	return OutcomeSecondWins
}

// EndReason records which terminal edge completed the session.
type EndReason string

const (
	ReasonCheckmate   EndReason = "checkmate"
	ReasonStalemate   EndReason = "stalemate"
	ReasonRuleDraw    EndReason = "rule_draw"
	ReasonResignation EndReason = "resignation"
	ReasonAgreement   EndReason = "agreement"
	ReasonTimeout     EndReason = "timeout"
)

// Participant is one seated player.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// Session is the authoritative state of one paired game.
type Session struct {
	ID        string      `json:"id"`
	First     Participant `json:"first"`
	Second    Participant `json:"second"`
	FEN       string      `json:"fen"`
	Turn      Side        `json:"turn"`
	MovesUCI  []string    `json:"moves_uci"`
	MovesSAN  []string    `json:"moves_san"`
	Status    Status      `json:"status"`
	Outcome   Outcome     `json:"outcome"`
	Reason    EndReason   `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Active reports whether the session still accepts moves.
func (s *Session) Active() bool { return s.Status == StatusActive }

// SideOf returns the seat held by playerID.
func (s *Session) SideOf(playerID string) (Side, bool) {
	switch playerID {
	case s.First.ID:
		return SideFirst, true
	case s.Second.ID:
		return SideSecond, true
	}
	return "", false
}

// ParticipantOn returns the player seated on the given side.
func (s *Session) ParticipantOn(side Side) Participant {
	if side == SideFirst {
		return s.First
	}
	return s.Second
}

// Opponent returns the other seated player.
func (s *Session) Opponent(playerID string) (Participant, bool) {
	side, ok := s.SideOf(playerID)
	if !ok {
		return Participant{}, false
	}
	return s.ParticipantOn(side.Other()), true
}

// Clone returns a deep copy so callers never share history slices with the
// store's working state.
func (s *Session) Clone() *Session {
	c := *s
	c.MovesUCI = append([]string(nil), s.MovesUCI...)
	c.MovesSAN = append([]string(nil), s.MovesSAN...)
	return &c
}
