package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrIllegalMove is returned when the candidate move is not legal in the
// position reached by the supplied history.
var ErrIllegalMove = errors.New("illegal move")

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Terminal classifies the position after a move was applied.
type Terminal string

const (
	TerminalNone      Terminal = "none"
	TerminalCheckmate Terminal = "checkmate"
	TerminalStalemate Terminal = "stalemate"
	TerminalOtherDraw Terminal = "other-draw"
)

// Result describes the position after a legal move.
type Result struct {
	FEN      string
	MoveUCI  string
	MoveSAN  string
	NextTurn Color
	Terminal Terminal
	// Winner is set only when Terminal is TerminalCheckmate.
	Winner Color
}

// Adapter validates moves and detects terminal states. It is stateless; the
// game is reconstructed from the stored move history on every call so a
// rejected move can never leave residue behind.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

// StartingFEN returns the initial position.
func (a *Adapter) StartingFEN() string {
	return nchess.NewGame().FEN()
}

// Apply replays history (UCI moves from the starting position) and then
// applies move. Move input is UCI first, SAN as a fallback, matching how
// players actually type moves.
func (a *Adapter) Apply(history []string, move string) (*Result, error) {
	game, err := reconstruct(history)
	if err != nil {
		return nil, err
	}
	pos := game.Position()

	raw := strings.TrimSpace(move)
	if raw == "" {
		return nil, ErrIllegalMove
	}

	var applied *nchess.Move
	uci := strings.ToLower(raw)
	if mv, derr := (nchess.UCINotation{}).Decode(pos, uci); derr == nil {
		if merr := game.Move(mv, nil); merr != nil {
			return nil, ErrIllegalMove
		}
		applied = mv
	} else if perr := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); perr == nil {
		moves := game.Moves()
		if len(moves) == 0 {
			return nil, ErrIllegalMove
		}
		applied = moves[len(moves)-1]
	} else {
		return nil, ErrIllegalMove
	}

	res := &Result{
		FEN:      game.FEN(),
		MoveUCI:  applied.String(),
		MoveSAN:  nchess.AlgebraicNotation{}.Encode(pos, applied),
		NextTurn: colorFrom(game.Position().Turn()),
		Terminal: TerminalNone,
	}

	switch game.Outcome() {
	case nchess.WhiteWon:
		res.Terminal = TerminalCheckmate
		res.Winner = White
	case nchess.BlackWon:
		res.Terminal = TerminalCheckmate
		res.Winner = Black
	case nchess.Draw:
		if game.Method() == nchess.Stalemate {
			res.Terminal = TerminalStalemate
		} else {
			res.Terminal = TerminalOtherDraw
		}
	}
	return res, nil
}

// reconstruct replays stored UCI moves from the start position. A history
// that fails to replay indicates store corruption, not caller error.
func reconstruct(history []string) (*nchess.Game, error) {
	game := nchess.NewGame()
	for i, mv := range history {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, mv, err)
		}
	}
	return game, nil
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}
