// Package wire defines the client/server realtime protocol. All
// server-authoritative fields (assigned side, resulting position, outcome)
// are computed server-side and never trusted from the client.
package wire

// Client-to-server event types.
const (
	TypeJoinMatchmaking  = "join-matchmaking"
	TypeLeaveMatchmaking = "leave-matchmaking"
	TypeJoinSession      = "join-session"
	TypeSubmitMove       = "submit-move"
	TypeOfferDraw        = "offer-draw"
	TypeAcceptDraw       = "accept-draw"
	TypeDeclineDraw      = "decline-draw"
	TypeResign           = "resign"
)

// Server-to-client event types.
const (
	TypeMatchmakingJoined    = "matchmaking-joined"
	TypeMatchFound           = "match-found"
	TypeSessionJoined        = "session-joined"
	TypeMoveApplied          = "move-applied"
	TypeMoveRejected         = "move-rejected"
	TypeDrawOffered          = "draw-offered"
	TypeDrawResolved         = "draw-resolved"
	TypeSessionOver          = "session-over"
	TypeOpponentDisconnected = "opponent-disconnected"
	TypeError                = "error"
)

// ClientEvent is the single inbound envelope.
type ClientEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Move      string `json:"move,omitempty"`
}

// GameState is the server-computed view of a session sent to clients.
type GameState struct {
	FEN      string   `json:"fen"`
	Turn     string   `json:"turn"`
	MovesUCI []string `json:"moves_uci"`
	Status   string   `json:"status"`
	Outcome  string   `json:"outcome"`
}

type MatchmakingJoined struct {
	Type           string `json:"type"`
	QueueDepth     int    `json:"queue_depth"`
	EstWaitSeconds int    `json:"est_wait_seconds"`
}

type MatchFound struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	Opponent     string `json:"opponent"`
	AssignedSide string `json:"assigned_side"`
}

type SessionJoined struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"session_id"`
	AssignedSide string    `json:"assigned_side"`
	State        GameState `json:"state"`
}

type MoveApplied struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Move      string    `json:"move"`
	State     GameState `json:"state"`
	GameOver  bool      `json:"game_over"`
}

type MoveRejected struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type DrawOffered struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	From      string `json:"from"`
}

type DrawResolved struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted"`
}

type SessionOver struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason"`
	WinnerSide string `json:"winner_side,omitempty"`
}

type OpponentDisconnected struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
