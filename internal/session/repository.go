package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Durable is the persistent record of sessions. Implementations must make
// SaveSession an idempotent upsert of the current position and
// FinalizeSession an idempotent write of the final outcome.
type Durable interface {
	CreateSession(ctx context.Context, s *Session) error
	SaveSession(ctx context.Context, s *Session) error
	FinalizeSession(ctx context.Context, s *Session) error
	// LoadSession returns (nil, nil) when the id is unknown.
	LoadSession(ctx context.Context, id string) (*Session, error)
	Close() error
}

// Repository is the Postgres-backed Durable.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Migrate creates the sessions table when it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	const q = `CREATE TABLE IF NOT EXISTS sessions (
		session_id    TEXT PRIMARY KEY,
		first_id      TEXT NOT NULL,
		first_name    TEXT NOT NULL DEFAULT '',
		first_rating  INT  NOT NULL DEFAULT 0,
		second_id     TEXT NOT NULL,
		second_name   TEXT NOT NULL DEFAULT '',
		second_rating INT  NOT NULL DEFAULT 0,
		fen           TEXT NOT NULL,
		turn          TEXT NOT NULL,
		status        TEXT NOT NULL,
		outcome       TEXT NOT NULL,
		end_reason    TEXT NOT NULL DEFAULT '',
		moves_uci     TEXT NOT NULL DEFAULT '[]',
		moves_san     TEXT NOT NULL DEFAULT '[]',
		pgn           TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	return r.upsert(ctx, s, "")
}

func (r *Repository) SaveSession(ctx context.Context, s *Session) error {
	return r.upsert(ctx, s, "")
}

// FinalizeSession writes the terminal state together with a PGN rendering
// of the move log so completed games can be replayed offline.
func (r *Repository) FinalizeSession(ctx context.Context, s *Session) error {
	return r.upsert(ctx, s, buildPGN(s))
}

func (r *Repository) upsert(ctx context.Context, s *Session, pgn string) error {
	if s == nil {
		return nil
	}
	movesUCIRaw, _ := json.Marshal(s.MovesUCI)
	movesSANRaw, _ := json.Marshal(s.MovesSAN)

	const q = `INSERT INTO sessions (
		session_id, first_id, first_name, first_rating,
		second_id, second_name, second_rating,
		fen, turn, status, outcome, end_reason,
		moves_uci, moves_san, pgn, created_at, updated_at
	  ) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
	  ) ON CONFLICT (session_id) DO UPDATE SET
		fen=EXCLUDED.fen,
		turn=EXCLUDED.turn,
		status=EXCLUDED.status,
		outcome=EXCLUDED.outcome,
		end_reason=EXCLUDED.end_reason,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		pgn=CASE WHEN EXCLUDED.pgn <> '' THEN EXCLUDED.pgn ELSE sessions.pgn END,
		updated_at=EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.First.ID, s.First.Name, s.First.Rating,
		s.Second.ID, s.Second.Name, s.Second.Rating,
		s.FEN, string(s.Turn), string(s.Status), string(s.Outcome), string(s.Reason),
		string(movesUCIRaw), string(movesSANRaw), pgn,
		s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *Repository) LoadSession(ctx context.Context, id string) (*Session, error) {
	const q = `SELECT session_id, first_id, first_name, first_rating,
		second_id, second_name, second_rating,
		fen, turn, status, outcome, end_reason,
		moves_uci, moves_san, created_at, updated_at
	  FROM sessions WHERE session_id = $1`

	var (
		s                        Session
		turn, status, outcome    string
		reason                   string
		movesUCIRaw, movesSANRaw string
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.First.ID, &s.First.Name, &s.First.Rating,
		&s.Second.ID, &s.Second.Name, &s.Second.Rating,
		&s.FEN, &turn, &status, &outcome, &reason,
		&movesUCIRaw, &movesSANRaw, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Turn = Side(turn)
	s.Status = Status(status)
	s.Outcome = Outcome(outcome)
	s.Reason = EndReason(reason)
	if err := json.Unmarshal([]byte(movesUCIRaw), &s.MovesUCI); err != nil {
		return nil, fmt.Errorf("decode moves_uci: %w", err)
	}
	if err := json.Unmarshal([]byte(movesSANRaw), &s.MovesSAN); err != nil {
		return nil, fmt.Errorf("decode moves_san: %w", err)
	}
	return &s, nil
}

func pgnResult(o Outcome) string {
	switch o {
	case OutcomeFirstWins:
		return "1-0"
	case OutcomeSecondWins:
		return "0-1"
	case OutcomeDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(s *Session) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	date := s.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := pgnResult(s.Outcome)
	b.WriteString("[Event \"MatchServer\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(s.First.Name)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(s.Second.Name)))
	if s.Reason != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(s.Reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(s.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", (i/2)+1, strings.TrimSpace(s.MovesSAN[i])))
		if i+1 < len(s.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
