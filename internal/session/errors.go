package session

import "errors"

var (
	// ErrNotFound: the session is unknown to both the fast and the
	// durable store, or the acting player is not seated in it.
	ErrNotFound = errors.New("session not found")

	// ErrSessionNotActive: the session exists but no longer accepts
	// mutations. Callers racing a terminal transition observe this and
	// must re-sync rather than retry.
	ErrSessionNotActive = errors.New("session not active")

	// ErrNotYourTurn: the acting player's side is not the side to move.
	ErrNotYourTurn = errors.New("not your turn")

	// ErrIllegalMove: the rules adapter rejected the candidate move.
	ErrIllegalMove = errors.New("illegal move")

	// ErrPersistenceUnavailable: the durable store could not record the
	// mutation. The whole operation fails; the fast store is untouched.
	ErrPersistenceUnavailable = errors.New("persistent store unavailable")
)
