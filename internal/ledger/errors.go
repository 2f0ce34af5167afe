package ledger

import "errors"

// Sentinel errors surfaced to callers of the wager ledger. All of them are
// synchronous rejections: the balance and the bet set are unchanged when
// one of these is returned.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBetOutOfBounds      = errors.New("bet amount out of bounds")
	ErrInvalidRoundState   = errors.New("invalid round state for operation")
	ErrNoActiveBet         = errors.New("no active bet for user")
	ErrDuplicateBet        = errors.New("user already has an active bet this round")
)
