package services

import (
	"errors"
	"fmt"

	"github.com/wfunc/jackofhearts/persistence"
	"github.com/wfunc/jackofhearts/state"
)

var (
	ErrGameNotFound      = errors.New("game not found")
	ErrAlreadyStarted    = errors.New("game already started")
	ErrInvalidTransition = state.ErrTransitionNotAllowed
	ErrNotHost           = state.ErrNotHost
	ErrNotEnoughPlayers  = state.ErrNotEnoughPlayers
	ErrPlayerNotFound    = errors.New("player not found")
	ErrGameFull          = errors.New("game is full")
	ErrInvalidName       = errors.New("invalid player name")
	ErrInvalidSuit       = errors.New("invalid suit")
	ErrInvalidWinner     = errors.New("invalid winner")
	ErrAlreadyVoted      = errors.New("vote already submitted")
	ErrNotActive         = errors.New("player is not active")
	ErrHostCannotLeave   = errors.New("host cannot leave the game")
	ErrCannotRemoveHost  = errors.New("host cannot be removed")
	ErrMalformedState    = persistence.ErrMalformedState
	ErrStoreUnavailable  = errors.New("store unavailable")
)

type errorInfo struct {
	err     error
	code    string
	message string
}

// errorTable maps each sentinel to its wire code and user message. Order
// matters for wrapped errors: the first match wins.
var errorTable = []errorInfo{
	{ErrGameNotFound, "not_found", "Game not found."},
	{ErrAlreadyStarted, "already_started", "This game has already started."},
	{ErrNotHost, "not_host", "Only the host can do that."},
	{ErrNotEnoughPlayers, "not_enough_players", "At least 3 players are needed to start."},
	{ErrInvalidTransition, "invalid_transition", "That action is not available right now."},
	{ErrPlayerNotFound, "player_not_found", "Player not found in this game."},
	{ErrGameFull, "game_full", "This game is full."},
	{ErrInvalidName, "invalid_name", "Please enter a name (up to 24 characters)."},
	{ErrInvalidSuit, "invalid_suit", "Pick one of hearts, diamonds, clubs or spades."},
	{ErrInvalidWinner, "invalid_winner", "Winner must be jack or players."},
	{ErrAlreadyVoted, "already_voted", "You have already voted this round."},
	{ErrNotActive, "not_active", "Eliminated players cannot vote."},
	{ErrHostCannotLeave, "host_cannot_leave", "The host cannot leave the game."},
	{ErrCannotRemoveHost, "cannot_remove_host", "The host cannot be removed."},
	{ErrMalformedState, "malformed_state", "The saved game could not be read."},
	{ErrStoreUnavailable, "store_unavailable", "Something went wrong. Please try again."},
}

// UserMessage converts an operation error into text for the player.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, info := range errorTable {
		if errors.Is(err, info.err) {
			return info.message
		}
	}
	return "Something went wrong. Please try again."
}

// ErrorCode returns the stable wire code for err.
func ErrorCode(err error) string {
	for _, info := range errorTable {
		if errors.Is(err, info.err) {
			return info.code
		}
	}
	return "internal"
}

// ErrorFromCode is the inverse of ErrorCode, used by remote clients.
func ErrorFromCode(code, message string) error {
	for _, info := range errorTable {
		if info.code == code {
			if message == "" || message == info.message {
				return info.err
			}
			return fmt.Errorf("%w: %s", info.err, message)
		}
	}
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, message)
}

// IsIgnorable reports whether an automatic trigger may drop err silently.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrGameNotFound)
}

// classify maps store failures into the service taxonomy. Domain errors
// produced inside update closures pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return ErrGameNotFound
	}
	for _, info := range errorTable {
		if errors.Is(err, info.err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
