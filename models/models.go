// models/models.go
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Suit 花色
type Suit string

const (
	// SuitNone marks an absent vote.
	SuitNone     Suit = ""
	SuitHearts   Suit = "hearts"
	SuitDiamonds Suit = "diamonds"
	SuitClubs    Suit = "clubs"
	SuitSpades   Suit = "spades"
)

// Suits is the canonical suit order.
var Suits = [4]Suit{SuitHearts, SuitDiamonds, SuitClubs, SuitSpades}

func (s Suit) Valid() bool {
	switch s {
	case SuitHearts, SuitDiamonds, SuitClubs, SuitSpades:
		return true
	}
	return false
}

// ParseSuit accepts the canonical lower-case names, ignoring case and
// surrounding space.
func ParseSuit(raw string) (Suit, error) {
	s := Suit(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return SuitNone, fmt.Errorf("unknown suit %q", raw)
	}
	return s, nil
}

type PlayerStatus string

const (
	StatusActive     PlayerStatus = "active"
	StatusEliminated PlayerStatus = "eliminated"
	StatusSpectator  PlayerStatus = "spectator"
)

func (s PlayerStatus) Valid() bool {
	return s == StatusActive || s == StatusEliminated || s == StatusSpectator
}

// Phase 游戏阶段
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhaseVoting  Phase = "voting"
	PhaseResults Phase = "results"
	PhaseEnded   Phase = "ended"

	// phaseFinished is a legacy spelling of PhaseEnded accepted on input only.
	phaseFinished = "finished"
)

var ErrUnknownPhase = errors.New("unknown phase")

// ParsePhase normalizes a stored phase value. "finished" maps to PhaseEnded.
func ParsePhase(raw string) (Phase, error) {
	switch p := strings.ToLower(strings.TrimSpace(raw)); p {
	case phaseFinished:
		return PhaseEnded, nil
	case string(PhaseLobby), string(PhasePlaying), string(PhaseVoting), string(PhaseResults), string(PhaseEnded):
		return Phase(p), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPhase, raw)
}

// Winner is empty while the game is undecided.
type Winner string

const (
	WinnerNone    Winner = ""
	WinnerJack    Winner = "jack"
	WinnerPlayers Winner = "players"
)

func (w Winner) Valid() bool {
	return w == WinnerNone || w == WinnerJack || w == WinnerPlayers
}

// Player 玩家
type Player struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Suit     Suit         `json:"suit,omitempty"`
	IsJack   bool         `json:"is_jack"`
	IsHost   bool         `json:"is_host"`
	Status   PlayerStatus `json:"status"`
	LastVote Suit         `json:"last_vote,omitempty"`
	// EliminatedRound is 0 while the player has not been eliminated.
	EliminatedRound int       `json:"eliminated_round,omitempty"`
	JoinedAt        time.Time `json:"joined_at"`
}

// HasVoted reports whether the player holds a vote for the current round.
func (p *Player) HasVoted() bool {
	return p.LastVote != SuitNone
}

// Elimination records one wrong or missing guess.
type Elimination struct {
	PlayerID    string `json:"player_id"`
	PlayerName  string `json:"player_name"`
	GuessedSuit Suit   `json:"guessed_suit,omitempty"`
	ActualSuit  Suit   `json:"actual_suit"`
	Abstained   bool   `json:"abstained"`
}

// Survivor records one correct guess.
type Survivor struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

type RoundResult struct {
	Round        int           `json:"round"`
	Eliminations []Elimination `json:"eliminations"`
	Survivors    []Survivor    `json:"survivors"`
}

// Game is the aggregate root. Players are kept in join order.
type Game struct {
	Code           string        `json:"code"`
	HostID         string        `json:"host_id"`
	Phase          Phase         `json:"phase"`
	CurrentRound   int           `json:"current_round"`
	RoundStartTime time.Time     `json:"round_start_time"`
	RoundDuration  time.Duration `json:"round_duration"`
	// VotingEndTime is zero unless Phase is PhaseVoting.
	VotingEndTime time.Time     `json:"voting_end_time"`
	Players       []*Player     `json:"players"`
	RoundResults  []RoundResult `json:"round_results"`
	Winner        Winner        `json:"winner,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Player returns the player with id, or nil.
func (g *Game) Player(id string) *Player {
	for _, p := range g.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (g *Game) Host() *Player {
	return g.Player(g.HostID)
}

// Jack returns nil before suits are assigned.
func (g *Game) Jack() *Player {
	for _, p := range g.Players {
		if p.IsJack {
			return p
		}
	}
	return nil
}

func (g *Game) ActivePlayers() []*Player {
	active := make([]*Player, 0, len(g.Players))
	for _, p := range g.Players {
		if p.Status == StatusActive {
			active = append(active, p)
		}
	}
	return active
}

// RoundEndTime is the deadline of the playing phase.
func (g *Game) RoundEndTime() time.Time {
	if g.RoundStartTime.IsZero() {
		return time.Time{}
	}
	return g.RoundStartTime.Add(g.RoundDuration)
}

// AllVoted reports whether every active player has voted. It is false when
// no player is active.
func (g *Game) AllVoted() bool {
	active := g.ActivePlayers()
	if len(active) == 0 {
		return false
	}
	for _, p := range active {
		if !p.HasVoted() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers can mutate without sharing state.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Players = make([]*Player, len(g.Players))
	for i, p := range g.Players {
		pc := *p
		c.Players[i] = &pc
	}
	c.RoundResults = make([]RoundResult, len(g.RoundResults))
	for i, r := range g.RoundResults {
		rc := RoundResult{
			Round:        r.Round,
			Eliminations: make([]Elimination, len(r.Eliminations)),
			Survivors:    make([]Survivor, len(r.Survivors)),
		}
		copy(rc.Eliminations, r.Eliminations)
		copy(rc.Survivors, r.Survivors)
		c.RoundResults[i] = rc
	}
	return &c
}

// Validate checks the aggregate invariants.
func (g *Game) Validate() error {
	if g.Code == "" {
		return errors.New("missing game code")
	}
	if g.CurrentRound < 0 {
		return fmt.Errorf("negative round %d", g.CurrentRound)
	}
	if (g.Phase == PhaseVoting) != !g.VotingEndTime.IsZero() {
		return fmt.Errorf("voting end time inconsistent with phase %s", g.Phase)
	}
	if !g.Winner.Valid() {
		return fmt.Errorf("unknown winner %q", g.Winner)
	}
	hosts, jacks := 0, 0
	for _, p := range g.Players {
		if p.IsHost {
			hosts++
		}
		if p.IsJack {
			jacks++
		}
		if !p.Status.Valid() {
			return fmt.Errorf("player %s has unknown status %q", p.ID, p.Status)
		}
	}
	if len(g.Players) > 0 && hosts != 1 {
		return fmt.Errorf("expected exactly one host, found %d", hosts)
	}
	if g.Phase != PhaseLobby && jacks != 1 {
		return fmt.Errorf("expected exactly one jack, found %d", jacks)
	}
	return nil
}
