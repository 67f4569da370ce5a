package state

import (
	"time"

	"github.com/wfunc/jackofhearts/game"
	"github.com/wfunc/jackofhearts/models"
)

// FloorPlayers is the smallest roster a game can start with, whatever
// Rules.MinPlayers says.
const FloorPlayers = 3

// Rules configures the game machine.
type Rules struct {
	MinPlayers     int
	VotingDuration time.Duration
	// Rand drives suit assignment. Nil uses a time-seeded source.
	Rand game.Rand
}

// PlayingState stamps the round start on entry.
type PlayingState struct {
	BaseState
}

func (s *PlayingState) OnEnter(g *models.Game, in Input) {
	g.RoundStartTime = in.Now
	g.VotingEndTime = time.Time{}
}

// VotingState owns the voting deadline: it exists only while voting.
type VotingState struct {
	BaseState
	Duration time.Duration
}

func (s *VotingState) OnEnter(g *models.Game, in Input) {
	g.VotingEndTime = in.Now.Add(s.Duration)
}

func (s *VotingState) OnExit(g *models.Game, in Input) {
	g.VotingEndTime = time.Time{}
}

// NewGameMachine builds the Jack of Hearts phase table:
//
//	lobby   --join/leave/remove_player--> lobby
//	lobby   --start-->                    playing
//	playing --start_voting-->             voting
//	voting  --vote-->                     voting
//	voting  --process_results-->          results | ended
//	results --continue-->                 playing
//	playing/voting/results --end-->       ended
//	ended   --reset-->                    (none)
func NewGameMachine(rules Rules) *Machine {
	r := rules.Rand
	if r == nil {
		r = game.NewRand(time.Now().UnixNano())
	}
	minPlayers := rules.MinPlayers
	if minPlayers < FloorPlayers {
		minPlayers = FloorPlayers
	}

	m := NewMachine()
	m.AddState(&BaseState{ID: models.PhaseLobby})
	m.AddState(&PlayingState{BaseState{ID: models.PhasePlaying}})
	m.AddState(&VotingState{BaseState: BaseState{ID: models.PhaseVoting}, Duration: rules.VotingDuration})
	m.AddState(&BaseState{ID: models.PhaseResults})
	m.AddState(&BaseState{ID: models.PhaseEnded})

	transitions := []Transition{
		{From: models.PhaseLobby, Event: EventJoin, To: models.PhaseLobby},
		{From: models.PhaseLobby, Event: EventLeave, To: models.PhaseLobby},
		{From: models.PhaseLobby, Event: EventRemovePlayer, To: models.PhaseLobby, Guards: []Guard{HostOnly}},
		{
			From:   models.PhaseLobby,
			Event:  EventStart,
			To:     models.PhasePlaying,
			Guards: []Guard{HostOnly, MinPlayers(minPlayers)},
			Action: func(g *models.Game, in Input) error {
				game.AssignSuits(r, g.Players)
				g.CurrentRound = 1
				g.Winner = models.WinnerNone
				return nil
			},
		},
		{From: models.PhasePlaying, Event: EventStartVoting, To: models.PhaseVoting, Guards: []Guard{HostOnly}},
		{From: models.PhaseVoting, Event: EventVote, To: models.PhaseVoting},
		{
			From:   models.PhaseVoting,
			Event:  EventProcessResults,
			To:     models.PhaseResults,
			Guards: []Guard{HostOnly},
			Action: func(g *models.Game, in Input) error {
				result := game.ResolveRound(g.CurrentRound, g.Players)
				g.RoundResults = append(g.RoundResults, result)
				if out := game.EvaluateWin(g.Players); out.Ended {
					g.Winner = out.Winner
				}
				return nil
			},
			Route: func(g *models.Game) models.Phase {
				if g.Winner != models.WinnerNone {
					return models.PhaseEnded
				}
				return models.PhaseResults
			},
		},
		{
			From:   models.PhaseResults,
			Event:  EventContinue,
			To:     models.PhasePlaying,
			Guards: []Guard{HostOnly},
			Action: func(g *models.Game, in Input) error {
				g.CurrentRound++
				return nil
			},
		},
		{From: models.PhaseEnded, Event: EventReset, To: PhaseNone, Guards: []Guard{HostOnly}},
	}
	for _, from := range []models.Phase{models.PhasePlaying, models.PhaseVoting, models.PhaseResults} {
		transitions = append(transitions, Transition{
			From:   from,
			Event:  EventEnd,
			To:     models.PhaseEnded,
			Guards: []Guard{HostOnly},
			Action: func(g *models.Game, in Input) error {
				g.Winner = game.ForcedWinner(g.Players, in.Winner)
				return nil
			},
		})
	}

	for _, t := range transitions {
		if err := m.AddTransition(t); err != nil {
			panic(err)
		}
	}
	return m
}
