package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/jackofhearts/models"
)

// PhaseNone is the "no game" state reached by a reset.
const PhaseNone models.Phase = ""

// Event 状态机事件
type Event string

const (
	EventJoin           Event = "join"
	EventLeave          Event = "leave"
	EventRemovePlayer   Event = "remove_player"
	EventStart          Event = "start"
	EventStartVoting    Event = "start_voting"
	EventVote           Event = "vote"
	EventProcessResults Event = "process_results"
	EventContinue       Event = "continue"
	EventEnd            Event = "end"
	EventReset          Event = "reset"
)

var (
	// ErrTransitionNotAllowed is returned when the current phase has no
	// transition for the event.
	ErrTransitionNotAllowed = errors.New("state transition not allowed")
	ErrNotHost              = errors.New("only the host can do that")
	ErrNotEnoughPlayers     = errors.New("not enough players")
)

// Input carries who triggered an event and when.
type Input struct {
	Actor string
	Now   time.Time
	// Winner is only read by EventEnd.
	Winner models.Winner
}

type Guard func(g *models.Game, in Input) error

// Action mutates the aggregate while the transition is applied.
type Action func(g *models.Game, in Input) error

// State 阶段钩子
type State interface {
	GetID() models.Phase
	OnEnter(g *models.Game, in Input)
	OnExit(g *models.Game, in Input)
}

type Transition struct {
	From   models.Phase
	Event  Event
	To     models.Phase
	Guards []Guard
	Action Action
	// Route overrides To after Action has run.
	Route func(g *models.Game) models.Phase
}

func (t *Transition) target(g *models.Game) models.Phase {
	if t.Route != nil {
		return t.Route(g)
	}
	return t.To
}

// Machine is a transition table over game phases. It holds no game state;
// the same Machine serves every game.
type Machine struct {
	states      map[models.Phase]State
	transitions map[models.Phase]map[Event]*Transition // fromPhase -> event -> transition
	mutex       sync.RWMutex
}

func NewMachine() *Machine {
	return &Machine{
		states:      make(map[models.Phase]State),
		transitions: make(map[models.Phase]map[Event]*Transition),
	}
}

// AddState registers the hooks for a phase.
func (m *Machine) AddState(s State) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.states[s.GetID()] = s
}

func (m *Machine) AddTransition(t Transition) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if t.Event == "" {
		return errors.New("transition without event")
	}
	if _, exists := m.transitions[t.From]; !exists {
		m.transitions[t.From] = make(map[Event]*Transition)
	}
	if _, dup := m.transitions[t.From][t.Event]; dup {
		return fmt.Errorf("duplicate transition %s --%s-->", t.From, t.Event)
	}
	m.transitions[t.From][t.Event] = &t
	return nil
}

// Can reports whether phase has a transition for event, ignoring guards.
func (m *Machine) Can(phase models.Phase, event Event) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.transitions[phase][event]
	return ok
}

// Check finds the transition for event and runs its guards without changing
// anything.
func (m *Machine) Check(g *models.Game, event Event, in Input) (*Transition, error) {
	m.mutex.RLock()
	t, ok := m.transitions[g.Phase][event]
	m.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s --%s-->", ErrTransitionNotAllowed, g.Phase, event)
	}
	for _, guard := range t.Guards {
		if err := guard(g, in); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Fire checks and applies event to g. Exit and enter hooks only run when the
// phase actually changes. A failed guard leaves g untouched.
func (m *Machine) Fire(g *models.Game, event Event, in Input) (models.Phase, error) {
	t, err := m.Check(g, event, in)
	if err != nil {
		return g.Phase, err
	}

	from := g.Phase
	if t.Action != nil {
		if err := t.Action(g, in); err != nil {
			return from, err
		}
	}
	to := t.target(g)
	if to == from {
		return to, nil
	}

	m.mutex.RLock()
	exit, enter := m.states[from], m.states[to]
	m.mutex.RUnlock()

	if exit != nil {
		exit.OnExit(g, in)
	}
	g.Phase = to
	if enter != nil {
		enter.OnEnter(g, in)
	}
	return to, nil
}

// BaseState 阶段基础结构
type BaseState struct {
	ID models.Phase
}

func (s *BaseState) GetID() models.Phase {
	return s.ID
}

func (s *BaseState) OnEnter(g *models.Game, in Input) {
	// 默认实现
}

func (s *BaseState) OnExit(g *models.Game, in Input) {
	// 默认实现
}

// HostOnly rejects actors other than the game's host.
func HostOnly(g *models.Game, in Input) error {
	if in.Actor == "" || in.Actor != g.HostID {
		return ErrNotHost
	}
	return nil
}

// MinPlayers requires at least n players in the roster.
func MinPlayers(n int) Guard {
	return func(g *models.Game, in Input) error {
		if len(g.Players) < n {
			return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPlayers, len(g.Players), n)
		}
		return nil
	}
}
