package models

import "time"

// PlayerView is what one viewer may see of one player.
type PlayerView struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	IsHost          bool         `json:"is_host"`
	IsSelf          bool         `json:"is_self"`
	Status          PlayerStatus `json:"status"`
	HasVoted        bool         `json:"has_voted"`
	EliminatedRound int          `json:"eliminated_round,omitempty"`
	// Suit is empty when hidden from the viewer.
	Suit   Suit `json:"suit,omitempty"`
	IsJack bool `json:"is_jack,omitempty"`
	// Vote is only ever the viewer's own vote.
	Vote Suit `json:"vote,omitempty"`
}

// GameView is a per-player projection of a Game.
type GameView struct {
	Code           string        `json:"code"`
	Phase          Phase         `json:"phase"`
	CurrentRound   int           `json:"current_round"`
	RoundStartTime time.Time     `json:"round_start_time"`
	RoundEndTime   time.Time     `json:"round_end_time"`
	VotingEndTime  time.Time     `json:"voting_end_time"`
	Winner         Winner        `json:"winner,omitempty"`
	ViewerID       string        `json:"viewer_id"`
	Players        []PlayerView  `json:"players"`
	RoundResults   []RoundResult `json:"round_results"`
}

// Self returns the viewer's own entry, or nil.
func (v *GameView) Self() *PlayerView {
	for i := range v.Players {
		if v.Players[i].IsSelf {
			return &v.Players[i]
		}
	}
	return nil
}

// IsHost reports whether the viewer is the host.
func (v *GameView) IsHost() bool {
	self := v.Self()
	return self != nil && self.IsHost
}

// ViewFor projects g for viewerID. A player never sees their own suit, the
// host sees every other suit, and the jack stays hidden until the game ends,
// when everything is revealed.
func ViewFor(g *Game, viewerID string) *GameView {
	view := &GameView{
		Code:           g.Code,
		Phase:          g.Phase,
		CurrentRound:   g.CurrentRound,
		RoundStartTime: g.RoundStartTime,
		RoundEndTime:   g.RoundEndTime(),
		VotingEndTime:  g.VotingEndTime,
		Winner:         g.Winner,
		ViewerID:       viewerID,
		Players:        make([]PlayerView, 0, len(g.Players)),
		RoundResults:   g.Clone().RoundResults,
	}

	viewer := g.Player(viewerID)
	viewerIsHost := viewer != nil && viewer.IsHost
	revealed := g.Phase == PhaseEnded

	for _, p := range g.Players {
		pv := PlayerView{
			ID:              p.ID,
			Name:            p.Name,
			IsHost:          p.IsHost,
			IsSelf:          p.ID == viewerID,
			Status:          p.Status,
			HasVoted:        p.HasVoted(),
			EliminatedRound: p.EliminatedRound,
		}
		switch {
		case revealed:
			pv.Suit = p.Suit
			pv.IsJack = p.IsJack
		case p.Status == StatusEliminated:
			// 出局玩家的花色已在回合结果中公开
			pv.Suit = p.Suit
		case pv.IsSelf:
		case viewerIsHost:
			pv.Suit = p.Suit
		}
		if pv.IsSelf {
			pv.Vote = p.LastVote
		}
		view.Players = append(view.Players, pv)
	}
	return view
}
