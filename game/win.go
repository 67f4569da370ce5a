package game

import "github.com/wfunc/jackofhearts/models"

// Outcome of a win evaluation.
type Outcome struct {
	Ended  bool
	Winner models.Winner
}

// EvaluateWin inspects the roster after a round has been resolved. Rule
// order matters: an eliminated jack always means the players win.
func EvaluateWin(players []*models.Player) Outcome {
	var jack *models.Player
	active := 0
	var lastActive *models.Player
	for _, p := range players {
		if p.IsJack {
			jack = p
		}
		if p.Status == models.StatusActive {
			active++
			lastActive = p
		}
	}

	switch {
	case jack != nil && jack.Status == models.StatusEliminated:
		return Outcome{Ended: true, Winner: models.WinnerPlayers}
	case active == 1 && lastActive.IsJack:
		return Outcome{Ended: true, Winner: models.WinnerJack}
	case active == 0:
		return Outcome{Ended: true, Winner: models.WinnerPlayers}
	}
	return Outcome{}
}

// ForcedWinner decides the winner of a host-terminated game.
func ForcedWinner(players []*models.Player, forced models.Winner) models.Winner {
	if forced != models.WinnerNone {
		return forced
	}
	if out := EvaluateWin(players); out.Ended {
		return out.Winner
	}
	return models.WinnerPlayers
}
