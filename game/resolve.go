package game

import "github.com/wfunc/jackofhearts/models"

// ResolveRound checks every active player's vote against their suit.
// Missing or wrong votes eliminate the player in round; correct voters stay
// active with their vote cleared. Non-active players are untouched.
func ResolveRound(round int, players []*models.Player) models.RoundResult {
	result := models.RoundResult{
		Round:        round,
		Eliminations: []models.Elimination{},
		Survivors:    []models.Survivor{},
	}

	for _, p := range players {
		if p.Status != models.StatusActive {
			continue
		}

		if p.HasVoted() && p.LastVote == p.Suit {
			p.LastVote = models.SuitNone
			result.Survivors = append(result.Survivors, models.Survivor{
				PlayerID:   p.ID,
				PlayerName: p.Name,
			})
			continue
		}

		result.Eliminations = append(result.Eliminations, models.Elimination{
			PlayerID:    p.ID,
			PlayerName:  p.Name,
			GuessedSuit: p.LastVote,
			ActualSuit:  p.Suit,
			Abstained:   !p.HasVoted(),
		})
		p.Status = models.StatusEliminated
		p.EliminatedRound = round
		p.LastVote = models.SuitNone
	}
	return result
}
