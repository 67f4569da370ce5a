// Package game holds the pure rules of Jack of Hearts: suit assignment,
// round resolution and win evaluation. Nothing here performs I/O.
package game

import (
	"math/rand"
	"sync"

	"github.com/wfunc/jackofhearts/models"
)

// MinSuitRepetitions keeps the classic 16-card pool for small games.
const MinSuitRepetitions = 4

// Rand is the subset of *rand.Rand the assignment needs.
type Rand interface {
	Intn(n int) int
}

// lockedRand makes a *rand.Rand safe to share between games.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe Rand seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// SuitPool returns a pool of suits large enough that n players never wrap.
func SuitPool(n int) []models.Suit {
	reps := (n + len(models.Suits) - 1) / len(models.Suits)
	if reps < MinSuitRepetitions {
		reps = MinSuitRepetitions
	}
	pool := make([]models.Suit, 0, reps*len(models.Suits))
	for i := 0; i < reps; i++ {
		pool = append(pool, models.Suits[:]...)
	}
	return pool
}

// Shuffle is an in-place Fisher-Yates shuffle.
func Shuffle(r Rand, suits []models.Suit) {
	for i := len(suits) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		suits[i], suits[j] = suits[j], suits[i]
	}
}

// AssignSuits deals a suit to every player in roster order, picks exactly
// one jack uniformly at random, and resets every player to active with no
// vote. The jack's suit is dealt like anyone else's.
func AssignSuits(r Rand, players []*models.Player) {
	if len(players) == 0 {
		return
	}
	if r == nil {
		r = NewRand(rand.Int63())
	}

	pool := SuitPool(len(players))
	Shuffle(r, pool)
	jack := r.Intn(len(players))

	for i, p := range players {
		p.Suit = pool[i%len(pool)]
		p.IsJack = i == jack
		p.Status = models.StatusActive
		p.LastVote = models.SuitNone
		p.EliminatedRound = 0
	}
}
