package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/wfunc/jackofhearts/client"
	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/session"
)

const usage = `commands:
  create <name>          host a new game
  join <code> <name>     join a lobby
  start                  start the game (host)
  voting                 open voting early (host)
  vote <suit>            guess your suit: hearts, diamonds, clubs, spades
  results                resolve the round (host)
  next                   continue to the next round (host)
  end [jack|players]     end the game (host)
  remove <player-id>     remove a player from the lobby (host)
  leave                  leave the game
  reset                  destroy an ended game (host) and leave
  show                   print the current game
  quit`

func main() {
	url := pflag.String("url", "ws://localhost:8080/ws", "game server websocket url")
	dir := pflag.String("dir", defaultDir(), "directory holding the client id and binding")
	level := pflag.String("log-level", "warn", "log level")
	pflag.Parse()

	logger.Init(*level, true)
	defer logger.Sync()

	clientID, err := loadClientID(filepath.Join(*dir, "client_id"))
	if err != nil {
		logger.Log.Fatalf("client id: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	remote, err := client.DialRemote(ctx, *url, clientID)
	cancel()
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	defer remote.Close()
	fmt.Printf("Connected to %s as %s\n", *url, clientID)

	ctrl := client.NewController(client.Options{
		Backend:  remote,
		Bindings: session.NewFileBindings(filepath.Join(*dir, "binding.json")),
		ClientID: clientID,
		OnChange: func(view *models.GameView) {
			if view == nil {
				fmt.Println("You are not in a game.")
				return
			}
			render(view)
		},
	})
	defer ctrl.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := ctrl.Restore(ctx); err != nil {
		fmt.Println("Could not restore your game:", ctrl.LastError())
	}
	cancel()
	if ctrl.View() == nil {
		fmt.Println(usage)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-interrupt:
			fmt.Println("Interrupt received, closing connection.")
			return
		case <-remote.Done():
			fmt.Println("Connection to the server was lost.")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctrl, strings.Fields(line)); quit {
				return
			}
		}
	}
}

// run executes one command line and reports whether to quit.
func run(ctrl *client.Controller, args []string) bool {
	if len(args) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch strings.ToLower(args[0]) {
	case "create":
		err = ctrl.CreateGame(ctx, strings.Join(args[1:], " "))
	case "join":
		if len(args) < 3 {
			fmt.Println("usage: join <code> <name>")
			return false
		}
		err = ctrl.JoinGame(ctx, args[1], strings.Join(args[2:], " "))
	case "start":
		err = ctrl.StartGame(ctx)
	case "voting":
		err = ctrl.StartVoting(ctx)
	case "vote":
		if len(args) < 2 {
			fmt.Println("usage: vote <suit>")
			return false
		}
		suit, perr := models.ParseSuit(args[1])
		if perr != nil {
			fmt.Println("Pick one of hearts, diamonds, clubs or spades.")
			return false
		}
		err = ctrl.SubmitVote(ctx, suit)
	case "results":
		err = ctrl.ProcessRoundResults(ctx)
	case "next":
		err = ctrl.ContinueToNextRound(ctx)
	case "end":
		var forced models.Winner
		if len(args) > 1 {
			forced = models.Winner(strings.ToLower(args[1]))
		}
		err = ctrl.EndGame(ctx, forced)
	case "remove":
		if len(args) < 2 {
			fmt.Println("usage: remove <player-id>")
			return false
		}
		err = ctrl.RemovePlayer(ctx, args[1])
	case "leave":
		err = ctrl.Leave(ctx)
	case "reset":
		err = ctrl.Reset(ctx)
	case "show":
		ctrl.Resume()
		if view := ctrl.View(); view != nil {
			render(view)
			printTimers(ctrl, view)
		} else {
			fmt.Println("You are not in a game.")
		}
	case "help":
		fmt.Println(usage)
	case "quit", "exit":
		return true
	default:
		fmt.Println("unknown command, type help")
	}
	if err != nil {
		fmt.Println("!", ctrl.LastError())
	}
	return false
}

func render(v *models.GameView) {
	fmt.Printf("\n== game %s | %s", v.Code, v.Phase)
	if v.CurrentRound > 0 {
		fmt.Printf(" | round %d", v.CurrentRound)
	}
	if v.Winner != models.WinnerNone {
		fmt.Printf(" | winner: %s", v.Winner)
	}
	fmt.Println(" ==")

	for _, p := range v.Players {
		var tags []string
		if p.IsSelf {
			tags = append(tags, "you")
		}
		if p.IsHost {
			tags = append(tags, "host")
		}
		if p.IsJack {
			tags = append(tags, "JACK")
		}
		if p.HasVoted {
			tags = append(tags, "voted")
		}
		suit := string(p.Suit)
		if suit == "" {
			suit = "?"
		}
		fmt.Printf("  %-8s %-16s %-10s %-10s %s\n", p.ID, p.Name, suit, p.Status, strings.Join(tags, ","))
	}

	if n := len(v.RoundResults); n > 0 {
		last := v.RoundResults[n-1]
		fmt.Printf("  round %d: %d eliminated, %d survived\n", last.Round, len(last.Eliminations), len(last.Survivors))
		for _, e := range last.Eliminations {
			guess := string(e.GuessedSuit)
			if e.Abstained {
				guess = "no vote"
			}
			fmt.Printf("    x %s guessed %s, was %s\n", e.PlayerName, guess, e.ActualSuit)
		}
	}
}

func printTimers(ctrl *client.Controller, v *models.GameView) {
	switch v.Phase {
	case models.PhasePlaying:
		fmt.Printf("  round ends in %s\n", ctrl.RoundTimer().Formatted())
	case models.PhaseVoting:
		fmt.Printf("  voting ends in %s\n", ctrl.VotingTimer().Formatted())
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jackofhearts"
	}
	return filepath.Join(home, ".jackofhearts")
}

// loadClientID reads the persisted client id, creating one on first run.
func loadClientID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
