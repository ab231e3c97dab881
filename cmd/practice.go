package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/tui"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/typing"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/wsclient"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	practiceServer     string
	practiceToken      string
	practiceDuration   time.Duration
	practiceDifficulty string
	practiceFile       string
)

func newPracticeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Run a timed typing test in the terminal",
		Args:  cobra.NoArgs,
		RunE:  runPracticeCmd,
	}
	cmd.Flags().StringVar(&practiceServer, "server", "", "websocket URL, e.g. ws://localhost:6001/v1/ws (offline when empty)")
	cmd.Flags().StringVar(&practiceToken, "token", os.Getenv("TYPESPRINT_TOKEN"), "JWT for the server")
	cmd.Flags().DurationVar(&practiceDuration, "duration", typing.DefaultDuration, "test length")
	cmd.Flags().StringVar(&practiceDifficulty, "difficulty", "beginner", "beginner, intermediate or advanced")
	cmd.Flags().StringVar(&practiceFile, "file", "", "read passages from a file, one per line")
	return cmd
}

func runPracticeCmd(cmd *cobra.Command, _ []string) error {
	passages, err := loadPassages()
	if err != nil {
		return err
	}

	var remote tui.Remote
	if practiceServer != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		client, err := wsclient.Dial(ctx, practiceServer, practiceToken, zerolog.Nop())
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer client.Close()
		if err := client.JoinLeaderboard(); err != nil {
			return fmt.Errorf("failed to join leaderboard: %w", err)
		}
		remote = client
	}

	engine := typing.NewEngine(typing.WithDuration(practiceDuration))
	model := tui.NewModel(engine, passages, remote, tui.WithDifficulty(practiceDifficulty))
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func loadPassages() ([]string, error) {
	if practiceFile == "" {
		return tui.Passages(practiceDifficulty)
	}
	data, err := os.ReadFile(practiceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read passages: %w", err)
	}
	passages := tui.ParsePassages(string(data))
	if len(passages) == 0 {
		return nil, fmt.Errorf("%s has no passages", practiceFile)
	}
	return passages, nil
}
