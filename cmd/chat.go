package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Abhi-Verma2005/oms-assistant/internal/app"
	"github.com/Abhi-Verma2005/oms-assistant/internal/config"
	"github.com/Abhi-Verma2005/oms-assistant/internal/ingest"
)

var (
	chatUserID  string
	chatNoLearn bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask a one-shot question grounded in remembered facts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUserID, "user", "", "user identifier owning the knowledge scope (required)")
	chatCmd.Flags().BoolVar(&chatNoLearn, "no-learn", false, "skip extracting facts from this turn")
	_ = chatCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	logger := initLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	question := strings.TrimSpace(strings.Join(args, " "))
	resp, err := a.Coordinator.Respond(ctx, chatUserID, question)
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	fmt.Println(resp.Answer)
	if resp.CacheHit {
		logger.Debug("served from semantic cache")
	}

	// One-shot processes exit immediately, so learn synchronously instead
	// of through the background queue.
	if a.Ingester != nil && !chatNoLearn {
		turn := ingest.Turn{
			UserID:        chatUserID,
			UserText:      question,
			AssistantText: resp.Answer,
		}
		if err := a.Ingester.Process(ctx, turn); err != nil {
			logger.Warn("learning from turn failed", "error", err)
		}
	}

	return nil
}
