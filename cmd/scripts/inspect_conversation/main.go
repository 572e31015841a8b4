package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/turnrelay/internal/chat"
	"github.com/wuwenbin0122/turnrelay/internal/db"
	"github.com/wuwenbin0122/turnrelay/internal/models"
	"github.com/wuwenbin0122/turnrelay/internal/utils"
)

var (
	limit    int
	memories int
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "inspect_conversation <conversation-id>",
		Short: "Print what the relay would see for a conversation's next turn",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.Flags().IntVar(&limit, "limit", chat.DefaultHistoryLimit, "number of recent messages to show")
	root.Flags().IntVar(&memories, "memories", chat.DefaultMemoryLimit, "number of memory facts to show")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := utils.ReadConfig()
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	conversationID := args[0]
	conv, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "conversation: %s\nowner: %s\ntitle: %q\ncreated: %s\n\n", conv.ID, conv.UserID, conv.Title, conv.CreatedAt.Format(time.RFC3339))

	summary, err := store.GetSummary(ctx, conversationID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		fmt.Fprintln(out, "summary: (none)")
	case err != nil:
		return fmt.Errorf("load summary: %w", err)
	default:
		fmt.Fprintf(out, "summary (updated %s):\n%s\n", summary.UpdatedAt.Format(time.RFC3339), summary.Summary)
	}

	pref, err := store.GetPreference(ctx, conv.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("load preferences: %w", err)
	}
	facts, err := store.RecentMemories(ctx, conv.UserID, memories)
	if err != nil {
		return fmt.Errorf("load memories: %w", err)
	}
	uc := &models.UserContext{Memories: facts}
	if !pref.Empty() {
		uc.Preference = pref
	}
	if block := chat.FormatRuntimeFacts(uc); block != "" {
		fmt.Fprintf(out, "\nruntime facts:\n%s\n", block)
	} else {
		fmt.Fprintln(out, "\nruntime facts: (none)")
	}

	recent, err := store.RecentMessages(ctx, conversationID, limit)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	fmt.Fprintf(out, "\nlast %d messages (oldest first):\n", len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		msg := recent[i]
		fmt.Fprintf(out, "- [%s] %-9s %s\n", msg.CreatedAt.Format(time.RFC3339), msg.Role, msg.Content)
	}

	return nil
}

func openStore(ctx context.Context, cfg *utils.Config) (chat.Store, func(), error) {
	switch cfg.Store.Driver {
	case utils.StoreDriverMongo:
		mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		return mongoStore, func() { _ = mongoStore.Close(context.Background()) }, nil
	case utils.StoreDriverPostgres:
		postgres, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return postgres, postgres.Close, nil
	default:
		return nil, nil, fmt.Errorf("store driver %q cannot be inspected", cfg.Store.Driver)
	}
}
