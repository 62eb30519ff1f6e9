package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/chat"
	"github.com/jonathan/labelscan/internal/db/sqlite"
	"github.com/jonathan/labelscan/internal/observability"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask a question about a saved scan",
	Long: "Ask a question about a scan saved with `labelscan analyze --save`, or a general question " +
		"about your health profile when --scan-id is omitted. History is kept in the local database.",
	RunE: runChat,
}

var (
	chatScanID  string
	chatMessage string
	chatLang    string
	chatUser    string
	chatHistory bool
)

func init() {
	chatCmd.Flags().StringVar(&chatScanID, "scan-id", "", "ID of the scan to discuss (omit for a profile-level conversation)")
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Question to ask")
	chatCmd.Flags().StringVar(&chatLang, "lang", "", "Reply language (default: the scan's language)")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "User ID owning the scan (default: the local user)")
	chatCmd.Flags().BoolVar(&chatHistory, "history", false, "Print the conversation instead of sending a message")

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !chatHistory && chatMessage == "" {
		return fmt.Errorf("--message is required unless --history is set")
	}

	userID, err := parseUserID(chatUser)
	if err != nil {
		return err
	}
	var scanID *uuid.UUID
	if chatScanID != "" {
		id, err := uuid.Parse(chatScanID)
		if err != nil {
			return fmt.Errorf("invalid --scan-id %q: %w", chatScanID, err)
		}
		scanID = &id
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := sqlite.Open(cfg.Database.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if chatHistory {
		// History never calls the model, so no gateway is needed.
		svc := chat.NewService(chat.NewConversation(nil, store), store, store)
		turns, err := svc.History(ctx, userID, scanID)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Println("No messages yet.")
		}
		for _, turn := range turns {
			fmt.Printf("%s  %-9s %s\n", turn.CreatedAt.Local().Format("2006-01-02 15:04"), turn.Role, turn.Text)
		}
		return nil
	}

	gw, closers, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll(logger, closers)

	conv := chat.NewConversation(gw, store,
		chat.WithHistoryWindow(cfg.Analysis.HistoryWindow),
		chat.WithLogger(logger),
	)
	reply, err := chat.NewService(conv, store, store).Send(ctx, userID, scanID, chatMessage, chatLang)
	if err != nil {
		return err
	}

	observability.NewPrinter(os.Stdout).PrintChatReply(reply.Reply, reply.Confidence)
	return nil
}
