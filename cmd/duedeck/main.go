package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conorfennell/duedeck/internal/config"
	"github.com/conorfennell/duedeck/internal/docstore"
	"github.com/conorfennell/duedeck/internal/recurring"
	"github.com/conorfennell/duedeck/internal/storage"
	"github.com/conorfennell/duedeck/internal/syllabus"
	"github.com/conorfennell/duedeck/internal/sync"
	"github.com/conorfennell/duedeck/internal/vault"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	if cerr := a.close(); cerr != nil {
		slog.Error("Failed to close database", "error", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// app is everything a command needs, opened once per invocation.
type app struct {
	cfg     *config.Config
	db      *storage.DB
	docs    docstore.Store
	syncer  *sync.Syncer
	syllabi *syllabus.Service
	rules   *recurring.Service
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "duedeck",
		Short:        "Keep a student's deadlines in sync with the LMS, the grading platform and their syllabi",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
				return nil
			}
			return a.open(cmd.Context(), cmd)
		},
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		serveCmd(a),
		userCmd(a),
		connectCmd(a),
		disconnectCmd(a),
		syncCmd(a),
		coursesCmd(a),
		assignmentsCmd(a),
		syllabusCmd(a),
		ruleCmd(a),
	)
	return rootCmd
}

func (a *app) open(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	setupLogging(cfg.Log.Level, cfg.Log.Format)

	v, err := vault.New(cfg.Vault.MasterKey)
	if err != nil {
		return err
	}

	a.db, err = storage.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	slog.Debug("Database opened", "path", cfg.DB.Path)

	a.docs, err = openDocstore(ctx, cfg)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	a.syncer = sync.New(a.db, v, sync.Options{
		LMSBaseURL:       cfg.LMS.BaseURL,
		LMSService:       cfg.LMS.Service,
		GradingBaseURL:   cfg.Grading.BaseURL,
		GradingUserAgent: cfg.Grading.UserAgent,
		HTTPClient:       httpClient,
		Location:         cfg.Location(),
		Concurrency:      cfg.Sync.Concurrency,
	})
	extractor := syllabus.NewMessagesExtractor(cfg.Extract.BaseURL, cfg.Extract.APIKey, cfg.Extract.Model, cfg.Extract.MaxTokens, nil)
	a.syllabi = syllabus.NewService(a.db, a.docs, extractor)
	a.rules = recurring.NewService(a.db)
	return nil
}

func openDocstore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	if cfg.Docstore.Backend == "b2" {
		b, err := docstore.OpenB2(ctx, cfg.Docstore.B2.AccountID, cfg.Docstore.B2.AppKey, cfg.Docstore.B2.Bucket)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := docstore.OpenBolt(cfg.Docstore.BoltPath)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (a *app) close() error {
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			slog.Warn("Failed to close document store", "error", err)
		}
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func setupLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// printJSON writes v to the command's output, indented.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	return nil
}
