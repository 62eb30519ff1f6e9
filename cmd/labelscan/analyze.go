package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jonathan/labelscan/internal/db/sqlite"
	"github.com/jonathan/labelscan/internal/observability"
	"github.com/jonathan/labelscan/internal/pipeline"
	"github.com/jonathan/labelscan/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze OCR text from a food label",
	Long: "Analyze OCR text from a food label against a health profile. The profile comes from " +
		"--allergy/--condition/--diet when given, otherwise from the local store. With --save the " +
		"scan is stored locally so it can be listed and discussed with `labelscan chat`.",
	RunE: runAnalyze,
}

var (
	analyzeInputFile  string
	analyzeTitle      string
	analyzeLanguage   string
	analyzeAllergies  []string
	analyzeConditions []string
	analyzeDiets      []string
	analyzeSave       bool
	analyzeJSON       bool
	analyzeUser       string
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeInputFile, "in", "i", "", "Path to the label text file, or - for stdin (required)")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "Product name; wins over the name read from the label")
	analyzeCmd.Flags().StringVar(&analyzeLanguage, "lang", "", "Language of the label and of the explanation (e.g. en, tr)")
	analyzeCmd.Flags().StringSliceVar(&analyzeAllergies, "allergy", nil, "Allergy to check for (repeatable)")
	analyzeCmd.Flags().StringSliceVar(&analyzeConditions, "condition", nil, "Chronic condition to check for (repeatable)")
	analyzeCmd.Flags().StringSliceVar(&analyzeDiets, "diet", nil, "Dietary preference to check for (repeatable)")
	analyzeCmd.Flags().BoolVar(&analyzeSave, "save", false, "Store the scan in the local SQLite database")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the scan as JSON instead of a summary")
	analyzeCmd.Flags().StringVar(&analyzeUser, "user", "", "User ID owning the scan (default: the local user)")

	_ = analyzeCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(analyzeCmd)
}

func readLabel(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read label text: %w", err)
	}
	return string(data), nil
}

func flagProfile() types.HealthProfile {
	return types.HealthProfile{
		Allergies:          analyzeAllergies,
		ChronicConditions:  analyzeConditions,
		DietaryPreferences: analyzeDiets,
	}.Normalized()
}

// progressPrinter writes stage messages to stderr in verbose mode.
func progressPrinter() pipeline.ProgressCallback {
	if !verbose {
		return nil
	}
	return func(event pipeline.ProgressEvent) {
		_, _ = fmt.Fprintf(os.Stderr, "[%s] %s\n", event.Step, event.Message)
	}
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	userID, err := parseUserID(analyzeUser)
	if err != nil {
		return err
	}
	rawText, err := readLabel(analyzeInputFile)
	if err != nil {
		return err
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

	gw, closers, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll(logger, closers)

	input := pipeline.AnalyzeInput{
		RawText:         rawText,
		ProductNameHint: analyzeTitle,
		LanguageHint:    analyzeLanguage,
	}
	profile := flagProfile()
	analyzer := pipeline.NewAnalyzer(gw, nil, logger)

	var scan *types.ScanResult
	if analyzeSave || profile.IsEmpty() {
		store, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if profile.IsEmpty() {
			if profile, err = store.GetProfile(ctx, userID); err != nil {
				return fmt.Errorf("failed to load health profile: %w", err)
			}
		}

		scan, err = analyzer.AnalyzeScan(ctx, input, profile, progressPrinter())
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}
		if analyzeSave {
			scan.UserID = userID
			if scan.ID, err = store.SaveScan(ctx, scan); err != nil {
				return fmt.Errorf("failed to save scan: %w", err)
			}
			logger.Info("scan saved", zap.String("scan_id", scan.ID.String()), zap.String("path", cfg.Database.SQLitePath))
		}
	} else {
		scan, err = analyzer.AnalyzeScan(ctx, input, profile, progressPrinter())
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}
	}

	if analyzeJSON {
		return printJSON(scan)
	}
	observability.NewPrinter(os.Stdout).PrintScan(scan)
	return nil
}
