package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ghsum/internal/config"
	"ghsum/internal/git"
	"ghsum/internal/pipeline"
	"ghsum/internal/storage"
	"ghsum/internal/summarizer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	rootCmd = &cobra.Command{
		Use:   "ghsum",
		Short: "Refresh a README with summaries of a random SCP article and a random Wikipedia article",
		Long: `ghsum renders the README template with freshly generated summaries and patches
only the generated lines into the existing document, so hand edits elsewhere survive.
A channel whose content cannot be fetched or summarized keeps its previous text.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogger,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: runRefresh,
	}

	logger *zap.Logger

	configPath    string
	verbose       bool
	templatePath  string
	outputPath    string
	wikiURLsPath  string
	maxRetries    int
	model         string
	provider      string
	historyDBPath string
	reportPath    string
	commit        bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&historyDBPath, "history-db", "", "SQLite database recording run history")

	rootCmd.Flags().StringVarP(&templatePath, "template", "t", "", "README template with {{...}} placeholders")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Document to patch in place (omit to print the rendered template)")
	rootCmd.Flags().StringVarP(&wikiURLsPath, "wikipedia-urls", "w", "", "File with one Wikipedia article URL per line")
	rootCmd.Flags().IntVarP(&maxRetries, "max-retries", "r", 0, "Retries per fetch and per summary generation")
	rootCmd.Flags().StringVarP(&model, "model", "m", "", "Model name (defaults per provider)")
	rootCmd.Flags().StringVar(&provider, "provider", "", "Generator provider: gemini or openai")
	rootCmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON run report to this path")
	rootCmd.Flags().BoolVar(&commit, "commit", false, "git commit the updated document")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogger(cmd *cobra.Command, args []string) error {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = l
	return nil
}

// loadConfig reads the config file and environment, then applies the flags
// the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("template") {
		cfg.Document.Template = templatePath
	}
	if flags.Changed("output") {
		cfg.Document.Output = outputPath
	}
	if flags.Changed("wikipedia-urls") {
		cfg.Wikipedia.URLsFile = wikiURLsPath
	}
	if flags.Changed("max-retries") {
		cfg.Retry.MaxRetries = maxRetries
	}
	if flags.Changed("provider") {
		cfg.AI.Provider = provider
	}
	if flags.Changed("model") {
		cfg.AI.Model = model
	}
	if flags.Changed("history-db") {
		cfg.History.DBPath = historyDBPath
	}
	if flags.Changed("report") {
		cfg.Report = reportPath
	}
	if flags.Changed("commit") {
		cfg.Git.Commit = commit
	}
	return cfg, nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(withContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	channels, err := pipeline.BuildChannels(cfg)
	if err != nil {
		return err
	}

	gen, err := summarizer.NewGenerator(ctx, cfg.GeneratorOptions())
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	var history storage.RunStore
	if cfg.History.DBPath != "" {
		store, err := storage.NewSQLiteStore(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer store.Close()
		history = store
	}

	var committer pipeline.Committer
	if cfg.Git.Commit {
		if cfg.Document.Output == "" {
			logger.Warn("--commit has no effect without --output")
		} else {
			committer = git.New()
		}
	}

	refresh := pipeline.NewRefresh(cfg, gen, channels, history, committer, cmd.OutOrStdout(), logger)
	res, err := refresh.Run(ctx)
	if err != nil {
		return err
	}

	accepted := 0
	for _, o := range res.Outcomes {
		if o.Accepted() {
			accepted++
		}
	}
	logger.Info("Refresh finished",
		zap.String("run_id", res.RunID),
		zap.Int("accepted", accepted),
		zap.Int("channels", len(res.Outcomes)),
		zap.Bool("written", res.Written),
		zap.Bool("committed", res.Committed))
	return nil
}

func withContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
