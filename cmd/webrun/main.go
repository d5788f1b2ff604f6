package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/averender/webrun/internal/browser"
	"github.com/averender/webrun/internal/config"
	"github.com/averender/webrun/internal/executor"
	"github.com/averender/webrun/internal/logging"
)

var (
	headless bool
	width    int
	height   int
	logLevel string
	logFile  string
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "webrun <config>",
		Short: "Run a declarative browser automation script",
		Long: `webrun executes a declarative script (JSON or YAML) against a live
browser: navigate, click, type, wait, scrape, screenshot, repeat and crawl
steps, writing scraped data and screenshots to disk.

Example:
  webrun scrape-news.json`,
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser headless (overrides the config when set)")
	rootCmd.Flags().IntVar(&width, "width", 1280, "Viewport width")
	rootCmd.Flags().IntVar(&height, "height", 720, "Viewport height")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{Level: logLevel, File: logFile})
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	runHeadless := cfg.IsHeadless()
	if cmd.Flags().Changed("headless") {
		runHeadless = headless
	}

	ctx := context.Background()

	fmt.Printf("→ Starting browser... ")
	sess, err := browser.NewSession(browser.Options{
		Headless: runHeadless,
		Width:    width,
		Height:   height,
	}, logger)
	if err != nil {
		fmt.Println("failed")
		return err
	}
	fmt.Println("done")

	pool := browser.NewPool(cfg.MaxPages, func(ctx context.Context) (browser.Page, error) {
		return sess.NewPage(ctx, "")
	})

	fmt.Printf("→ Opening %s... ", cfg.URL)
	page, err := sess.NewPage(ctx, cfg.URL)
	if err != nil {
		fmt.Println("failed")
		_ = sess.Close()
		return err
	}
	fmt.Println("done")

	exec := executor.New(pool, logger, executor.Options{
		Timeout:           cfg.Timeout(),
		NavigationTimeout: cfg.NavigationTimeout(),
	})

	fmt.Printf("→ Running %d steps...\n", len(cfg.Steps))
	runErr := exec.Run(ctx, page, cfg.Steps, 0)

	if err := pool.Close(); err != nil {
		logger.Warn("closing page pool", zap.Error(err))
	}
	<-sess.CloseAfter(cfg.KeepOpenAfter.After)

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	fmt.Println("✓ Done")
	return nil
}
