package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/config"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/metrics"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/orchestrator"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prerender",
	Short: "Prerender - Commerce product page prerendering for AEM Edge Delivery",
	Long: `Prerender consumes the commerce event journal, renders product
detail pages for every configured locale, and drives the preview/publish
lifecycle through the AEM admin API.

Pages are content-hashed so unchanged products cost nothing, and products
removed from the catalog are unpublished and deleted automatically.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Prerender version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "YAML deployment file merged over env and defaults")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig resolves defaults, environment, the optional YAML file, and
// CLI overrides, then initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Resolve(nil)
	if err != nil {
		return nil, err
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogIngestorEndpoint != "",
	})
	return cfg, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one end-to-end invocation",
	Long: `Execute one poll: consume journal events, render changed product
pages, publish them, and unpublish pages for deleted products. Exits zero
when the run completes or is skipped because another invocation holds the
running lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		deps, cleanup, err := buildDeps(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.InvocationDeadline.Std())
		defer cancel()

		result := orchestrator.New(deps).Run(ctx)
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))

		if result.Status == types.RunStatusError {
			return fmt.Errorf("run failed: %s", result.Error)
		}
		return nil
	},
}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Run invocations on an interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		deps, cleanup, err := buildDeps(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if cfg.MetricsAddr != "" {
			metrics.Register()
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("metrics server failed", err)
				}
			}()
			defer srv.Close()
			fmt.Printf("✓ Metrics listening on %s\n", cfg.MetricsAddr)
		}

		fmt.Printf("Polling every %s. Press Ctrl+C to stop.\n", interval)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.InvocationDeadline.Std())
			result := orchestrator.New(deps).Run(ctx)
			cancel()
			if result.Status == types.RunStatusError {
				log.Error("run failed: " + result.Error)
			}

			select {
			case <-sigCh:
				fmt.Println("\nShutting down...")
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	loopCmd.Flags().Duration("interval", 3*time.Minute, "Delay between invocations")
}
