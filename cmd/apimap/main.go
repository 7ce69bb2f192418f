package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	apperrors "github.com/PentesterFlow/apimap/internal/errors"
	"github.com/PentesterFlow/apimap/internal/logger"
	"github.com/PentesterFlow/apimap/internal/shutdown"
	"github.com/PentesterFlow/apimap/pkg/coverage"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool

	// Input flags
	serviceDir string
	apiList    string

	// Output flags
	markdownOutput string
	jsonOutput     string

	// Scan flags
	threads    int
	radius     int
	pathPrefix string
	cacheFile  string

	// Display flags
	profile    bool
	noProgress bool
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	defaults := coverage.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "apimap",
		Short: "apimap - API coverage mapper",
		Long: `apimap - Map the endpoints an SDK source tree builds against a canonical API list.

Scans the service tree for URL path templates, infers the HTTP method of each,
matches them against the canonical list and writes Markdown and JSON reports
of matched, missing and orphaned endpoints.`,
		Version:       version,
		Args:          cobra.NoArgs,
		RunE:          runMap,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	checkCmd := &cobra.Command{
		Use:   "check-list [path]",
		Short: "Validate a canonical API list",
		Long:  "Load a canonical API list (CSV or OpenAPI) and report duplicates or malformed rows without scanning.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheckList,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output, including dropped call sites")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().StringVar(&apiList, "api-list", envString("APIMAP_API_LIST", defaults.APIList), "Canonical API list (CSV or OpenAPI)")

	// Input flags
	rootCmd.Flags().StringVar(&serviceDir, "service-dir", envString("APIMAP_SERVICE_DIR", defaults.ServiceDir), "Root of the source tree to scan")

	// Output flags
	rootCmd.Flags().StringVar(&markdownOutput, "markdown-output", defaults.Output.Markdown, "Markdown report path (empty to skip)")
	rootCmd.Flags().StringVar(&jsonOutput, "json-output", defaults.Output.JSON, "JSON report path (empty to skip)")

	// Scan flags
	rootCmd.Flags().IntVarP(&threads, "threads", "t", envInt("APIMAP_THREADS", defaults.Scan.Threads), "Worker pool size (0 = all cores)")
	rootCmd.Flags().IntVar(&radius, "radius", defaults.Inference.Radius, "Lines examined around a call site for method inference")
	rootCmd.Flags().StringVar(&pathPrefix, "path-prefix", "", "Only report definitions under this path prefix")
	rootCmd.Flags().StringVar(&cacheFile, "cache", "", "Extraction cache database (reused across runs)")

	// Display flags
	rootCmd.Flags().BoolVar(&profile, "profile", false, "Print timing and throughput statistics")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress line")

	initCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a starter configuration file",
		Long:  "Write the default configuration to path (YAML, or JSON for a .json path) for use with --config. Existing files are not overwritten.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInitConfig,
	}

	rootCmd.AddCommand(checkCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func runMap(cmd *cobra.Command, args []string) error {
	config := coverage.DefaultConfig()
	if configFile != "" {
		fileConfig, err := coverage.LoadFromFile(configFile)
		if err != nil {
			return err
		}
		config = fileConfig
	}

	// A config file replaces the flag defaults; explicit flags still win
	flags := cmd.Flags()
	apply := func(name string) bool {
		return configFile == "" || flags.Changed(name)
	}

	if apply("service-dir") {
		config.ServiceDir = serviceDir
	}
	if apply("api-list") {
		config.APIList = apiList
	}
	if apply("markdown-output") {
		config.Output.Markdown = markdownOutput
	}
	if apply("json-output") {
		config.Output.JSON = jsonOutput
	}
	if apply("threads") {
		config.Scan.Threads = threads
	}
	if apply("radius") {
		config.Inference.Radius = radius
	}
	if apply("path-prefix") {
		config.Scan.PathPrefix = pathPrefix
	}
	if apply("cache") {
		config.Scan.CacheFile = cacheFile
	}
	if apply("profile") {
		config.Profile = profile
	}
	if apply("verbose") {
		config.Verbose = verbose
	}
	if apply("debug") {
		config.Debug = debug
	}

	// The progress line and verbose logs share stderr
	enableProgress := !noProgress && !config.Verbose && !config.Debug && logger.StderrIsTerminal()

	p, err := coverage.New(
		coverage.WithConfig(config),
		coverage.WithProgress(enableProgress),
		coverage.WithStatusOutput(os.Stderr),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	// Setup signal handling
	runDone := make(chan struct{})
	h := shutdown.New(shutdown.Config{
		Timeout: 5 * time.Second,
		OnShutdownStart: func() {
			fmt.Fprintf(os.Stderr, "\nReceived interrupt signal, stopping...\n")
		},
		OnShutdownDone: func(elapsed time.Duration, errs []error) {
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
			}
			if len(errs) > 0 {
				os.Exit(1)
			}
		},
	})
	defer h.Close()

	// Wait for the pipeline to unwind so the extraction cache is closed
	h.Register("pipeline", func(ctx context.Context) error {
		select {
		case <-runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	_, err = p.Run(h.Context())
	close(runDone)
	if h.IsShuttingDown() {
		<-h.Done()
	}
	return err
}

func runCheckList(cmd *cobra.Command, args []string) error {
	path := apiList
	if len(args) == 1 {
		path = args[0]
	}

	index, err := coverage.CheckList(path)
	if apperrors.IsLoadError(err) {
		fmt.Printf("%s: invalid canonical list\n", path)
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d canonical endpoints, no duplicates\n", index.Source(), index.Len())
	return nil
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := "apimap.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	config := coverage.DefaultConfig()
	config.APIList = apiList
	if err := coverage.InitConfig(path, config); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ignoring %s=%q: not an integer\n", key, v)
		return fallback
	}
	return n
}
