// sol_vanity searches for Solana addresses matching a Base58 prefix and/or
// suffix, locally or through a remote execution tier.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"sol_vanity/internal/backend"
	"sol_vanity/internal/config"
	"sol_vanity/internal/estimate"
	"sol_vanity/internal/keygen"
	"sol_vanity/internal/logging"
	"sol_vanity/internal/pattern"
	"sol_vanity/internal/search"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridable at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagPrefix        string
	flagSuffix        string
	flagMnemonicWords int
	flagThreads       int
	flagBatchSize     int
	flagTier          string
	flagQueue         string
	flagImage         string
	flagJobName       string
	flagMaxWait       time.Duration
	flagPollInterval  time.Duration
	flagNoEstimate    bool
	flagSampleTime    time.Duration
	flagDebug         bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sol_vanity",
		Short: "Solana vanity address generator",
		Long: `Generates Solana keypairs until the Base58 address matches the requested
prefix and/or suffix. Work can run on local CPU threads or be handed to a
remote CPU or GPU tier.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Search until a matching address is found",
		RunE:  runSearch,
	}
	runCmd.Flags().StringVarP(&flagPrefix, "prefix", "p", "", "Base58 prefix the address must start with")
	runCmd.Flags().StringVarP(&flagSuffix, "suffix", "s", "", "Base58 suffix the address must end with")
	runCmd.Flags().IntVarP(&flagMnemonicWords, "mnemonic", "m", 0, "Derive from a BIP-39 mnemonic of 12 or 24 words (0 = raw keypair)")
	runCmd.Flags().IntVarP(&flagThreads, "threads", "t", runtime.NumCPU(), "Number of worker threads")
	runCmd.Flags().IntVarP(&flagBatchSize, "batch", "b", 0, "Attempts per batch (0 = backend default)")
	runCmd.Flags().StringVar(&flagTier, "tier", "local", "Execution tier: local, remote-cpu, gcp-gpu, aws-gpu")
	runCmd.Flags().StringVar(&flagQueue, "queue", "", "Remote queue name (overrides the environment default)")
	runCmd.Flags().StringVar(&flagImage, "image", "", "Remote container image (overrides the environment default)")
	runCmd.Flags().StringVar(&flagJobName, "job-name", "", "Remote job name (generated if empty)")
	runCmd.Flags().DurationVar(&flagMaxWait, "max-wait", 0, "Abandon the job after this long (0 = wait forever)")
	runCmd.Flags().DurationVar(&flagPollInterval, "poll-interval", 0, "How often to poll the backend (0 = tier default)")
	runCmd.Flags().BoolVar(&flagNoEstimate, "no-estimate", false, "Skip the pre-run duration estimate")
	runCmd.Flags().BoolVar(&flagDebug, "debug", false, "Verbose logging")

	estimateCmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate how long a pattern will take on this machine",
		RunE:  runEstimate,
	}
	estimateCmd.Flags().StringVarP(&flagPrefix, "prefix", "p", "", "Base58 prefix the address must start with")
	estimateCmd.Flags().StringVarP(&flagSuffix, "suffix", "s", "", "Base58 suffix the address must end with")
	estimateCmd.Flags().IntVarP(&flagMnemonicWords, "mnemonic", "m", 0, "Derive from a BIP-39 mnemonic of 12 or 24 words (0 = raw keypair)")
	estimateCmd.Flags().IntVarP(&flagThreads, "threads", "t", runtime.NumCPU(), "Number of worker threads")
	estimateCmd.Flags().DurationVar(&flagSampleTime, "sample", time.Second, "Calibration sample duration")
	estimateCmd.Flags().BoolVar(&flagDebug, "debug", false, "Verbose logging")

	alphabetCmd := &cobra.Command{
		Use:   "alphabet",
		Short: "Print the Base58 alphabet valid in patterns",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(pattern.Alphabet)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sol_vanity", version)
		},
	}

	rootCmd.AddCommand(runCmd, estimateCmd, alphabetCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildMode() (keygen.Mode, error) {
	if flagMnemonicWords == 0 {
		return keygen.Raw(), nil
	}
	return keygen.Mnemonic(flagMnemonicWords)
}

func parseTier(s string) (backend.Tier, error) {
	switch strings.ToLower(s) {
	case "local", "":
		return backend.TierLocal, nil
	case "remote-cpu":
		return backend.TierRemoteCPU, nil
	case "gcp-gpu":
		return backend.TierRemoteGPUGCP, nil
	case "aws-gpu":
		return backend.TierRemoteGPUAWS, nil
	default:
		return "", fmt.Errorf("unknown tier %q (want local, remote-cpu, gcp-gpu or aws-gpu)", s)
	}
}

// buildBackends always includes the local tier; remote tiers join when the
// environment configures them.
func buildBackends(cfg *config.AppConfig, log *zap.SugaredLogger) []backend.Backend {
	backends := []backend.Backend{backend.NewLocal(log)}
	if cfg.Redis != nil {
		backends = append(backends, backend.NewRedisCPU(cfg.Redis.RedisOptions(), log))
	}
	if cfg.GCPBatch != nil {
		backends = append(backends, backend.NewGCPBatch(cfg.GCPBatch.GCPOptions(), log))
	}
	if cfg.AWSBatch != nil {
		backends = append(backends, backend.NewAWSBatch(cfg.AWSBatch.AWSOptions(), log))
	}
	return backends
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log, err := logging.New(flagDebug || cfg.DebugMode)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	spec, err := pattern.New(flagPrefix, flagSuffix)
	if err != nil {
		return err
	}
	mode, err := buildMode()
	if err != nil {
		return err
	}
	tier, err := parseTier(flagTier)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := search.NewCoordinator(log, buildBackends(cfg, log)...)

	if !flagNoEstimate && tier == backend.TierLocal {
		printEstimate(ctx, coord, mode, spec.Len(), flagThreads, time.Second)
	}

	fmt.Printf("Searching for %s on %s (%d threads, %s)\n",
		spec, tier, flagThreads, mode)

	// Ticks carry per-batch attempt counts; accumulate here and print a
	// throughput line at most once a second so local runs stay readable.
	var totalAttempts, lastReport atomic.Int64
	onProgress := func(p backend.Progress) {
		total := totalAttempts.Add(p.Attempts)
		now := time.Now().UnixMilli()
		last := lastReport.Load()
		if now-last < 1000 || !lastReport.CompareAndSwap(last, now) {
			return
		}
		if secs := p.TotalElapsed.Seconds(); secs > 0 {
			fmt.Printf("\r%d attempts, %.0f addr/s, %s elapsed ",
				total, float64(total)/secs, p.TotalElapsed.Round(time.Second))
		}
	}

	start := time.Now()
	res, err := coord.Run(ctx, search.Request{
		Pattern:   spec,
		Mode:      mode,
		Threads:   flagThreads,
		BatchSize: flagBatchSize,
		Tier:      tier,
		TierParams: backend.TierParams{
			JobName:        flagJobName,
			QueueName:      flagQueue,
			ContainerImage: flagImage,
		},
		PollInterval: flagPollInterval,
		MaxWait:      flagMaxWait,
	}, onProgress)
	fmt.Println()

	switch {
	case errors.Is(err, search.ErrCancelled):
		fmt.Println("Search cancelled.")
		return nil
	case errors.Is(err, search.ErrRemoteTimeout):
		return fmt.Errorf("gave up after %s; the remote job was asked to cancel", flagMaxWait)
	case err != nil:
		return err
	}

	printResult(res, time.Since(start))
	return nil
}

// printResult writes the match to stdout. Secrets are deliberately printed
// here and nowhere else; the structured log never sees them.
func printResult(res *backend.Result, wall time.Duration) {
	fmt.Println("Match found!")
	fmt.Printf("  Address:     %s\n", res.Matched.Address)
	fmt.Printf("  Private key: %s\n", res.Matched.SecretBase58())
	if res.Matched.Mnemonic != "" {
		fmt.Printf("  Mnemonic:    %s\n", res.Matched.Mnemonic)
	}
	fmt.Printf("  Attempts:    %d in %d batches\n", res.AttemptsProcessed, res.BatchesProcessed)
	elapsed := res.Elapsed
	if elapsed <= 0 {
		elapsed = wall
	}
	fmt.Printf("  Elapsed:     %s", estimate.FormatDuration(elapsed))
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf(" (%.0f addr/s)", float64(res.AttemptsProcessed)/secs)
	}
	fmt.Println()
}

func printEstimate(ctx context.Context, coord *search.Coordinator, mode keygen.Mode, patternLen, threads int, sampleTime time.Duration) {
	sample, err := coord.Calibrate(ctx, mode, threads, sampleTime)
	if err != nil {
		fmt.Printf("Calibration skipped: %v\n", err)
		return
	}
	est, err := sample.For(patternLen)
	if err != nil {
		return
	}
	fmt.Printf("Measured ~%.0f addr/s across %d threads.\n", sample.Throughput(), threads)
	fmt.Printf("Estimated time to match: best %s, average %s, worst %s\n",
		estimate.FormatDuration(est.BestCase),
		estimate.FormatDuration(est.AverageCase),
		estimate.FormatDuration(est.WorstCase))
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log, err := logging.New(flagDebug || cfg.DebugMode)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	spec, err := pattern.New(flagPrefix, flagSuffix)
	if err != nil {
		return err
	}
	mode, err := buildMode()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := search.NewCoordinator(log, backend.NewLocal(log))
	fmt.Printf("Calibrating %s generation for %s...\n", mode, flagSampleTime)
	printEstimate(ctx, coord, mode, spec.Len(), flagThreads, flagSampleTime)
	return nil
}
