package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chartlens-server-go/internal/app/services"
	domainimage "chartlens-server-go/internal/domain/image"
	"chartlens-server-go/internal/domain/verdict"
	"chartlens-server-go/internal/domain/verdict/store"
	"chartlens-server-go/internal/platform/config"
	"chartlens-server-go/internal/platform/logging"
)

// errNotAllAccepted makes the process exit 1 after the report is printed.
var errNotAllAccepted = errors.New("one or more images were not accepted")

// report is one line of CLI output.
type report struct {
	Input   string           `json:"input"`
	Verdict *verdict.Verdict `json:"verdict,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type validateOptions struct {
	configPath  string
	timeout     time.Duration
	concurrency int
	pretty      bool
	verbose     bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "chartcheck",
		Short:         "Check whether images look like candlestick chart screenshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.AddCommand(newValidateCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	opts := validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <file|url>...",
		Short: "Validate images and print their verdicts as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config file (defaults to CHARTLENS_CONFIG or ./config.yaml)")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", time.Minute, "Overall timeout")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "j", 4, "Images checked in parallel")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Indent JSON output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline details to stderr")
	return cmd
}

func runValidate(ctx context.Context, out, errOut io.Writer, opts validateOptions, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	loader := config.NewLoader()
	if opts.configPath != "" {
		if _, err := os.Stat(opts.configPath); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		loader = loader.WithPaths(opts.configPath).WithEnv(withoutConfigEnv)
	}
	res, err := loader.Load()
	if err != nil {
		return err
	}
	cfg := res.Config

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Console: errOut})
	if err != nil {
		return err
	}
	defer logger.Close()

	svc, closeSvc, err := newCLIService(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSvc()

	reports := make([]report, len(args))
	var g errgroup.Group
	g.SetLimit(max(opts.concurrency, 1))
	for i, arg := range args {
		i, arg := i, arg
		g.Go(func() error {
			reports[i] = checkOne(ctx, svc, arg)
			return nil
		})
	}
	_ = g.Wait()

	if err := writeReports(out, reports, opts.pretty); err != nil {
		return err
	}

	for _, r := range reports {
		if r.Error != "" || r.Verdict == nil || !r.Verdict.Accepted {
			return errNotAllAccepted
		}
	}
	logger.DebugTag("CLI", "%d images accepted", len(reports))
	return nil
}

// newCLIService builds a chart check service backed by an in-memory store;
// the CLI never persists verdicts.
func newCLIService(cfg *config.Config, logger *logging.Logger) (*services.ChartCheckService, func(), error) {
	pipeline, err := domainimage.NewPipeline(domainimage.Options{
		Security: &cfg.Image.Security,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	fetcher := domainimage.NewFetcher(cfg.Image.FetchTimeout, cfg.Image.UserAgent)
	if cfg.Image.AllowPrivateFetch {
		fetcher.AllowPrivateNetworks()
	}

	verdicts := store.NewMemory(store.Config{TTL: cfg.Store.TTL})
	svc, err := services.NewChartCheckService(services.ChartCheckOptions{
		Pipeline: pipeline,
		Fetcher:  fetcher,
		Store:    verdicts,
		Logger:   logger,
		Config:   cfg.Chart,
	})
	if err != nil {
		_ = verdicts.Close(context.Background())
		return nil, nil, err
	}
	return svc, func() { _ = verdicts.Close(context.Background()) }, nil
}

func checkOne(ctx context.Context, svc *services.ChartCheckService, arg string) report {
	r := report{Input: arg}

	var (
		v   verdict.Verdict
		err error
	)
	if isURL(arg) {
		v, err = svc.CheckURL(ctx, arg)
	} else {
		var in domainimage.Input
		in, err = domainimage.FromFile(arg)
		if err == nil {
			v, err = svc.Check(ctx, in)
		}
	}

	if v.ID != "" {
		r.Verdict = &v
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// withoutConfigEnv keeps an explicit --config from being overridden by
// CHARTLENS_CONFIG.
func withoutConfigEnv(key string) (string, bool) {
	if key == config.EnvConfigPath {
		return "", false
	}
	return os.LookupEnv(key)
}

func isURL(arg string) bool {
	lower := strings.ToLower(arg)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func writeReports(out io.Writer, reports []report, pretty bool) error {
	var (
		payload []byte
		err     error
	)
	if pretty {
		payload, err = sonic.ConfigStd.MarshalIndent(reports, "", "  ")
	} else {
		payload, err = sonic.Marshal(reports)
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}
