package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/project"
)

type jobFlags struct {
	maxURLs  int
	maxDepth int
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxURLs, "max-urls", 0, "URL budget per site (default from config)")
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", 0, "link depth per site (default from config)")
}

func (f *jobFlags) params(e *env, baseURL string, skipHarvest bool) crawler.JobParameters {
	params := crawler.JobParameters{
		BaseURL:     baseURL,
		MaxURLs:     e.cfg.Crawler.MaxURLs,
		MaxDepth:    e.cfg.Crawler.MaxDepth,
		SkipHarvest: skipHarvest,
	}
	if f.maxURLs > 0 {
		params.MaxURLs = f.maxURLs
	}
	if f.maxDepth > 0 {
		params.MaxDepth = f.maxDepth
	}
	return params
}

// newDiscoverCmd creates the 'discover' subcommand.
func newDiscoverCmd() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "discover <base-url>",
		Short: "Discover, rank and label a site's URLs without harvesting them",
		Long: `Walks the site's sitemaps and links breadth-first, scores every URL it finds,
and writes the labeled, priority-ordered list to the project's urls.csv.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.shutdown(cmd.Context())
			return runJobs(cmd, e, []crawler.JobParameters{flags.params(e, args[0], true)})
		},
	}
	flags.register(cmd)
	return cmd
}

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "harvest <base-url>",
		Short: "Discover a site and fold its useful pages into one company snapshot",
		Long: `Runs discovery (or resumes from an existing urls.csv), then fetches every
useful URL and streams each page through structured extraction. Progress is
checkpointed after every page; interrupting the command leaves a partial but
consistent snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.shutdown(cmd.Context())
			return runJobs(cmd, e, []crawler.JobParameters{flags.params(e, args[0], false)})
		},
	}
	flags.register(cmd)
	return cmd
}

// newBatchCmd creates the 'batch' subcommand.
func newBatchCmd() *cobra.Command {
	var (
		flags       jobFlags
		sitesFile   string
		skipHarvest bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Harvest every site listed in a CSV file",
		Long: `Reads a CSV with a url column (or a single headerless column) and runs one
job per site on the configured worker pool. Each site gets its own project
directory named after its host.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.shutdown(cmd.Context())
			sites, err := readSites(sitesFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(sites) == 0 {
				return errors.New("no http(s) sites found in input")
			}
			params := make([]crawler.JobParameters, 0, len(sites))
			for _, site := range sites {
				params = append(params, flags.params(e, site, skipHarvest))
			}
			return runJobs(cmd, e, params)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&sitesFile, "sites", "-", "CSV file listing sites, or - for stdin")
	cmd.Flags().BoolVar(&skipHarvest, "skip-harvest", false, "stop every job after discovery and labeling")
	return cmd
}

func readSites(path string, stdin io.Reader) ([]string, error) {
	if path == "" || path == "-" {
		sites, err := project.ReadSiteList(stdin)
		if err != nil {
			return nil, fmt.Errorf("read sites from stdin: %w", err)
		}
		return sites, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sites file: %w", err)
	}
	defer f.Close()
	sites, err := project.ReadSiteList(f)
	if err != nil {
		return nil, fmt.Errorf("read sites file %s: %w", path, err)
	}
	return sites, nil
}

// runJobs submits every job, waits for the pool to finish them and prints
// one JSON line per job. An interrupt cancels the jobs cooperatively, so
// each one still checkpoints what it has.
func runJobs(cmd *cobra.Command, e *env, params []crawler.JobParameters) error {
	base := cmd.Context()
	e.runtime.Start(base)

	ids := make([]string, 0, len(params))
	for _, p := range params {
		id, err := e.runtime.Submit(base, p)
		if err != nil {
			e.logger.Error("submit failed", zap.String("base_url", p.BaseURL), zap.Error(err))
			continue
		}
		e.logger.Info("job submitted", zap.String("job_id", id), zap.String("base_url", p.BaseURL))
		ids = append(ids, id)
	}

	sigCtx, stop := signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := e.runtime.Wait(sigCtx); err != nil {
		e.logger.Warn("interrupted, canceling jobs", zap.Int("jobs", len(ids)))
		e.runtime.Cancel(ids)
		if err := e.runtime.Wait(context.WithoutCancel(base)); err != nil {
			return fmt.Errorf("wait for canceled jobs: %w", err)
		}
	}

	return report(cmd.OutOrStdout(), e, ids, len(params))
}

func report(out io.Writer, e *env, ids []string, submitted int) error {
	enc := json.NewEncoder(out)
	failed := submitted - len(ids)
	for _, id := range ids {
		job, err := e.runtime.Job(context.Background(), id)
		if err != nil {
			e.logger.Error("job lookup failed", zap.String("job_id", id), zap.Error(err))
			failed++
			continue
		}
		if err := enc.Encode(job); err != nil {
			return fmt.Errorf("write job report: %w", err)
		}
		if job.Status != crawler.JobStatusSucceeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs did not succeed", failed, submitted)
	}
	return nil
}

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.shutdown(cmd.Context())
			if err := e.runtime.Run(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
