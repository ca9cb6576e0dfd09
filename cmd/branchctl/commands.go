package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/branchpanel/internal/adapter/driving/http"
	"github.com/ericfisherdev/branchpanel/internal/application"
	"github.com/ericfisherdev/branchpanel/internal/bootstrap"
	"github.com/ericfisherdev/branchpanel/internal/config"
	"github.com/ericfisherdev/branchpanel/internal/domain/model"
)

type options struct {
	outputJSON bool
	verbose    bool
	filter     string
	sortKey    string
	staleDays  int
}

// session holds the services for one command invocation.
type session struct {
	cfg   *config.Config
	svcs  *bootstrap.Services
	close func() error
}

func openSession(ctx context.Context, opts *options) (*session, error) {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetLogLoggerLevel(level)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, closeStore := bootstrap.OpenStoreOrMemory(ctx, cfg)

	svcs, err := bootstrap.NewServices(cfg, store)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &session{cfg: cfg, svcs: svcs, close: closeStore}, nil
}

// withSession opens a session around fn and closes it afterwards.
func withSession(opts *options, fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer func() { _ = s.close() }()

		return fn(cmd, args, s)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "branchctl",
		Short: "Bitbucket branch overview",
		Long: `branchctl lists the repositories and branches of a Bitbucket workspace,
groups branches by contributor and flags stale ones.

Credentials and cache settings are read from BITBUCKET_* and BRANCHPANEL_*
environment variables or a .env file in the working directory.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log requests and cache activity")

	root.AddCommand(
		newReposCmd(opts),
		newBranchesCmd(opts),
		newStaleCmd(opts),
		newRefreshCmd(opts),
		newCacheCmd(opts),
	)

	return root
}

func newReposCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List repositories with their branch counts",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, _ []string, s *session) error {
			snap, err := s.svcs.Branches.Fetch(cmd.Context())
			if err != nil {
				return err
			}

			counts := snap.BranchCounts()
			repos := application.FilterRepositories(snap.Repositories, opts.filter)
			repos = application.SortRepositories(repos, counts, application.ParseRepoSortKey(opts.sortKey))

			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), repositoriesJSON(repos, counts))
			}
			renderRepositories(cmd.OutOrStdout(), repos, counts)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&opts.filter, "filter", "f", "", "only repositories whose name contains this text")
	cmd.Flags().StringVar(&opts.sortKey, "sort", string(application.SortByName), "sort order: name or branches")
	return cmd
}

func newBranchesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branches [repository]",
		Short: "List branches, grouped by contributor when a repository is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(opts, func(cmd *cobra.Command, args []string, s *session) error {
			ctx := cmd.Context()
			snap, err := s.svcs.Branches.Fetch(ctx)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				branches := application.SortBranches(application.FilterBranches(snap.FlatBranches(), opts.filter, true))
				stale := s.svcs.Staleness.StaleFlags(ctx, branches, s.cfg.StaleDays)
				if opts.outputJSON {
					return writeJSON(cmd.OutOrStdout(), httphandler.NewBranchResponses(branches, stale))
				}
				renderBranches(cmd.OutOrStdout(), branches, stale)
				return nil
			}

			repoBranches, ok := snap.Branches[args[0]]
			if !ok {
				return fmt.Errorf("repository %q not found in workspace %s", args[0], s.cfg.Workspace)
			}

			grouped := application.GroupByContributor(map[string][]model.Branch{
				args[0]: application.FilterBranches(repoBranches, opts.filter, false),
			})
			groups := application.ContributorGroups(grouped[args[0]])
			resp := make([]httphandler.ContributorGroupResponse, 0, len(groups))
			for _, g := range groups {
				stale := s.svcs.Staleness.StaleFlags(ctx, g.Branches, s.cfg.StaleDays)
				if opts.outputJSON {
					resp = append(resp, httphandler.NewContributorGroupResponse(g, stale))
					continue
				}
				renderContributor(cmd.OutOrStdout(), g, stale)
			}
			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&opts.filter, "filter", "f", "", "only branches whose name or author contains this text")
	return cmd
}

func newStaleCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List branches with no commit within the stale threshold",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, _ []string, s *session) error {
			ctx := cmd.Context()
			snap, err := s.svcs.Branches.Fetch(ctx)
			if err != nil {
				return err
			}

			days := s.cfg.StaleDays
			if opts.staleDays > 0 {
				days = opts.staleDays
			}

			all := application.SortBranches(snap.FlatBranches())
			flags := s.svcs.Staleness.StaleFlags(ctx, all, days)

			var stale []model.Branch
			var staleFlags []bool
			for i, b := range all {
				if flags[i] {
					stale = append(stale, b)
					staleFlags = append(staleFlags, true)
				}
			}

			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), httphandler.NewBranchResponses(stale, staleFlags))
			}
			renderBranches(cmd.OutOrStdout(), stale, nil)
			return nil
		}),
	}
	cmd.Flags().IntVar(&opts.staleDays, "days", 0, "stale threshold in days (default from BRANCHPANEL_STALE_DAYS)")
	return cmd
}

func newRefreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Clear the cache and reload everything from Bitbucket",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(cmd *cobra.Command, _ []string, s *session) error {
			snap, err := s.svcs.Branches.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), refreshJSON(snap, s.svcs.Client.RateLimitStatus()))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d repositories and %d branches\n",
				len(snap.Repositories), len(snap.FlatBranches()))
			renderRateLimit(cmd.OutOrStdout(), s.svcs.Client.RateLimitStatus())
			return nil
		}),
	}
}

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached entry of the workspace",
			Args:  cobra.NoArgs,
			RunE: withSession(opts, func(cmd *cobra.Command, _ []string, s *session) error {
				n := s.svcs.Cache.ClearAll(cmd.Context(), application.CachePrefix(s.cfg.Workspace))
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Remove expired cache entries of the workspace",
			Args:  cobra.NoArgs,
			RunE: withSession(opts, func(cmd *cobra.Command, _ []string, s *session) error {
				n := s.svcs.Cache.ClearExpired(cmd.Context(), application.CachePrefix(s.cfg.Workspace))
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired cache entries\n", n)
				return nil
			}),
		},
	)
	return cmd
}

// refreshOutput is the --json shape of the refresh command.
type refreshOutput struct {
	httphandler.RefreshResponse
	RateLimit httphandler.RateLimitResponse `json:"rate_limit"`
}

func refreshJSON(snap *application.Snapshot, info model.RateLimitInfo) refreshOutput {
	return refreshOutput{
		RefreshResponse: httphandler.RefreshResponse{
			Repositories: len(snap.Repositories),
			Branches:     len(snap.FlatBranches()),
			FetchedAt:    snap.FetchedAt.UTC().Format(time.RFC3339),
		},
		RateLimit: httphandler.NewRateLimitResponse(info),
	}
}

func repositoriesJSON(repos []model.Repository, counts map[string]int) []httphandler.RepositoryResponse {
	resp := make([]httphandler.RepositoryResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, httphandler.NewRepositoryResponse(repo, counts[repo.Name]))
	}
	return resp
}

// writeJSON prints v with the same field names the HTTP API uses.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
