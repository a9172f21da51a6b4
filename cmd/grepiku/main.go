// Package main is the entry point for the grepiku service.
// Grepiku is an automated pull request review service driven by forge
// webhooks and an external LLM stage runner.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grepiku/grepiku/consts"
	"github.com/grepiku/grepiku/internal/api/router"
	"github.com/grepiku/grepiku/internal/check"
	"github.com/grepiku/grepiku/internal/codegraph"
	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/configfiles"
	"github.com/grepiku/grepiku/internal/contextpack"
	"github.com/grepiku/grepiku/internal/database"
	"github.com/grepiku/grepiku/internal/embedding"
	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/internal/forge/prurl"
	"github.com/grepiku/grepiku/internal/indexer"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/queue"
	"github.com/grepiku/grepiku/internal/review"
	"github.com/grepiku/grepiku/internal/review/stage"
	"github.com/grepiku/grepiku/internal/scheduler"
	"github.com/grepiku/grepiku/internal/server"
	"github.com/grepiku/grepiku/internal/shared"
	"github.com/grepiku/grepiku/internal/store"
	"github.com/grepiku/grepiku/internal/worktree"
	"github.com/grepiku/grepiku/pkg/logger"
)

// Build information - set via ldflags during build.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func init() {
	consts.Version = Version
	consts.BuildTime = BuildTime
	consts.GitCommit = GitCommit
}

// configPath holds the path to the configuration file.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "grepiku",
	Short: "Grepiku - automated pull request review service",
	Long: `Grepiku reviews pull requests on GitHub, GitLab, and Gitea. It listens
for forge webhooks, builds a context pack from the repository index, runs
the review stages, and posts findings back to the pull request.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grepiku server",
	Long:  `Start the HTTP server: webhook receiver, job workers, and the API.`,
	Run:   runServe,
}

var reviewCmd = &cobra.Command{
	Use:   "review <pull-request-url>",
	Short: "Review one pull request and exit",
	Long: `Run a forced review of a single pull request, synchronously. The URL
must point at a configured provider, e.g.
  grepiku review https://github.com/acme/api/pull/42`,
	Args: cobra.ExactArgs(1),
	Run:  runReview,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index a repository checkout",
	Long: `Run one indexing pass over a local checkout and rebuild the code
graph. The repo must already exist in the database; use --repo-id from
the repos table.`,
	Run: runIndex,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("grepiku %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(versionCmd)

	serveCmd.Flags().String("host", "", "server host (overrides config)")
	serveCmd.Flags().Int("port", 0, "server port (overrides config)")
	serveCmd.Flags().Bool("debug", false, "enable debug mode")
	serveCmd.Flags().Bool("check", false, "scaffold an example config if missing, run the environment check, and exit")

	indexCmd.Flags().Uint("repo-id", 0, "repository id")
	indexCmd.Flags().String("path", "", "path to the checkout")
	indexCmd.Flags().Bool("force", false, "re-index unchanged files")
	_ = indexCmd.MarkFlagRequired("repo-id")
	_ = indexCmd.MarkFlagRequired("path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// indexRefresher runs the index pass plus the graph rebuild that the
// review pipeline schedules after each completed run.
type indexRefresher struct {
	ix    *indexer.Indexer
	graph *codegraph.Builder
	batch int
}

func (r *indexRefresher) Refresh(ctx context.Context, repoID uint, checkoutDir string) error {
	if _, err := r.ix.IndexRepo(ctx, repoID, checkoutDir, indexer.Options{EmbedBatch: r.batch}); err != nil {
		return err
	}
	_, err := r.graph.Rebuild(repoID)
	return err
}

// services is the wired application graph shared by serve and review.
type services struct {
	cfg       *config.Config
	store     *store.Store
	resolver  review.ForgeResolver
	worktrees *worktree.Manager
	indexer   *indexer.Indexer
	queues    *queue.Manager
	orch      *review.Orchestrator
	sched     *scheduler.Scheduler
}

// buildServices wires the full stack and registers the queue handlers.
// Callers own queues.Start/Stop and indexer.Close.
func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dataStore := store.New(db)

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize embedding backend: %w", err)
	}

	resolver := shared.Resolver(shared.InitForges(cfg))
	worktrees := worktree.NewManager(cfg.Workspace)
	runner := stage.NewExecRunner(cfg.Stages)
	packs := contextpack.NewBuilder(dataStore, embedder)

	ix := indexer.New(dataStore, embedder)
	refresher := &indexRefresher{
		ix:    ix,
		graph: codegraph.NewBuilder(dataStore),
		batch: cfg.Embedding.BatchSize,
	}

	queues := queue.NewManager(ctx, cfg.Workers)
	orch := review.New(cfg, dataStore, resolver, worktrees, runner, packs, queues, refresher)
	for queueName, handler := range map[string]queue.Handler{
		queue.QueueReview:    orch.HandleReviewQueue,
		queue.QueueIndex:     orch.HandleIndexQueue,
		queue.QueueAnalytics: orch.HandleAnalyticsQueue,
	} {
		if err := queues.Register(queueName, handler); err != nil {
			return nil, fmt.Errorf("register %s queue handler: %w", queueName, err)
		}
	}

	return &services{
		cfg:       cfg,
		store:     dataStore,
		resolver:  resolver,
		worktrees: worktrees,
		indexer:   ix,
		queues:    queues,
		orch:      orch,
		sched:     scheduler.New(cfg, dataStore, resolver, queues),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) {
	if checkOnly, _ := cmd.Flags().GetBool("check"); checkOnly {
		runCheck()
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	preflight := check.New(cfg).Run()
	if !preflight.Success {
		check.Print(preflight)
		os.Exit(1)
	}
	for _, warn := range preflight.Warnings {
		fmt.Fprintf(os.Stderr, "[WARNING] %s\n", warn)
	}

	// Command line flags override config.
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	}

	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting grepiku", zap.String("version", Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer svc.indexer.Close()

	svc.queues.Start()
	defer svc.queues.Stop()

	pruner := cron.New()
	if _, err := pruner.AddFunc(cfg.Workspace.PruneSchedule, func() {
		svc.worktrees.PruneAll(ctx)
	}); err != nil {
		logger.Warn("Invalid prune schedule, worktree pruning disabled",
			zap.String("schedule", cfg.Workspace.PruneSchedule), zap.Error(err))
	} else {
		pruner.Start()
		defer pruner.Stop()
	}

	srv := server.New(cfg, router.Deps{
		Cfg:    cfg,
		Store:  svc.store,
		Forges: svc.resolver,
		Sink:   svc.sched,
		Jobs:   svc.queues,
	})
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	logger.Info("Grepiku server is running",
		zap.String("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
	)

	srv.WaitForShutdown()
	cancel()

	logger.Info("Grepiku stopped")
}

// runCheck scaffolds the config file when missing and prints the preflight
// result without starting the server.
func runCheck() {
	path := configPath
	if path == "" {
		path = "config/grepiku.yaml"
	}
	created, err := configfiles.WriteExample(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to scaffold config: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("Created %s from the example template; fill in your provider tokens.\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	result := check.New(cfg).Run()
	check.Print(result)
	if !result.Success {
		os.Exit(1)
	}
	fmt.Println("\n✓ Environment check completed")
}

func runReview(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.Format = "text"
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	parser := prurl.NewParser()
	for _, p := range cfg.Providers {
		if u, err := url.Parse(p.URL); err == nil && u.Host != "" {
			parser.RegisterHost(u.Host, p.Type)
		}
	}
	ref, err := parser.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot parse pull request URL: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer svc.indexer.Close()

	client, err := svc.resolver(ref.Provider)
	if err != nil {
		logger.Fatal("Provider not configured", zap.String("provider", ref.Provider), zap.Error(err))
	}
	remote, err := client.FetchPullRequest(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		logger.Fatal("Failed to fetch pull request", zap.Error(err))
	}

	job, err := materializeJob(svc.store, cfg, ref, remote)
	if err != nil {
		logger.Fatal("Failed to record pull request", zap.Error(err))
	}

	// Follow-up index and analytics jobs run on the queue workers; the
	// review itself runs inline so failures surface in the exit code.
	svc.queues.Start()
	if err := svc.orch.Run(ctx, job); err != nil {
		logger.Fatal("Review failed", zap.Error(err))
	}
	drainQueues(svc.queues, 5*time.Minute)
	svc.queues.Stop()

	fmt.Printf("Reviewed %s/%s#%d at %s\n", ref.Owner, ref.Repo, ref.Number, remote.HeadSHA)
}

// materializeJob upserts the provider, repo, and PR rows and builds the
// forced manual review job.
func materializeJob(st *store.Store, cfg *config.Config, ref *prurl.PRRef, remote *forge.PullRequest) (*review.Job, error) {
	baseURL := ""
	for _, p := range cfg.Providers {
		if p.Type == ref.Provider {
			baseURL = p.URL
		}
	}
	provider, err := st.UpsertProvider(ref.Provider, baseURL)
	if err != nil {
		return nil, err
	}
	fullName := ref.Owner + "/" + ref.Repo
	repo, err := st.UpsertRepo(provider.ID, fullName, ref.Owner, ref.Repo, fullName, "")
	if err != nil {
		return nil, err
	}
	author, err := st.UpsertUser(provider.ID, remote.Author, remote.Author)
	if err != nil {
		return nil, err
	}
	pr, err := st.UpsertPullRequest(&model.PullRequest{
		RepoID:   repo.ID,
		Number:   remote.Number,
		Title:    remote.Title,
		Body:     remote.Body,
		State:    remote.State,
		BaseRef:  remote.BaseBranch,
		HeadRef:  remote.HeadBranch,
		BaseSHA:  remote.BaseSHA,
		HeadSHA:  remote.HeadSHA,
		Draft:    remote.Draft,
		AuthorID: author.ID,
	})
	if err != nil {
		return nil, err
	}
	return &review.Job{
		Provider:      ref.Provider,
		RepoID:        repo.ID,
		PullRequestID: pr.ID,
		Number:        pr.Number,
		HeadSHA:       remote.HeadSHA,
		Trigger:       review.TriggerManual,
		Force:         true,
	}, nil
}

// drainQueues waits for the index and analytics queues to empty.
func drainQueues(queues *queue.Manager, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if queues.Pending(queue.QueueIndex) == 0 && queues.Pending(queue.QueueAnalytics) == 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func runIndex(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	repoID, _ := cmd.Flags().GetUint("repo-id")
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	dataStore := store.New(db)

	ctx := context.Background()
	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize embedding backend", zap.Error(err))
	}

	ix := indexer.New(dataStore, embedder)
	defer ix.Close()

	stats, err := ix.IndexRepo(ctx, repoID, path, indexer.Options{
		Force:      force,
		EmbedBatch: cfg.Embedding.BatchSize,
	})
	if err != nil {
		logger.Fatal("Index pass failed", zap.Error(err))
	}
	if _, err := codegraph.NewBuilder(dataStore).Rebuild(repoID); err != nil {
		logger.Fatal("Graph rebuild failed", zap.Error(err))
	}

	fmt.Printf("Indexed %d/%d files (%d unchanged, %d parse failures, %d embeddings)\n",
		stats.Indexed, stats.Scanned, stats.Unchanged, stats.ParseFails, stats.Embeddings)
}

// buildEmbedder selects the embedding backend from config.
func buildEmbedder(ctx context.Context, cfg *config.Config) (embedding.Provider, error) {
	if cfg.Embedding.Backend == "genai" {
		return embedding.NewGenAI(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
	}
	return embedding.NewStatic(cfg.Embedding.Dimension), nil
}
