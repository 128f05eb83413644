package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/mooli"
	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/chunk"
	"github.com/flarexio/mooli/document"
	"github.com/flarexio/mooli/document/local"
	"github.com/flarexio/mooli/document/s3"
	"github.com/flarexio/mooli/job"
	"github.com/flarexio/mooli/llm"
	"github.com/flarexio/mooli/llm/bedrock"
	"github.com/flarexio/mooli/llm/openai"
	"github.com/flarexio/mooli/persistence/chromem"
	"github.com/flarexio/mooli/persistence/redis"
	"github.com/flarexio/mooli/pipeline"
	"github.com/flarexio/mooli/watcher"

	mcpE "github.com/flarexio/mooli/mcp"
	httpT "github.com/flarexio/mooli/transport/http"
	natsT "github.com/flarexio/mooli/transport/nats"
)

func main() {
	cmd := &cli.Command{
		Name:  "mooli",
		Usage: "Mooli document question answering bot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "Path to the Mooli home directory",
				Sources: cli.EnvVars("MOOLI_PATH"),
			},
			&cli.StringFlag{
				Name:    "http-addr",
				Usage:   "HTTP server address",
				Sources: cli.EnvVars("MOOLI_HTTP_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis",
				Usage:   "Redis URL for the job queue",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "nats",
				Usage:   "NATS server URL, empty disables the NATS transport",
				Sources: cli.EnvVars("NATS_URL"),
			},
			&cli.BoolFlag{
				Name:    "worker",
				Usage:   "Run the job worker inside the server process",
				Sources: cli.EnvVars("MOOLI_WORKER"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of jobs processed at once",
				Sources: cli.EnvVars("MOOLI_CONCURRENCY"),
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "Write production JSON logs",
				Sources: cli.EnvVars("MOOLI_LOG_JSON"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the chat endpoints",
				Action: serve,
			},
			{
				Name:   "worker",
				Usage:  "Process queued jobs",
				Action: work,
			},
		},
		Action: serve,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

type app struct {
	cfg      mooli.Config
	log      *zap.Logger
	svc      mooli.Service
	pipeline *pipeline.Pipeline
	queue    *redis.Queue
	uploads  *local.Store
	adapters channel.Adapters
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func homePath(cmd *cli.Command) (string, error) {
	path := cmd.String("path")
	if path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".flarex", "mooli"), nil
}

func loadConfig(path string) (mooli.Config, error) {
	var cfg mooli.Config

	f, err := os.Open(filepath.Join(path, "config.yaml"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only

	case err != nil:
		return cfg, err

	default:
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, err
		}
	}

	cfg.ApplyDefaults(path)
	return cfg, nil
}

func applySecrets(cfg *mooli.Config) {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Channels.Slack.BotToken = v
	}

	if v := os.Getenv("SLACK_SIGNING_SECRET"); v != "" {
		cfg.Channels.Slack.SigningSecret = v
	}

	if v := os.Getenv("TEAMS_APP_ID"); v != "" {
		cfg.Channels.Teams.AppID = v
	}

	if v := os.Getenv("TEAMS_APP_PASSWORD"); v != "" {
		cfg.Channels.Teams.AppPassword = v
	}
}

func newModels(ctx context.Context, cfg llm.Config) (llm.Embedder, llm.Completer, error) {
	var (
		embedder  llm.Embedder
		completer llm.Completer
	)

	switch cfg.Provider {
	case llm.ProviderBedrock:
		client, err := bedrock.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		embedder = bedrock.NewEmbedder(client, cfg.EmbeddingModel)
		completer = bedrock.NewCompleter(client, cfg)

	case llm.ProviderOpenAI:
		client, err := openai.NewClient(os.Getenv("OPENAI_API_KEY"), cfg.BaseURL)
		if err != nil {
			return nil, nil, err
		}

		embedder = openai.NewEmbedder(client, cfg.EmbeddingModel)
		completer = openai.NewCompleter(client, cfg)

	default:
		return nil, nil, llm.ErrUnknownProvider
	}

	if cfg.RateLimit > 0 {
		embedder = llm.NewThrottle(embedder, cfg.RateLimit, cfg.Burst)
	}

	return embedder, completer, nil
}

func setup(ctx context.Context, cmd *cli.Command) (*app, error) {
	path, err := homePath(cmd)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var logger *zap.Logger
	if cmd.Bool("log-json") {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(logger)

	a := &app{log: logger}
	a.closers = append(a.closers, func() { logger.Sync() })

	cfg, err := loadConfig(path)
	if err != nil {
		a.Close()
		return nil, err
	}

	if v := cmd.String("http-addr"); v != "" {
		cfg.HTTP.Addr = v
	}

	if v := cmd.String("redis"); v != "" {
		cfg.Queue.URL = v
	}

	if v := cmd.String("nats"); v != "" {
		cfg.NATS.URL = v
	}

	if v := cmd.Int("concurrency"); v > 0 {
		cfg.Worker.Concurrency = int(v)
	}

	applySecrets(&cfg)
	a.cfg = cfg

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	client, err := redis.NewClient(ctx, cfg.Queue.URL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { client.Close() })

	queue, err := redis.NewQueue(ctx, client,
		redis.WithPrefix(cfg.Queue.Prefix),
		redis.WithRetention(cfg.Queue.Retention.Duration()),
	)
	if err != nil {
		return err
	}
	a.queue = queue

	lock := redis.NewLock(client, cfg.Queue.Prefix)

	store, err := chromem.NewChromemVectorStore(cfg.Vector, chromem.WithLocker(lock))
	if err != nil {
		return err
	}

	var roots []string
	if cfg.Inbox.Enabled {
		roots = append(roots, cfg.Inbox.Path)
	}

	if ref, ok := cfg.Storage.DefaultRef(); ok && ref.Local() {
		roots = append(roots, ref.Path)
	}

	uploads, err := local.NewStore(cfg.Storage.UploadDir, local.WithRoots(roots...))
	if err != nil {
		return err
	}
	a.uploads = uploads

	docs := &document.Mux{Local: uploads}
	if cfg.Storage.Bucket != "" {
		remote, err := s3.NewStoreFromConfig(ctx, cfg.Storage)
		if err != nil {
			return err
		}

		docs.Remote = remote
	}

	embedder, completer, err := newModels(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	if ref, ok := cfg.Storage.DefaultRef(); ok {
		opts = append(opts, pipeline.WithDefaultDocument(ref))
	}

	a.pipeline = pipeline.New(docs, chunk.NewFromConfig(cfg.Chunk), store, embedder, completer, cfg.Pipeline, opts...)

	a.adapters = channel.Adapters{Web: channel.NewWeb()}

	if cfg.Channels.Slack.BotToken != "" {
		a.adapters.Slack = channel.NewSlack(cfg.Channels.Slack)
	}

	if cfg.Channels.Teams.AppID != "" {
		a.adapters.Teams = channel.NewTeams(ctx, cfg.Channels.Teams)
	}

	svc := mooli.NewService(cfg, a.pipeline, queue, uploads, a.adapters)
	a.svc = mooli.LoggingMiddleware(a.log)(svc)
	a.closers = append(a.closers, func() { a.svc.Close() })

	return nil
}

func (a *app) startWorker(ctx context.Context) *job.Worker {
	handler := mooli.NewJobHandler(a.pipeline, a.adapters, a.cfg.Channels.DeliverTimeout)

	worker := job.NewWorker(a.queue, handler, a.cfg.Worker)
	worker.Start(ctx)

	return worker
}

func (a *app) startInbox(ctx context.Context) error {
	inbox, err := watcher.NewInbox(a.cfg.Inbox.Path, a.svc)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { inbox.Close() })

	go inbox.Run(ctx)
	return nil
}

func (a *app) startNATS(endpoints mooli.EndpointSet) error {
	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name("Mooli Server"),
	)

	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { nc.Drain() })

	srv, err := micro.AddService(nc, micro.Config{
		Name:    "mooli",
		Version: "1.0.0",
	})

	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { srv.Stop() })

	root := srv.AddGroup(a.cfg.NATS.Topic)
	natsT.AddEndpoints(root, endpoints)

	return nil
}

func waitSignal(log *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))
}

func serve(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var worker *job.Worker
	if cmd.Bool("worker") {
		worker = a.startWorker(ctx)
		defer worker.Stop()
	}

	if a.cfg.Inbox.Enabled {
		if err := a.startInbox(ctx); err != nil {
			return err
		}
	}

	endpoints := mooli.MakeEndpoints(a.svc)

	if a.cfg.NATS.URL != "" {
		if err := a.startNATS(endpoints); err != nil {
			return err
		}
	}

	r := gin.New()
	r.Use(gin.Recovery(), httpT.RequestLogger(a.log))

	opts := httpT.Options{MaxUploadSize: a.cfg.HTTP.MaxUploadSize}
	if a.adapters.Slack != nil && a.cfg.Channels.Slack.SigningSecret != "" {
		opts.SlackVerifier = a.adapters.Slack
	}

	httpT.AddRouters(r, endpoints, opts)

	mcpEndpoints := make(map[mcp.MCPMethod]mcpE.MCPEndpoint)
	mcpEndpoints[mcp.MethodInitialize] = mcpE.InitializeEndpoint(a.svc)
	mcpEndpoints[mcp.MethodPing] = mcpE.PingEndpoint(a.svc)
	mcpEndpoints[mcp.MethodToolsList] = mcpE.ListToolsEndpoint(a.svc)
	mcpEndpoints[mcp.MethodToolsCall] = mcpE.CallToolEndpoint(a.svc)
	httpT.AddStreamableRouters(r, mcpEndpoints)

	if worker != nil {
		r.GET("/health/", func(c *gin.Context) {
			health := worker.Health(c.Request.Context())

			status := http.StatusOK
			if !health.Running || !health.QueueHealth {
				status = http.StatusServiceUnavailable
			}

			c.JSON(status, health)
		})
	}

	srv := &http.Server{
		Addr:    a.cfg.HTTP.Addr,
		Handler: r,
	}

	go func() {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(err.Error())
		}
	}()

	waitSignal(a.log)

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	return srv.Shutdown(shutdownCtx)
}

func work(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	worker := a.startWorker(ctx)
	defer worker.Stop()

	if a.cfg.Inbox.Enabled {
		if err := a.startInbox(ctx); err != nil {
			return err
		}
	}

	waitSignal(a.log)
	return nil
}
