package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/agri-rag/server/internal/agent/graph"
	"github.com/agri-rag/server/internal/agent/graph/conversations"
	"github.com/agri-rag/server/internal/agent/graph/nodes"
	"github.com/agri-rag/server/internal/agent/graph/tools"
	"github.com/agri-rag/server/internal/agent/model"
	"github.com/agri-rag/server/internal/agent/rag"
	"github.com/agri-rag/server/internal/core"
	"github.com/agri-rag/server/internal/repo"
	"github.com/agri-rag/server/internal/server"
	logx "github.com/agri-rag/server/pkg/logger"
	pkgqdrant "github.com/agri-rag/server/pkg/qdrant"
	pkgredis "github.com/agri-rag/server/pkg/redis"
)

// Options are the command line flags. Without --serve or --tool-server the
// binary runs an interactive chat on stdin.
type Options struct {
	Serve      string `long:"serve" value-name:"ADDR" description:"serve the chat API on ADDR, e.g. :8080"`
	ToolServer bool   `long:"tool-server" description:"serve the CSV and chart tools as an MCP server on stdio"`
	Thread     string `long:"thread" value-name:"ID" default:"local" description:"thread id for the interactive chat"`
	Topology   bool   `long:"topology" description:"print the turn graph and exit"`
	EnvFile    string `long:"env-file" default:".env" description:"dotenv file to load"`
}

// AppConfig defines all configurable parameters, sourced from environment
// variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis  pkgredis.Config
	Qdrant pkgqdrant.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Judge        model.JudgeModelConfig
	Answer       model.AnswerModelConfig
	Embedding    model.EmbeddingConfig
	Retrieval    model.RetrievalConfig
	Pipeline     model.PipelineConfig
	Conversation model.ConversationConfig
	Tools        model.ToolsConfig
	TurnLog      model.TurnLogConfig
}

// ToolServerConfig is the subset the stdio tool server needs.
type ToolServerConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	Tools       model.ToolsConfig
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := godotenv.Load(opts.EnvFile); err != nil {
		log.Printf("Warning: Could not load %s file: %v", opts.EnvFile, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.ToolServer {
		if err := runToolServer(ctx); err != nil {
			log.Fatalf("Tool server failed: %v", err)
		}
		return
	}

	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}
	logx.Init(logx.LoggerOpts{Environment: envCfg.Environment, Level: envCfg.LogLevel})

	if opts.Topology {
		fmt.Print(graph.Topology(envCfg.Pipeline))
		return
	}

	app, err := newApp(ctx, envCfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to start")
	}
	defer app.Close()

	logx.Debug().Str("topology", graph.Topology(envCfg.Pipeline)).Msg("Turn graph")

	if opts.Serve != "" {
		srv := server.New(server.Config{
			Addr:        opts.Serve,
			Environment: envCfg.Environment,
		}, app.runner, app.conversations)
		if err := srv.Run(ctx); err != nil {
			logx.Fatal().Err(err).Msg("HTTP server failed")
		}
		return
	}

	if err := chat(ctx, app, opts.Thread, os.Stdin, os.Stdout); err != nil {
		logx.Fatal().Err(err).Msg("Chat failed")
	}
}

// runToolServer logs to stderr, stdout carries the MCP stream.
func runToolServer(ctx context.Context) error {
	var cfg ToolServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("process environment config: %w", err)
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Output: os.Stderr})
	logx.Info().Str("csv_dir", cfg.Tools.CSVOutputDir).Msg("Tool server starting")
	return tools.Serve(ctx, cfg.Tools)
}

type app struct {
	runner        graph.Runner
	conversations *conversations.Manager
	closers       []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logx.Warn().Err(err).Msg("Error during shutdown")
		}
	}
}

func newApp(ctx context.Context, cfg AppConfig) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	client, err := nodes.NewGenAIClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	qc, err := cfg.Qdrant.New(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, qc.Close)
	logx.Info().Str("host", cfg.Qdrant.Host).Str("collection", cfg.Qdrant.Collection).Msg("Connected to Qdrant")

	embedder, err := rag.NewGeminiEmbedder(client, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	retriever, err := rag.NewQdrantRetriever(rag.QdrantRetrieverConfig{
		Client:     qc,
		Embedder:   embedder,
		Collection: cfg.Qdrant.Collection,
		Retrieval:  cfg.Retrieval,
	})
	if err != nil {
		return nil, err
	}

	var store model.CheckpointStore
	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		store = repo.NewRedisCheckpointStore(rdb, cfg.Conversation.TTL)
		logx.Info().Msg("Connected to Redis")
	} else {
		store = repo.NewMemoryCheckpointStore()
		logx.Warn().Msg("REDIS_URL not set, conversations are kept in memory")
	}
	a.conversations = conversations.NewManager(store, cfg.Conversation)

	registry, err := newToolRegistry(ctx, cfg.Tools)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, registry.Close)

	var turnLog model.TurnLog
	if cfg.TurnLog.Path != "" {
		tl, err := repo.OpenJSONLTurnLog(cfg.TurnLog.Path, cfg.TurnLog.Truncate)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, tl.Close)
		turnLog = tl
	}

	a.runner, err = graph.BuildResponseGraph(ctx, graph.Config{
		Client:        client,
		JudgeModel:    cfg.Judge,
		AnswerModel:   cfg.Answer,
		Pipeline:      cfg.Pipeline,
		Conversation:  cfg.Conversation,
		Retrieval:     cfg.Retrieval,
		Retriever:     retriever,
		Tools:         registry,
		Conversations: a.conversations,
		TurnLog:       turnLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	return a, nil
}

// newToolRegistry registers the export tools, in-process or from a
// subprocess, then the optional external search server.
func newToolRegistry(ctx context.Context, cfg model.ToolsConfig) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	if cfg.LocalCommand != "" {
		if err := tools.ConnectCommand(ctx, registry, "export", cfg.LocalCommand); err != nil {
			return nil, err
		}
	} else if err := registry.Register(ctx, tools.NewLocalTools(cfg)...); err != nil {
		return nil, err
	}

	if cfg.SearchCommand != "" {
		if err := tools.ConnectCommand(ctx, registry, "search", cfg.SearchCommand); err != nil {
			// Search is optional; the web search stage reports it unavailable.
			logx.Warn().Err(err).Msg("Web search tool server unavailable")
		}
	}
	logx.Info().Strs("tools", registry.Names()).Msg("Tools registered")
	return registry, nil
}
