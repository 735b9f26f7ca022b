package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Core-65536/Project-Ghost/config"
	"github.com/Core-65536/Project-Ghost/internal/agent"
	"github.com/Core-65536/Project-Ghost/internal/chunker"
	"github.com/Core-65536/Project-Ghost/internal/embed"
	"github.com/Core-65536/Project-Ghost/internal/index"
	"github.com/Core-65536/Project-Ghost/internal/llm"
	"github.com/Core-65536/Project-Ghost/internal/rerank"
	"github.com/Core-65536/Project-Ghost/internal/search"
	"github.com/Core-65536/Project-Ghost/internal/server"
	"github.com/Core-65536/Project-Ghost/internal/tabs"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the tab archive HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(cfgPath)
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			setupLogging(cfg.Logging)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			engine, err := openEngine(ctx, cfg.Index)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			archive := tabs.NewAdapter(engine, cfg.Search.Oversample, nil)
			if err := archive.EnsureDimension(ctx, cfg.Embedding.Dimensions); err != nil {
				return fmt.Errorf("prepare index: %w", err)
			}

			encoder := embed.New(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
			provider := llm.NewProvider(cfg.LLM.ConfigFile, nil)

			expander := search.NewKeywordExpander(provider, openCache(ctx, cfg.Cache), cfg.Cache.KeywordTTL, cfg.Search.ExpandTimeout, nil)
			ranker := rerank.New(provider, rerank.Weights{Similarity: cfg.Search.SimWeight, LLM: cfg.Search.LLMWeight}, cfg.Search.RerankTimeout, nil)
			pipeline := search.NewPipeline(expander, encoder, archive, ranker, search.Options{
				RecallMultiplier: cfg.Search.RecallMultiplier,
				RecallCap:        cfg.Search.RecallCap,
			}, nil)
			ghost := agent.New(provider, agent.Deps{Encoder: encoder, Searcher: archive, Library: archive}, cfg.Agent.MaxSteps, cfg.Agent.Timeout, nil)

			splitter := chunker.Splitter{
				Window:  cfg.Chunker.Window,
				Overlap: cfg.Chunker.Overlap,
				MinSize: cfg.Chunker.MinSize,
			}

			e := server.New(server.Services{
				Splitter:  splitter,
				Encoder:   encoder,
				Archive:   archive,
				Provider:  provider,
				Retriever: pipeline,
				Agent:     ghost,
				TopK:      cfg.Search.TopK,
			}, cfg.Server.AllowOrigins)

			errCh := make(chan error, 1)
			go func() { errCh <- e.Start(cfg.Server.Address) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			return e.Shutdown(shutdownCtx)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	return serve
}

// setupLogging routes the standard logger through a rotating file when one
// is configured. Components capture log.Writer() at construction, so this
// runs before anything else is built.
func setupLogging(cfg config.LoggingConfig) {
	if cfg.File == "" {
		return
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotated))
}

func openEngine(ctx context.Context, cfg config.IndexConfig) (index.Engine, error) {
	switch cfg.Driver {
	case "postgres":
		engine, err := index.NewPGVector(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open pgvector index: %w", err)
		}
		return engine, nil
	case "memory":
		log.Printf("index driver is memory; archived tabs will not survive restarts")
		return index.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Driver)
	}
}

// openCache connects the optional keyword cache. Search works without it,
// so a dead Redis only costs repeat expansions.
func openCache(ctx context.Context, cfg config.CacheConfig) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("keyword cache unavailable at %s: %v", cfg.RedisAddr, err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}
