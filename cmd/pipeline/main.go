package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/tvkpi/internal/config"
	"github.com/OFFIS-RIT/tvkpi/internal/pipeline"
	"github.com/OFFIS-RIT/tvkpi/internal/storage"
	"github.com/OFFIS-RIT/tvkpi/internal/util"
	"github.com/OFFIS-RIT/tvkpi/pkg/ai"
	oai "github.com/OFFIS-RIT/tvkpi/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/tvkpi/pkg/ai/openai"
	"github.com/OFFIS-RIT/tvkpi/pkg/extract"
	"github.com/OFFIS-RIT/tvkpi/pkg/graph"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	var (
		inputDir      = flag.String("input", "", "Directory with extracted documents (default: $INPUT_DIR)")
		aggregateOnly = flag.Bool("aggregate-only", false, "Skip extraction and rebuild the aggregate from every stored extraction")
		graphOut      = flag.String("graph-out", "", "Write the graph to <path>.json and <path>.graphml")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "pipeline",
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	if *inputDir != "" {
		cfg.InputDir = *inputDir
	}

	s, closeStore, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not open result store", "backend", cfg.Storage, "err", err)
	}
	defer closeStore()

	var aiClient ai.GraphAIClient
	if !*aggregateOnly {
		aiClient, err = newAIClient(cfg)
		if err != nil {
			logger.Fatal("Could not create AI client", "provider", cfg.Provider, "err", err)
		}
	}

	p := pipeline.NewPipeline(pipeline.NewPipelineParams{
		Vocabulary: cfg.Vocabulary,
		Extractor: extract.NewClient(extract.NewClientParams{
			AI:          aiClient,
			KPIs:        cfg.KPIs,
			Factors:     cfg.Factors,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Thinking:    cfg.Thinking,

			MaxAttempts:       cfg.MaxAttempts,
			ParseRetryDelay:   cfg.ParseRetryDelay,
			TransportDelay:    cfg.TransportDelay,
			RateLimitFallback: cfg.RateLimitFallback,
			RateLimitMargin:   cfg.RateLimitMargin,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}),
		Metrics: aiClient,
		Store:   s,

		Model:                 cfg.Model,
		Encoding:              cfg.Encoding,
		InputPricePerMillion:  cfg.InputPricePerMillion,
		OutputPricePerMillion: cfg.OutputPricePerMillion,
		LoadConcurrency:       cfg.LoadConcurrency,
	})

	var g *graph.Graph
	if *aggregateOnly {
		agg, err := p.Aggregate(ctx, nil)
		if err != nil {
			logger.Fatal("Aggregation failed", "err", err)
		}
		g = graph.Build(agg)
		pipeline.LogRankings(g)
	} else {
		docs, err := pipeline.LoadDocuments(cfg.InputDir)
		if err != nil {
			logger.Fatal("Could not load documents", "dir", cfg.InputDir, "err", err)
		}
		out, err := p.Run(ctx, docs)
		if err != nil {
			if pipeline.IsCanceled(err) {
				logger.Warn("Run canceled", "run", out.Summary.RunID, "processed", out.Summary.Succeeded+out.Summary.Failed)
				os.Exit(130)
			}
			logger.Fatal("Run failed", "run", out.Summary.RunID, "err", err)
		}
		g = out.Graph
	}

	if *graphOut != "" {
		if err := writeGraph(g, *graphOut); err != nil {
			logger.Fatal("Could not write graph", "path", *graphOut, "err", err)
		}
		logger.Info("Wrote graph", "json", *graphOut+".json", "graphml", *graphOut+".graphml")
	}
}

func newAIClient(cfg config.Config) (ai.GraphAIClient, error) {
	switch cfg.Provider {
	case "ollama":
		return oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ExtractionModel: cfg.Model,
			Encoding:        cfg.Encoding,

			BaseURL: cfg.OllamaURL,
			ApiKey:  cfg.OllamaKey,

			// documents are extracted one at a time
			MaxConcurrentRequests: 1,
		})
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ExtractionModel: cfg.Model,

			ChatURL: cfg.OpenAIURL,
			ChatKey: cfg.OpenAIKey,

			RequestTimeout: cfg.RequestTimeout,
		})
	}
}

func writeGraph(g *graph.Graph, path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".json", data, 0o644); err != nil {
		return err
	}

	f, err := os.Create(path + ".graphml")
	if err != nil {
		return err
	}
	if err := g.WriteGraphML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
