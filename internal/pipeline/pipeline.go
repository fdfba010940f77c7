package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/OFFIS-RIT/tvkpi/internal/config"
	"github.com/OFFIS-RIT/tvkpi/pkg/aggregate"
	"github.com/OFFIS-RIT/tvkpi/pkg/ai"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/extract"
	"github.com/OFFIS-RIT/tvkpi/pkg/graph"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"
	"github.com/OFFIS-RIT/tvkpi/pkg/segment"
	"github.com/OFFIS-RIT/tvkpi/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	minTopicalDocuments         = 10
	recommendedTopicalDocuments = 20
)

// Extractor turns the topical text of a document into relations.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (extract.Result, error)
}

// MetricsReporter exposes the request metrics of the LLM client.
type MetricsReporter interface {
	ResetMetrics()
	GetMetrics() ai.ModelMetrics
}

// Pipeline runs segmentation, extraction, aggregation and graph building
// over a batch of documents. Documents are processed one at a time in the
// order they are given.
type Pipeline struct {
	vocab       config.Vocabulary
	extractor   Extractor
	metrics     MetricsReporter
	store       store.ResultStore
	model       string
	encoding    string
	inputPrice  float64
	outputPrice float64
	concurrency int
	now         func() time.Time
}

// NewPipelineParams configures a Pipeline.
type NewPipelineParams struct {
	Vocabulary config.Vocabulary
	Extractor  Extractor
	Metrics    MetricsReporter // optional
	Store      store.ResultStore

	Model                 string
	Encoding              string
	InputPricePerMillion  float64
	OutputPricePerMillion float64
	LoadConcurrency       int
}

// NewPipeline creates a Pipeline.
func NewPipeline(params NewPipelineParams) *Pipeline {
	return &Pipeline{
		vocab:       params.Vocabulary,
		extractor:   params.Extractor,
		metrics:     params.Metrics,
		store:       params.Store,
		model:       params.Model,
		encoding:    params.Encoding,
		inputPrice:  params.InputPricePerMillion,
		outputPrice: params.OutputPricePerMillion,
		concurrency: params.LoadConcurrency,
		now:         time.Now,
	}
}

// Output is everything a run produced.
type Output struct {
	Summary   common.RunSummary
	Aggregate common.AggregatedResult
	Graph     *graph.Graph
}

type tally struct {
	summary common.RunSummary
	usage   ai.Usage
	saved   []string
	origTok int
	topTok  int
}

func (t *tally) company(name string) common.CompanyStats {
	return t.summary.Companies[name]
}

// Run processes docs and returns the run summary, the aggregate and the
// graph. Failures of single documents are recorded in the summary and
// never abort the batch. The returned error is the context error when the
// run was canceled, or a store error for the aggregate.
func (p *Pipeline) Run(ctx context.Context, docs []common.ExtractedDocument) (Output, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return Output{}, fmt.Errorf("failed to generate run id: %w", err)
	}

	t := &tally{summary: common.RunSummary{
		RunID:          runID,
		StartedAt:      p.now(),
		Model:          p.model,
		TotalDocuments: len(docs),
		Companies:      map[string]common.CompanyStats{},
		Documents:      make([]common.DocumentOutcome, 0, len(docs)),
	}, saved: []string{}}
	if p.metrics != nil {
		p.metrics.ResetMetrics()
	}
	logger.Info("Starting run", "run", runID, "documents", len(docs), "model", p.model)

	var runErr error
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		logger.Info("Processing document", "n", i+1, "of", len(docs), "file", doc.Filename, "company", doc.Company)
		p.processDocument(ctx, doc, t)
	}

	t.summary.InputTokens = t.usage.InputTokens
	t.summary.OutputTokens = t.usage.OutputTokens
	t.summary.EstimatedCostUSD = extract.EstimateCost(t.usage, p.inputPrice, p.outputPrice)
	if t.summary.OriginalChars > 0 {
		rate := float64(t.summary.OriginalChars-t.summary.TopicalChars) / float64(t.summary.OriginalChars) * 100
		t.summary.ReductionRate = math.Round(rate*10) / 10
	}
	t.summary.EstimatedTokensSaved = max(t.origTok-t.topTok, 0)
	t.summary.Warnings = SufficiencyWarnings(t.summary.TotalDocuments - t.summary.SegmentedEmpty)
	if p.metrics != nil {
		m := p.metrics.GetMetrics()
		t.summary.Provider = &common.ProviderStats{
			Requests:        m.Requests,
			TotalTokens:     m.TotalTokens,
			DurationMs:      m.DurationMs,
			TokensPerSecond: m.TokenPerSecond,
		}
	}

	out := Output{Summary: t.summary}
	if runErr == nil {
		agg, err := p.Aggregate(ctx, t.saved)
		if err != nil {
			runErr = err
		} else {
			out.Aggregate = agg
			out.Graph = graph.Build(agg)
			LogRankings(out.Graph)
		}
	}

	out.Summary.FinishedAt = p.now()
	if err := p.store.SaveRunSummary(context.WithoutCancel(ctx), out.Summary); err != nil {
		logger.Error("Failed to save run summary", "run", runID, "err", err)
	}
	logSummary(out.Summary)
	return out, runErr
}

func (p *Pipeline) processDocument(ctx context.Context, doc common.ExtractedDocument, t *tally) {
	cs := t.company(doc.Company)
	cs.Documents++
	defer func() { t.summary.Companies[doc.Company] = cs }()

	outcome := common.DocumentOutcome{Filename: doc.Filename, Company: doc.Company}
	defer func() { t.summary.Documents = append(t.summary.Documents, outcome) }()

	seg := segment.Segment(doc.FullText, p.vocab.TVKeywords, p.vocab.Window(doc.Source))
	original := doc.CharCount
	if original <= 0 {
		original = utf8.RuneCountInString(doc.FullText)
	}
	t.summary.OriginalChars += original
	t.origTok += ai.EstimateTokens(p.encoding, doc.FullText)

	if len(seg.Spans) == 0 {
		logger.Info("No topical content", "file", doc.Filename)
		t.summary.SegmentedEmpty++
		outcome.Status = common.DocumentSegmentedEmpty
		return
	}
	cs.Topical++

	text := segment.CombineSpans(seg.Spans)
	topicalChars := seg.TotalChars
	t.summary.TopicalChars += topicalChars
	t.topTok += ai.EstimateTokens(p.encoding, text)
	logger.Debug("Segmented document", "file", doc.Filename, "spans", len(seg.Spans), "chars", original, "topical_chars", topicalChars, "keywords", seg.FoundKeywords)

	res, err := p.extractor.Extract(ctx, extract.Input{
		Filename: doc.Filename,
		Company:  doc.Company,
		Date:     doc.Date,
		Text:     text,
	})
	t.usage = t.usage.Add(res.Usage)
	if err != nil {
		t.summary.Failed++
		cs.Failed++
		outcome.Status = common.DocumentExtractionFailed
		outcome.Error = err.Error()
		return
	}

	extraction := common.DocumentExtraction{
		Source:        doc.Source,
		Filename:      doc.Filename,
		Company:       doc.Company,
		Date:          doc.Date,
		TVCharCount:   topicalChars,
		FoundKeywords: seg.FoundKeywords,
		Relations:     res.Relations,
		KeyInsights:   res.KeyInsights,
		Model:         res.Model,
		ExtractedAt:   p.now(),
		InputTokens:   res.Usage.InputTokens,
		OutputTokens:  res.Usage.OutputTokens,
	}
	if err := p.store.SaveExtraction(ctx, extraction); err != nil {
		logger.Error("Failed to save extraction", "file", doc.Filename, "err", err)
		t.summary.Failed++
		cs.Failed++
		outcome.Status = common.DocumentExtractionFailed
		outcome.Error = err.Error()
		return
	}

	n := len(res.Relations)
	t.saved = append(t.saved, doc.Filename)
	t.summary.Succeeded++
	t.summary.TotalRelations += n
	cs.Succeeded++
	cs.Relations += n
	outcome.Status = common.DocumentOK
	outcome.Relations = n
	logger.Info("Extracted relations", "file", doc.Filename, "relations", n, "attempts", res.Attempts, "input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens)
}

// Aggregate folds the stored extractions of filenames, in that order, and
// saves the result. A nil filenames aggregates every stored extraction.
// Missing or unreadable extractions are skipped.
func (p *Pipeline) Aggregate(ctx context.Context, filenames []string) (common.AggregatedResult, error) {
	if filenames == nil {
		names, err := p.store.ListExtractions(ctx)
		if err != nil {
			return common.AggregatedResult{}, fmt.Errorf("failed to list extractions: %w", err)
		}
		filenames = names
	}

	docs, skipped, err := aggregate.LoadDocuments(ctx, p.store, filenames, p.concurrency)
	if err != nil {
		return common.AggregatedResult{}, err
	}
	if len(skipped) > 0 {
		logger.Warn("Skipped missing extractions", "count", len(skipped), "files", skipped)
	}

	agg := aggregate.Aggregate(docs)
	if err := p.store.SaveAggregate(ctx, agg); err != nil {
		return common.AggregatedResult{}, fmt.Errorf("failed to save aggregate: %w", err)
	}
	logger.Info(
		"Aggregated relations",
		"documents", agg.Summary.TotalDocuments,
		"relations", agg.Summary.TotalRelations,
		"kpis", agg.Summary.KPICount,
		"factors", agg.Summary.FactorCount,
		"combinations", agg.Summary.CombinationCount,
	)
	return agg, nil
}

// SufficiencyWarnings flags batches with too few topical documents for a
// meaningful graph.
func SufficiencyWarnings(topical int) []string {
	switch {
	case topical < minTopicalDocuments:
		return []string{fmt.Sprintf("only %d topical documents; at least %d are needed for a meaningful graph", topical, minTopicalDocuments)}
	case topical < recommendedTopicalDocuments:
		return []string{fmt.Sprintf("%d topical documents; %d or more are recommended", topical, recommendedTopicalDocuments)}
	}
	return nil
}

// LogRankings logs the top nodes by PageRank and the most connected
// factors and KPIs.
func LogRankings(g *graph.Graph) {
	stats := g.Stats()
	logger.Info(
		"Graph built",
		"nodes", stats.Nodes,
		"edges", stats.Edges,
		"companies", stats.NodesByType[graph.NodeCompany],
		"kpis", stats.NodesByType[graph.NodeKPI],
		"factors", stats.NodesByType[graph.NodeFactor],
		"avg_degree", fmt.Sprintf("%.2f", stats.AverageDegree),
	)
	for i, r := range g.TopByPageRank(10) {
		logger.Info("PageRank", "rank", i+1, "node", r.Node.Label, "type", r.Node.Type, "score", fmt.Sprintf("%.4f", r.Score))
	}
	for i, r := range g.TopByDegree(graph.NodeFactor, 5) {
		logger.Info("Top factor", "rank", i+1, "factor", r.Node.Label, "degree", int(r.Score))
	}
	for i, r := range g.TopByDegree(graph.NodeKPI, 5) {
		logger.Info("Top KPI", "rank", i+1, "kpi", r.Node.Label, "degree", int(r.Score))
	}
}

func logSummary(s common.RunSummary) {
	logger.Info(
		"Run finished",
		"run", s.RunID,
		"documents", s.TotalDocuments,
		"segmented_empty", s.SegmentedEmpty,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"relations", s.TotalRelations,
		"input_tokens", s.InputTokens,
		"output_tokens", s.OutputTokens,
		"cost_usd", fmt.Sprintf("%.4f", s.EstimatedCostUSD),
		"reduction_rate", s.ReductionRate,
		"tokens_saved", s.EstimatedTokensSaved,
		"duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
	)
	if pm := s.Provider; pm != nil {
		logger.Info(
			"Provider metrics",
			"requests", pm.Requests,
			"tokens", pm.TotalTokens,
			"request_time", (time.Duration(pm.DurationMs) * time.Millisecond).Round(time.Second),
			"tokens_per_second", fmt.Sprintf("%.1f", pm.TokensPerSecond),
		)
	}
	for name, c := range s.Companies {
		logger.Info("Company", "company", name, "documents", c.Documents, "topical", c.Topical, "succeeded", c.Succeeded, "failed", c.Failed, "relations", c.Relations)
	}
	for _, w := range s.Warnings {
		logger.Warn(w)
	}
}

// IsCanceled reports whether err ended a run early.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
