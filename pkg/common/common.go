package common

import "time"

// Source identifies which upstream collector produced a document.
type Source string

const (
	SourceConsensus Source = "consensus"
	SourceFiling    Source = "filing"
)

// ExtractedDocument is the uniform record handed over by the document
// extraction collaborator. One record exists per source file and it is
// never modified after it was produced.
type ExtractedDocument struct {
	Source    Source `json:"source"`
	Filename  string `json:"filename"`
	Company   string `json:"company"`
	Date      string `json:"date"`
	FullText  string `json:"full_text"`
	CharCount int    `json:"char_count"`
}

// Paragraph is a blank-line separated block of a document. Index is the
// position among the non-empty paragraphs of the document.
type Paragraph struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	CharCount int    `json:"char_count"`
}

// KeywordMatch is a paragraph that contains at least one topic keyword,
// together with its surrounding context window.
type KeywordMatch struct {
	ParagraphIndex  int      `json:"paragraph_index"`
	MatchedKeywords []string `json:"matched_keywords"`
	ContextText     string   `json:"context_text"`
	StartParagraph  int      `json:"start_paragraph"`
	EndParagraph    int      `json:"end_paragraph"`
}

// MergedSpan is one or more keyword matches collapsed into a single excerpt.
//
// ParagraphIndex and LastParagraphIndex are the first and last seed
// paragraphs folded into the span. StartParagraph and EndParagraph bound the
// paragraphs covered by the context windows.
type MergedSpan struct {
	ParagraphIndex     int      `json:"paragraph_index"`
	LastParagraphIndex int      `json:"last_paragraph_index"`
	StartParagraph     int      `json:"start_paragraph"`
	EndParagraph       int      `json:"end_paragraph"`
	MatchedKeywords    []string `json:"matched_keywords"`
	Text               string   `json:"text"`
	CharCount          int      `json:"char_count"`
}

// SegmentationResult summarises the topical content found in one document.
type SegmentationResult struct {
	Spans          []MergedSpan `json:"spans"`
	FoundKeywords  []string     `json:"found_keywords"`
	ParagraphCount int          `json:"paragraph_count"` // number of spans
	TotalChars     int          `json:"total_chars"`
}

// Polarity is the direction in which a factor moves a KPI.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// Confidence is the model's own rating of a relation.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// RelationRecord is one KPI/factor relation asserted for one document.
// Records sharing a (KPI, Factor) pair are all kept.
type RelationRecord struct {
	Company    string     `json:"company"`
	Date       string     `json:"date"`
	Filename   string     `json:"filename"`
	KPI        string     `json:"kpi"`
	Factor     string     `json:"factor"`
	Relation   Polarity   `json:"relation"`
	Evidence   string     `json:"evidence"`
	Confidence Confidence `json:"confidence"`
}

// DocumentExtraction is the persisted outcome of extracting one document.
type DocumentExtraction struct {
	Source        Source           `json:"source"`
	Filename      string           `json:"filename"`
	Company       string           `json:"company"`
	Date          string           `json:"date"`
	TVCharCount   int              `json:"tv_char_count"`
	FoundKeywords []string         `json:"found_keywords"`
	Relations     []RelationRecord `json:"kpi_factor_relations"`
	KeyInsights   []string         `json:"key_insights"`
	Model         string           `json:"model"`
	ExtractedAt   time.Time        `json:"extracted_at"`
	InputTokens   int              `json:"input_tokens"`
	OutputTokens  int              `json:"output_tokens"`
}

// Example is a short excerpt kept on a combination for reporting.
type Example struct {
	Company    string     `json:"company"`
	Date       string     `json:"date"`
	Relation   Polarity   `json:"relation"`
	Evidence   string     `json:"evidence"`
	Confidence Confidence `json:"confidence"`
}

// KpiFactorCombination accumulates every record sharing a (KPI, Factor) pair.
type KpiFactorCombination struct {
	KPI           string    `json:"kpi"`
	Factor        string    `json:"factor"`
	TotalMentions int       `json:"total_mentions"`
	PositiveCount int       `json:"positive_count"`
	NegativeCount int       `json:"negative_count"`
	NeutralCount  int       `json:"neutral_count"`
	Examples      []Example `json:"examples"`
}

// CompanySummary lists what a single company's documents talk about.
type CompanySummary struct {
	KPIs          []string         `json:"kpis"`
	Factors       []string         `json:"factors"`
	KPICount      int              `json:"kpi_count"`
	FactorCount   int              `json:"factor_count"`
	RelationCount int              `json:"relation_count"`
	Relations     []RelationRecord `json:"relations"`
}

// AggregateSummary holds corpus-wide totals.
type AggregateSummary struct {
	TotalDocuments   int      `json:"total_documents"`
	TotalRelations   int      `json:"total_relations"`
	UniqueKPIs       []string `json:"unique_kpis"`
	UniqueFactors    []string `json:"unique_factors"`
	KPICount         int      `json:"kpi_count"`
	FactorCount      int      `json:"factor_count"`
	CombinationCount int      `json:"combination_count"`
}

// AggregatedResult is the fold of all document extractions of a run.
// Companies keeps the order in which companies were first seen.
type AggregatedResult struct {
	Summary      AggregateSummary          `json:"summary"`
	Companies    []string                  `json:"companies"`
	ByCompany    map[string]CompanySummary `json:"by_company"`
	Combinations []KpiFactorCombination    `json:"kpi_factor_combinations"`
	AllRelations []RelationRecord          `json:"all_relations"`
}

// DocumentStatus is the per-document outcome recorded in a run summary.
type DocumentStatus string

const (
	DocumentOK               DocumentStatus = "ok"
	DocumentSegmentedEmpty   DocumentStatus = "segmentation_empty"
	DocumentExtractionFailed DocumentStatus = "extraction_failed"
)

// DocumentOutcome is one line of the run summary.
type DocumentOutcome struct {
	Filename  string         `json:"filename"`
	Company   string         `json:"company"`
	Status    DocumentStatus `json:"status"`
	Relations int            `json:"relations"`
	Error     string         `json:"error,omitempty"`
}

// CompanyStats are per-company counters of a run.
type CompanyStats struct {
	Documents int `json:"documents"`
	Topical   int `json:"topical"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Relations int `json:"relations"`
}

// RunSummary is the final tally of a pipeline run.
type RunSummary struct {
	RunID                string                  `json:"run_id"`
	StartedAt            time.Time               `json:"started_at"`
	FinishedAt           time.Time               `json:"finished_at"`
	Model                string                  `json:"model"`
	TotalDocuments       int                     `json:"total_documents"`
	SegmentedEmpty       int                     `json:"segmented_empty"`
	Succeeded            int                     `json:"succeeded"`
	Failed               int                     `json:"failed"`
	TotalRelations       int                     `json:"total_relations"`
	InputTokens          int                     `json:"input_tokens"`
	OutputTokens         int                     `json:"output_tokens"`
	EstimatedCostUSD     float64                 `json:"estimated_cost_usd"`
	OriginalChars        int                     `json:"original_chars"`
	TopicalChars         int                     `json:"topical_chars"`
	ReductionRate        float64                 `json:"reduction_rate"`
	EstimatedTokensSaved int                     `json:"estimated_tokens_saved"`
	Companies            map[string]CompanyStats `json:"companies"`
	Documents            []DocumentOutcome       `json:"documents"`
	Warnings             []string                `json:"warnings,omitempty"`
	Provider             *ProviderStats          `json:"provider,omitempty"`
}

// ProviderStats are the request metrics the LLM client collected during a
// run. Retried attempts count as separate requests.
type ProviderStats struct {
	Requests        int     `json:"requests"`
	TotalTokens     int     `json:"total_tokens"`
	DurationMs      int64   `json:"duration_ms"`
	TokensPerSecond float32 `json:"tokens_per_second"`
}
