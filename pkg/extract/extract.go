package extract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OFFIS-RIT/tvkpi/internal/util"
	"github.com/OFFIS-RIT/tvkpi/pkg/ai"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"

	"github.com/go-playground/validator"
	"golang.org/x/time/rate"
)

// ErrExtractionFailed is returned when a document could not be extracted
// within the attempt budget. The document is skipped by the caller.
var ErrExtractionFailed = errors.New("extraction failed")

// ErrEmptyInput is returned for documents without topical text.
var ErrEmptyInput = errors.New("empty extraction input")

// Status tags the outcome of an extraction.
type Status string

const (
	StatusOK            Status = "ok"
	StatusParseError    Status = "parse_error"
	StatusProviderError Status = "provider_error"
)

// Input is the topical text of one document.
type Input struct {
	Filename string
	Company  string
	Date     string
	Text     string
}

// Result is the tagged outcome of Extract. Relations and KeyInsights are
// only set for StatusOK; Raw holds the last unparsable answer for
// StatusParseError and ProviderErr the last provider failure for
// StatusProviderError. Usage sums all attempts.
type Result struct {
	Status      Status
	Relations   []common.RelationRecord
	KeyInsights []string
	Raw         string
	ProviderErr *ai.ProviderError
	Attempts    int
	Model       string
	Usage       ai.Usage
}

// Client extracts KPI/factor relations from a document with one structured
// generation request, retried on parse failures, rate limiting and other
// provider errors.
type Client struct {
	ai       ai.GraphAIClient
	kpis     []string
	factors  []string
	model    string
	temp     float64
	thinking string
	validate *validator.Validate
	limiter  *rate.Limiter
	sleep    util.SleepFunc

	maxAttempts       int
	parseDelay        time.Duration
	transportDelay    time.Duration
	rateLimitFallback time.Duration
	rateLimitMargin   time.Duration
}

// NewClientParams configures a Client.
//
// RequestsPerMinute paces requests across all documents; zero or less
// disables pacing. Zero durations and attempt counts take the defaults
// of 3 attempts, 2s after a parse failure, 5s after a transport failure,
// 60s after a rate limit without hint and a 5s margin on provider hints.
// Thinking is passed to the provider as reasoning effort when set.
type NewClientParams struct {
	AI          ai.GraphAIClient
	KPIs        []string
	Factors     []string
	Model       string
	Temperature float64
	Thinking    string

	MaxAttempts       int
	ParseRetryDelay   time.Duration
	TransportDelay    time.Duration
	RateLimitFallback time.Duration
	RateLimitMargin   time.Duration
	RequestsPerMinute float64
}

// Option customises a Client.
type Option func(*Client)

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep util.SleepFunc) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient creates an extraction client.
func NewClient(params NewClientParams, opts ...Option) *Client {
	c := &Client{
		ai:       params.AI,
		kpis:     params.KPIs,
		factors:  params.Factors,
		model:    params.Model,
		temp:     params.Temperature,
		thinking: params.Thinking,
		validate: newValidator(),
		limiter:  newLimiter(params.RequestsPerMinute),
		sleep:    util.SleepContext,

		maxAttempts:       orDefault(params.MaxAttempts, 3),
		parseDelay:        orDefault(params.ParseRetryDelay, 2*time.Second),
		transportDelay:    orDefault(params.TransportDelay, 5*time.Second),
		rateLimitFallback: orDefault(params.RateLimitFallback, 60*time.Second),
		rateLimitMargin:   orDefault(params.RateLimitMargin, 5*time.Second),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func newLimiter(rpm float64) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Duration(float64(time.Minute)/rpm)), 1)
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// Extract runs the extraction for one document. The returned error is nil
// for StatusOK, wraps ErrExtractionFailed once the attempt budget is spent
// and is the context error if ctx ends first. The Result is always filled.
func (c *Client) Extract(ctx context.Context, in Input) (Result, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Result{Status: StatusParseError}, ErrEmptyInput
	}

	prompt := fmt.Sprintf(
		ai.KpiFactorExtractionPrompt,
		strings.Join(c.kpis, ", "),
		strings.Join(c.factors, ", "),
		in.Company,
		in.Date,
		in.Text,
	)

	var usage ai.Usage
	last, tries := util.RetryAttempts(ctx, c.maxAttempts, c.sleep, func(ctx context.Context, attempt int) util.Attempt[Result] {
		res := c.attempt(ctx, in, prompt, attempt)
		usage = usage.Add(res.Value.Usage)
		return res
	})

	result := last.Value
	result.Attempts = tries
	result.Usage = usage
	if result.Model == "" {
		result.Model = c.model
	}

	switch {
	case last.State == util.AttemptSuccess:
		return result, nil
	case ctx.Err() != nil:
		return result, ctx.Err()
	default:
		logger.Error("Extraction failed", "file", in.Filename, "company", in.Company, "attempts", tries, "status", result.Status, "err", last.Err)
		return result, fmt.Errorf("%w: %s after %d attempts: %v", ErrExtractionFailed, in.Filename, tries, last.Err)
	}
}

func (c *Client) attempt(ctx context.Context, in Input, prompt string, n int) util.Attempt[Result] {
	if err := c.limiter.Wait(ctx); err != nil {
		return util.Attempt[Result]{State: util.AttemptTerminal, Err: err}
	}

	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(ai.ExtractionSystemPrompt),
		ai.WithTemperature(c.temp),
	}
	if c.model != "" {
		opts = append(opts, ai.WithModel(c.model))
	}
	if c.thinking != "" {
		opts = append(opts, ai.WithThinking(c.thinking))
	}

	completion, err := c.ai.GenerateCompletionWithFormat(
		ctx,
		"kpi_factor_relations",
		"KPI and factor relations found in a TV business document",
		prompt,
		payload{},
		opts...,
	)
	res := Result{Model: completion.Model, Usage: completion.Usage}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return util.Attempt[Result]{State: util.AttemptTerminal, Value: res, Err: err}
		}
		pe := ai.ClassifyError(err)
		res.Status = StatusProviderError
		res.ProviderErr = pe

		delay := c.transportDelay
		if pe.RateLimited() {
			delay = c.rateLimitFallback
			if pe.RetryAfter > 0 {
				delay = ceilSecond(pe.RetryAfter) + c.rateLimitMargin
			}
			logger.Warn("Rate limited", "file", in.Filename, "attempt", n, "max", c.maxAttempts, "delay", delay)
		} else {
			logger.Warn("Provider error", "file", in.Filename, "attempt", n, "max", c.maxAttempts, "delay", delay, "err", pe)
		}
		return util.Attempt[Result]{State: util.AttemptRetryable, Value: res, Delay: delay, Err: pe}
	}

	var p payload
	perr := ai.UnmarshalFlexible(completion.Content, &p)
	if perr == nil {
		perr = validatePayload(c.validate, &p)
	}
	if perr != nil {
		res.Status = StatusParseError
		res.Raw = completion.Content
		logger.Warn("Unparsable extraction", "file", in.Filename, "attempt", n, "max", c.maxAttempts, "delay", c.parseDelay, "err", truncateErr(perr))
		return util.Attempt[Result]{State: util.AttemptRetryable, Value: res, Delay: c.parseDelay, Err: perr}
	}

	res.Status = StatusOK
	res.Relations = toRecords(p, in)
	res.KeyInsights = p.KeyInsights
	return util.Attempt[Result]{State: util.AttemptSuccess, Value: res}
}

func ceilSecond(d time.Duration) time.Duration {
	return (d + time.Second - 1).Truncate(time.Second)
}

func truncateErr(err error) string {
	return util.TruncateRunes(err.Error(), 200, "...")
}

// EstimateCost returns the cost in USD of usage at the given prices per
// million input and output tokens, rounded to a hundredth of a cent.
func EstimateCost(u ai.Usage, inputPerMillion, outputPerMillion float64) float64 {
	cost := float64(u.InputTokens)/1e6*inputPerMillion + float64(u.OutputTokens)/1e6*outputPerMillion
	return math.Round(cost*1e4) / 1e4
}
