package extract

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/tvkpi/pkg/ai"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
)

type scripted struct {
	content string
	err     error
}

type fakeAI struct {
	replies []scripted
	prompts []string
	options []ai.GenerateOptions
	calls   int
}

func (f *fakeAI) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	schema any,
	opts ...ai.GenerateOption,
) (ai.Completion, error) {
	f.prompts = append(f.prompts, prompt)
	var o ai.GenerateOptions
	for _, opt := range opts {
		opt(&o)
	}
	f.options = append(f.options, o)
	r := f.replies[min(f.calls, len(f.replies)-1)]
	f.calls++
	if r.err != nil {
		return ai.Completion{Model: "fake"}, r.err
	}
	return ai.Completion{Content: r.content, Model: "fake", Usage: ai.Usage{InputTokens: 100, OutputTokens: 10}}, nil
}

func (f *fakeAI) ResetMetrics()               {}
func (f *fakeAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(replies ...scripted) (*Client, *fakeAI, *sleepRecorder) {
	fake := &fakeAI{replies: replies}
	rec := &sleepRecorder{}
	c := NewClient(NewClientParams{
		AI:      fake,
		KPIs:    []string{"매출", "ASP"},
		Factors: []string{"환율", "패널 가격"},
	}, WithSleep(rec.sleep))
	return c, fake, rec
}

var input = Input{Filename: "lg_20240101.pdf", Company: "LG전자", Date: "2024-01-01", Text: "TV 매출은 환율 상승으로 증가했다."}

const validAnswer = `{
  "kpi_factor_relations": [
    {"kpi": "매출", "factor": "환율", "relation": "positive", "evidence": "TV 매출은 환율 상승으로 증가했다.", "confidence": "high"},
    {"kpi": "ASP", "factor": "패널 가격", "relation": "negative", "evidence": "", "confidence": ""}
  ],
  "key_insights": ["환율 효과"]
}`

func TestExtract_Success(t *testing.T) {
	c, fake, rec := newTestClient(scripted{content: validAnswer})

	res, err := c.Extract(context.Background(), input)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Status != StatusOK || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []common.RelationRecord{
		{Company: "LG전자", Date: "2024-01-01", Filename: "lg_20240101.pdf", KPI: "매출", Factor: "환율", Relation: common.PolarityPositive, Evidence: "TV 매출은 환율 상승으로 증가했다.", Confidence: common.ConfidenceHigh},
		{Company: "LG전자", Date: "2024-01-01", Filename: "lg_20240101.pdf", KPI: "ASP", Factor: "패널 가격", Relation: common.PolarityNegative, Confidence: common.ConfidenceUnknown},
	}
	if !reflect.DeepEqual(res.Relations, want) {
		t.Fatalf("relations = %+v, want %+v", res.Relations, want)
	}
	if !reflect.DeepEqual(res.KeyInsights, []string{"환율 효과"}) {
		t.Fatalf("insights = %v", res.KeyInsights)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("unexpected sleeps %v", rec.delays)
	}
	prompt := fake.prompts[0]
	for _, s := range []string{"매출, ASP", "환율, 패널 가격", "LG전자", "2024-01-01", input.Text} {
		if !strings.Contains(prompt, s) {
			t.Fatalf("prompt is missing %q", s)
		}
	}
}

func TestExtract_StripsCodeFence(t *testing.T) {
	c, _, _ := newTestClient(scripted{content: "```json\n" + validAnswer + "\n```"})

	res, err := c.Extract(context.Background(), input)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Relations) != 2 {
		t.Fatalf("expected 2 relations, got %d", len(res.Relations))
	}
}

func TestExtract_EmptyRelationsIsValid(t *testing.T) {
	c, _, _ := newTestClient(scripted{content: `{"kpi_factor_relations": [], "key_insights": []}`})

	res, err := c.Extract(context.Background(), input)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Status != StatusOK || len(res.Relations) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExtract_MalformedOnAllAttempts(t *testing.T) {
	c, fake, rec := newTestClient(scripted{content: "hello"})

	res, err := c.Extract(context.Background(), input)
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if res.Status != StatusParseError || res.Raw != "hello" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Relations) != 0 {
		t.Fatalf("failed extraction must not carry relations: %+v", res.Relations)
	}
	if fake.calls != 3 || res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d calls / %d attempts", fake.calls, res.Attempts)
	}
	if !reflect.DeepEqual(rec.delays, []time.Duration{2 * time.Second, 2 * time.Second}) {
		t.Fatalf("delays = %v", rec.delays)
	}
	if res.Usage != (ai.Usage{InputTokens: 300, OutputTokens: 30}) {
		t.Fatalf("usage should sum attempts, got %+v", res.Usage)
	}
}

func TestExtract_RejectsMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing key_insights", content: `{"kpi_factor_relations": []}`},
		{name: "missing relations", content: `{"key_insights": []}`},
		{name: "missing kpi", content: `{"kpi_factor_relations": [{"factor": "환율", "relation": "positive"}], "key_insights": []}`},
		{name: "bad polarity", content: `{"kpi_factor_relations": [{"kpi": "매출", "factor": "환율", "relation": "up"}], "key_insights": []}`},
		{name: "bad confidence", content: `{"kpi_factor_relations": [{"kpi": "매출", "factor": "환율", "relation": "positive", "confidence": "sure"}], "key_insights": []}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _, _ := newTestClient(scripted{content: tc.content})
			res, err := c.Extract(context.Background(), input)
			if !errors.Is(err, ErrExtractionFailed) {
				t.Fatalf("expected ErrExtractionFailed, got %v", err)
			}
			if res.Status != StatusParseError {
				t.Fatalf("status = %s, want %s", res.Status, StatusParseError)
			}
		})
	}
}

func TestExtract_RecoversAfterParseFailure(t *testing.T) {
	c, fake, rec := newTestClient(scripted{content: "not json"}, scripted{content: validAnswer})

	res, err := c.Extract(context.Background(), input)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fake.calls != 2 || res.Attempts != 2 || len(res.Relations) != 2 {
		t.Fatalf("unexpected result %+v after %d calls", res, fake.calls)
	}
	if !reflect.DeepEqual(rec.delays, []time.Duration{2 * time.Second}) {
		t.Fatalf("delays = %v", rec.delays)
	}
}

func TestExtract_RateLimitDelays(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{
			name: "provider hint plus margin",
			err:  errors.New("429 quota exceeded, retry_delay { seconds: 30 }"),
			want: 35 * time.Second,
		},
		{
			name: "no hint falls back",
			err:  errors.New("429 Too Many Requests"),
			want: 60 * time.Second,
		},
		{
			name: "typed provider error",
			err:  &ai.ProviderError{Kind: ai.ErrorRateLimited, RetryAfter: 10 * time.Second},
			want: 15 * time.Second,
		},
		{
			name: "fractional hint rounds up",
			err:  &ai.ProviderError{Kind: ai.ErrorRateLimited, RetryAfter: 1400 * time.Millisecond},
			want: 7 * time.Second,
		},
		{
			name: "whole second hint unchanged",
			err:  &ai.ProviderError{Kind: ai.ErrorRateLimited, RetryAfter: 2 * time.Second},
			want: 7 * time.Second,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _, rec := newTestClient(scripted{err: tc.err}, scripted{content: validAnswer})
			res, err := c.Extract(context.Background(), input)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if res.Status != StatusOK {
				t.Fatalf("status = %s", res.Status)
			}
			if !reflect.DeepEqual(rec.delays, []time.Duration{tc.want}) {
				t.Fatalf("delays = %v, want [%v]", rec.delays, tc.want)
			}
		})
	}
}

func TestExtract_GenerateOptions(t *testing.T) {
	tests := []struct {
		name   string
		params NewClientParams
		want   ai.GenerateOptions
	}{
		{
			name:   "defaults",
			params: NewClientParams{},
			want:   ai.GenerateOptions{SystemPrompts: []string{ai.ExtractionSystemPrompt}},
		},
		{
			name:   "model temperature and thinking",
			params: NewClientParams{Model: "gpt-5-mini", Temperature: 0.2, Thinking: "low"},
			want: ai.GenerateOptions{
				Model:         "gpt-5-mini",
				SystemPrompts: []string{ai.ExtractionSystemPrompt},
				Temperature:   0.2,
				Thinking:      "low",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeAI{replies: []scripted{{content: validAnswer}}}
			tc.params.AI = fake
			c := NewClient(tc.params)
			if _, err := c.Extract(context.Background(), input); err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(fake.options) != 1 || !reflect.DeepEqual(fake.options[0], tc.want) {
				t.Fatalf("options = %+v, want %+v", fake.options, tc.want)
			}
		})
	}
}

func TestExtract_ProviderErrorExhausted(t *testing.T) {
	c, fake, rec := newTestClient(scripted{err: errors.New("connection refused")})

	res, err := c.Extract(context.Background(), input)
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if res.Status != StatusProviderError || res.ProviderErr == nil || res.ProviderErr.Kind != ai.ErrorTransport {
		t.Fatalf("unexpected result %+v", res)
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", fake.calls)
	}
	if !reflect.DeepEqual(rec.delays, []time.Duration{5 * time.Second, 5 * time.Second}) {
		t.Fatalf("delays = %v", rec.delays)
	}
}

func TestExtract_RateLimitExhausted(t *testing.T) {
	c, _, rec := newTestClient(scripted{err: errors.New("429 Too Many Requests")})

	res, err := c.Extract(context.Background(), input)
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if res.ProviderErr == nil || !res.ProviderErr.RateLimited() {
		t.Fatalf("expected a rate limit error, got %+v", res.ProviderErr)
	}
	if len(rec.delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", rec.delays)
	}
}

func TestExtract_CanceledContext(t *testing.T) {
	c, fake, _ := newTestClient(scripted{content: validAnswer})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Extract(ctx, input)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fake.calls != 0 {
		t.Fatalf("expected no calls, got %d", fake.calls)
	}
}

func TestExtract_EmptyInput(t *testing.T) {
	c, fake, _ := newTestClient(scripted{content: validAnswer})
	if _, err := c.Extract(context.Background(), Input{Filename: "x", Text: "  \n"}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if fake.calls != 0 {
		t.Fatal("empty input must not reach the model")
	}
}

func TestEstimateCost(t *testing.T) {
	got := EstimateCost(ai.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 0.075, 0.30)
	if got != 0.375 {
		t.Fatalf("EstimateCost() = %v, want 0.375", got)
	}
}
