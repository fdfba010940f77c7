package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/tvkpi/pkg/aggregate"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/store"
	fsstore "github.com/OFFIS-RIT/tvkpi/pkg/store/fs"

	"github.com/labstack/echo/v4"
)

func rel(kpi, factor string, p common.Polarity) common.RelationRecord {
	return common.RelationRecord{KPI: kpi, Factor: factor, Relation: p, Evidence: "e", Confidence: common.ConfidenceHigh}
}

func newTestServer(t *testing.T, withAggregate bool) (*echo.Echo, store.ResultStore) {
	t.Helper()
	s, err := fsstore.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if withAggregate {
		agg := aggregate.Aggregate([]common.DocumentExtraction{
			{Filename: "a.pdf", Company: "LG전자", Relations: []common.RelationRecord{
				rel("매출", "환율", common.PolarityPositive),
				rel("ASP", "환율", common.PolarityNegative),
			}},
			{Filename: "b.pdf", Company: "삼성전자", Relations: []common.RelationRecord{
				rel("매출", "환율", common.PolarityNegative),
				rel("매출", "프로모션", common.PolarityPositive),
			}},
		})
		if err := s.SaveAggregate(context.Background(), agg); err != nil {
			t.Fatal(err)
		}
	}
	return New(s), s
}

func do(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t, false)
	rec := do(e, http.MethodGet, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestGraph_NoAggregate(t *testing.T) {
	e, _ := newTestServer(t, false)
	if rec := do(e, http.MethodGet, "/api/graph"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGraph(t *testing.T) {
	e, _ := newTestServer(t, true)
	rec := do(e, http.MethodGet, "/api/graph")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Directed bool              `json:"directed"`
		Nodes    []json.RawMessage `json:"nodes"`
		Links    []struct {
			Source string `json:"source"`
			Target string `json:"target"`
			Type   string `json:"edge_type"`
			Weight int    `json:"weight"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	// 2 companies, 2 KPIs, 2 factors
	if !body.Directed || len(body.Nodes) != 6 {
		t.Fatalf("unexpected graph header: directed=%v nodes=%d", body.Directed, len(body.Nodes))
	}
	found := false
	for _, l := range body.Links {
		if l.Source == "Factor_환율" && l.Target == "KPI_매출" {
			found = l.Type == "influences" && l.Weight == 2
		}
	}
	if !found {
		t.Fatalf("missing weighted influences link: %+v", body.Links)
	}
}

func TestGraphML(t *testing.T) {
	e, _ := newTestServer(t, true)
	rec := do(e, http.MethodGet, "/api/graph/graphml")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<graphml") {
		t.Fatalf("unexpected response %d", rec.Code)
	}
}

func TestRankings(t *testing.T) {
	e, _ := newTestServer(t, true)

	tests := []struct {
		name   string
		target string
		code   int
		first  string
		count  int
	}{
		{"pagerank", "/api/rankings/pagerank?limit=1", http.StatusOK, "KPI_매출", 1},
		{"degree factor", "/api/rankings/degree?type=factor", http.StatusOK, "Factor_환율", 2},
		{"degree kpi", "/api/rankings/degree?type=kpi&limit=1", http.StatusOK, "KPI_매출", 1},
		{"bad type", "/api/rankings/degree?type=region", http.StatusBadRequest, "", 0},
		{"bad limit", "/api/rankings/pagerank?limit=abc", http.StatusBadRequest, "", 0},
		{"negative limit", "/api/rankings/pagerank?limit=-1", http.StatusBadRequest, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodGet, tt.target)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			var body struct {
				Ranking []struct {
					Node  struct{ ID string } `json:"node"`
					Score float64             `json:"score"`
				} `json:"ranking"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if len(body.Ranking) != tt.count || body.Ranking[0].Node.ID != tt.first {
				t.Fatalf("unexpected ranking %+v", body.Ranking)
			}
		})
	}
}

func TestCombinations(t *testing.T) {
	e, _ := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/api/combinations?factor="+url.QueryEscape("환율")+"&limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Total        int                           `json:"total"`
		Combinations []common.KpiFactorCombination `json:"combinations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 2 || len(body.Combinations) != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
	if c := body.Combinations[0]; c.KPI != "매출" || c.TotalMentions != 2 || c.PositiveCount != 1 || c.NegativeCount != 1 {
		t.Fatalf("unexpected combination %+v", c)
	}
}

func TestCompany(t *testing.T) {
	e, _ := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/api/companies/"+url.PathEscape("LG전자"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary common.CompanySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.RelationCount != 2 || summary.KPICount != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if rec := do(e, http.MethodGet, "/api/companies/nobody"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReload(t *testing.T) {
	e, s := newTestServer(t, false)
	if rec := do(e, http.MethodGet, "/api/graph/stats"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before the first run, got %d", rec.Code)
	}

	agg := aggregate.Aggregate([]common.DocumentExtraction{
		{Filename: "a.pdf", Company: "LG전자", Relations: []common.RelationRecord{rel("매출", "환율", common.PolarityPositive)}},
	})
	if err := s.SaveAggregate(context.Background(), agg); err != nil {
		t.Fatal(err)
	}

	if rec := do(e, http.MethodPost, "/api/graph/reload"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec := do(e, http.MethodGet, "/api/graph/stats")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_relations":1`) {
		t.Fatalf("unexpected stats %d %s", rec.Code, rec.Body.String())
	}
}
