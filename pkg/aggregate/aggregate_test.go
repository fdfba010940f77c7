package aggregate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"
)

func rel(kpi, factor string, p common.Polarity) common.RelationRecord {
	return common.RelationRecord{KPI: kpi, Factor: factor, Relation: p, Evidence: kpi + " / " + factor, Confidence: common.ConfidenceHigh}
}

func doc(name, company string, rels ...common.RelationRecord) common.DocumentExtraction {
	return common.DocumentExtraction{Filename: name, Company: company, Date: "2024-01-01", Relations: rels}
}

func TestAggregate_ContradictingPolarities(t *testing.T) {
	docs := []common.DocumentExtraction{
		doc("a.pdf", "LG전자", rel("매출", "환율", common.PolarityPositive)),
		doc("b.pdf", "삼성전자", rel("매출", "환율", common.PolarityNegative)),
	}

	got := Aggregate(docs)
	if len(got.Combinations) != 1 {
		t.Fatalf("expected 1 combination, got %d", len(got.Combinations))
	}
	c := got.Combinations[0]
	if c.KPI != "매출" || c.Factor != "환율" {
		t.Fatalf("unexpected combination key %s|%s", c.KPI, c.Factor)
	}
	if c.TotalMentions != 2 || c.PositiveCount != 1 || c.NegativeCount != 1 || c.NeutralCount != 0 {
		t.Fatalf("unexpected counts %+v", c)
	}
	if len(c.Examples) != 2 || c.Examples[0].Company != "LG전자" || c.Examples[1].Company != "삼성전자" {
		t.Fatalf("unexpected examples %+v", c.Examples)
	}
	if got.Summary.TotalRelations != 2 || got.Summary.TotalDocuments != 2 {
		t.Fatalf("unexpected summary %+v", got.Summary)
	}
	if len(got.AllRelations) != 2 || got.AllRelations[0].Filename != "a.pdf" || got.AllRelations[0].Company != "LG전자" {
		t.Fatalf("records should be filled from their document: %+v", got.AllRelations)
	}
}

func TestAggregate_SortedByMentionsStable(t *testing.T) {
	docs := []common.DocumentExtraction{
		doc("a.pdf", "LG전자",
			rel("ASP", "프로모션", common.PolarityNegative),
			rel("매출", "환율", common.PolarityPositive),
			rel("점유율", "경쟁사 전략", common.PolarityNeutral),
		),
		doc("b.pdf", "LG전자", rel("매출", "환율", common.PolarityPositive)),
	}

	got := Aggregate(docs)
	var keys []string
	for _, c := range got.Combinations {
		keys = append(keys, c.KPI+"|"+c.Factor)
	}
	want := []string{"매출|환율", "ASP|프로모션", "점유율|경쟁사 전략"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("order = %v, want %v", keys, want)
	}
}

func TestAggregate_CountsAreOrderIndependent(t *testing.T) {
	docs := []common.DocumentExtraction{
		doc("a.pdf", "LG전자", rel("매출", "환율", common.PolarityPositive), rel("ASP", "패널 가격", common.PolarityNegative)),
		doc("b.pdf", "삼성전자", rel("매출", "환율", common.PolarityNegative)),
		doc("c.pdf", "LG전자", rel("매출", "환율", common.PolarityNeutral), rel("매출", "환율", common.PolarityPositive)),
		doc("d.pdf", "삼성전자"),
	}
	permutations := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}}

	counts := func(r common.AggregatedResult) map[string][4]int {
		out := map[string][4]int{}
		for _, c := range r.Combinations {
			out[c.KPI+"|"+c.Factor] = [4]int{c.TotalMentions, c.PositiveCount, c.NegativeCount, c.NeutralCount}
		}
		return out
	}

	var base map[string][4]int
	for i, perm := range permutations {
		ordered := make([]common.DocumentExtraction, 0, len(perm))
		for _, j := range perm {
			ordered = append(ordered, docs[j])
		}
		got := counts(Aggregate(ordered))
		if i == 0 {
			base = got
			continue
		}
		if !reflect.DeepEqual(got, base) {
			t.Fatalf("permutation %v changed counts: %v vs %v", perm, got, base)
		}
	}
	if base["매출|환율"] != [4]int{4, 2, 1, 1} {
		t.Fatalf("unexpected counts %v", base["매출|환율"])
	}
}

func TestAggregate_ExamplesCappedAndTruncated(t *testing.T) {
	long := strings.Repeat("가", 150)
	var docs []common.DocumentExtraction
	for i := 0; i < 5; i++ {
		r := rel("매출", "환율", common.PolarityPositive)
		r.Evidence = fmt.Sprintf("%d%s", i, long)
		docs = append(docs, doc(fmt.Sprintf("%d.pdf", i), "LG전자", r))
	}

	got := Aggregate(docs)
	ex := got.Combinations[0].Examples
	if len(ex) != 3 {
		t.Fatalf("expected 3 examples, got %d", len(ex))
	}
	for i, e := range ex {
		if !strings.HasPrefix(e.Evidence, fmt.Sprint(i)) {
			t.Fatalf("example %d is not the %d-th record: %q", i, i, e.Evidence[:5])
		}
		if !strings.HasSuffix(e.Evidence, "...") || len([]rune(e.Evidence)) != 103 {
			t.Fatalf("example %d not truncated: %d runes", i, len([]rune(e.Evidence)))
		}
	}
	if got.AllRelations[0].Evidence != "0"+long {
		t.Fatal("records must keep their full evidence")
	}
}

func TestAggregate_CompanySummaries(t *testing.T) {
	r := rel("매출", "환율", common.PolarityPositive)
	r.Confidence = ""
	docs := []common.DocumentExtraction{
		doc("a.pdf", "LG전자", r, rel("ASP", "환율", common.PolarityNegative)),
		doc("b.pdf", "삼성전자"),
	}

	got := Aggregate(docs)
	if !reflect.DeepEqual(got.Companies, []string{"LG전자", "삼성전자"}) {
		t.Fatalf("companies = %v", got.Companies)
	}
	lg := got.ByCompany["LG전자"]
	if !reflect.DeepEqual(lg.KPIs, []string{"ASP", "매출"}) || !reflect.DeepEqual(lg.Factors, []string{"환율"}) {
		t.Fatalf("unexpected LG summary %+v", lg)
	}
	if lg.KPICount != 2 || lg.FactorCount != 1 || lg.RelationCount != 2 {
		t.Fatalf("unexpected LG counts %+v", lg)
	}
	if lg.Relations[0].Confidence != common.ConfidenceUnknown {
		t.Fatalf("missing confidence should default to unknown, got %q", lg.Relations[0].Confidence)
	}
	samsung, ok := got.ByCompany["삼성전자"]
	if !ok || samsung.RelationCount != 0 {
		t.Fatalf("company without relations should still be listed: %+v", got.ByCompany)
	}
	if !reflect.DeepEqual(got.Summary.UniqueKPIs, []string{"ASP", "매출"}) {
		t.Fatalf("unique KPIs = %v", got.Summary.UniqueKPIs)
	}
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil)
	if len(got.Combinations) != 0 || len(got.AllRelations) != 0 || got.Summary.TotalDocuments != 0 {
		t.Fatalf("unexpected result %+v", got)
	}
}

type mapLoader map[string]common.DocumentExtraction

func (m mapLoader) LoadExtraction(ctx context.Context, name string) (common.DocumentExtraction, error) {
	if err := ctx.Err(); err != nil {
		return common.DocumentExtraction{}, err
	}
	d, ok := m[name]
	if !ok {
		return common.DocumentExtraction{}, errors.New("not found")
	}
	return d, nil
}

func TestLoadDocuments_KeepsOrderAndSkipsMissing(t *testing.T) {
	loader := mapLoader{}
	var names []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("%02d.pdf", i)
		names = append(names, name)
		if i%5 == 3 {
			continue
		}
		loader[name] = doc(name, "LG전자")
	}

	docs, skipped, err := LoadDocuments(context.Background(), loader, names, 4)
	if err != nil {
		t.Fatalf("LoadDocuments() error = %v", err)
	}
	if !reflect.DeepEqual(skipped, []string{"03.pdf", "08.pdf", "13.pdf", "18.pdf"}) {
		t.Fatalf("skipped = %v", skipped)
	}
	if len(docs) != 16 {
		t.Fatalf("expected 16 docs, got %d", len(docs))
	}
	for i := 1; i < len(docs); i++ {
		if docs[i-1].Filename >= docs[i].Filename {
			t.Fatalf("order not preserved at %d: %s >= %s", i, docs[i-1].Filename, docs[i].Filename)
		}
	}
}

func TestLoadDocuments_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := LoadDocuments(ctx, mapLoader{"a": doc("a", "x")}, []string{"a"}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
