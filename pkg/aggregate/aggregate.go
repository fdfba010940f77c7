package aggregate

import (
	"slices"
	"sort"

	"github.com/OFFIS-RIT/tvkpi/internal/util"
	"github.com/OFFIS-RIT/tvkpi/pkg/common"
)

const (
	maxExamples        = 3
	maxExampleEvidence = 100
)

type comboKey struct {
	kpi    string
	factor string
}

type companyAcc struct {
	kpis      map[string]struct{}
	factors   map[string]struct{}
	relations []common.RelationRecord
}

// Aggregator folds document extractions into corpus statistics. Counts do
// not depend on the order documents are added in; the examples kept per
// combination do, so documents should be added in a stable order.
//
// An Aggregator is not safe for concurrent use.
type Aggregator struct {
	documents int
	companies []string
	byCompany map[string]*companyAcc
	combos    map[comboKey]*common.KpiFactorCombination
	order     []comboKey
	all       []common.RelationRecord
	kpis      map[string]struct{}
	factors   map[string]struct{}
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		byCompany: map[string]*companyAcc{},
		combos:    map[comboKey]*common.KpiFactorCombination{},
		kpis:      map[string]struct{}{},
		factors:   map[string]struct{}{},
	}
}

// Add folds one document into the aggregate. The document's company is
// registered even if it carries no relations.
func (a *Aggregator) Add(doc common.DocumentExtraction) {
	a.documents++
	if doc.Company != "" {
		a.company(doc.Company)
	}
	for _, r := range doc.Relations {
		if r.Company == "" {
			r.Company = doc.Company
		}
		if r.Filename == "" {
			r.Filename = doc.Filename
		}
		if r.Date == "" {
			r.Date = doc.Date
		}
		if r.Confidence == "" {
			r.Confidence = common.ConfidenceUnknown
		}
		a.addRecord(r)
	}
}

func (a *Aggregator) company(name string) *companyAcc {
	acc, ok := a.byCompany[name]
	if !ok {
		acc = &companyAcc{kpis: map[string]struct{}{}, factors: map[string]struct{}{}}
		a.byCompany[name] = acc
		a.companies = append(a.companies, name)
	}
	return acc
}

func (a *Aggregator) addRecord(r common.RelationRecord) {
	a.all = append(a.all, r)
	a.kpis[r.KPI] = struct{}{}
	a.factors[r.Factor] = struct{}{}

	key := comboKey{kpi: r.KPI, factor: r.Factor}
	combo, ok := a.combos[key]
	if !ok {
		combo = &common.KpiFactorCombination{KPI: r.KPI, Factor: r.Factor, Examples: []common.Example{}}
		a.combos[key] = combo
		a.order = append(a.order, key)
	}
	combo.TotalMentions++
	switch r.Relation {
	case common.PolarityPositive:
		combo.PositiveCount++
	case common.PolarityNegative:
		combo.NegativeCount++
	case common.PolarityNeutral:
		combo.NeutralCount++
	}
	if len(combo.Examples) < maxExamples {
		combo.Examples = append(combo.Examples, common.Example{
			Company:    r.Company,
			Date:       r.Date,
			Relation:   r.Relation,
			Evidence:   util.TruncateRunes(r.Evidence, maxExampleEvidence, "..."),
			Confidence: r.Confidence,
		})
	}

	if r.Company == "" {
		return
	}
	acc := a.company(r.Company)
	acc.kpis[r.KPI] = struct{}{}
	acc.factors[r.Factor] = struct{}{}
	acc.relations = append(acc.relations, r)
}

// Result returns the aggregate so far. Combinations are sorted by total
// mentions, descending; ties keep the order in which pairs were first seen.
func (a *Aggregator) Result() common.AggregatedResult {
	combos := make([]common.KpiFactorCombination, 0, len(a.order))
	for _, key := range a.order {
		c := *a.combos[key]
		c.Examples = slices.Clone(c.Examples)
		combos = append(combos, c)
	}
	sort.SliceStable(combos, func(i, j int) bool {
		return combos[i].TotalMentions > combos[j].TotalMentions
	})

	byCompany := make(map[string]common.CompanySummary, len(a.byCompany))
	for name, acc := range a.byCompany {
		kpis := sortedKeys(acc.kpis)
		factors := sortedKeys(acc.factors)
		relations := slices.Clone(acc.relations)
		if relations == nil {
			relations = []common.RelationRecord{}
		}
		byCompany[name] = common.CompanySummary{
			KPIs:          kpis,
			Factors:       factors,
			KPICount:      len(kpis),
			FactorCount:   len(factors),
			RelationCount: len(relations),
			Relations:     relations,
		}
	}

	kpis := sortedKeys(a.kpis)
	factors := sortedKeys(a.factors)
	all := slices.Clone(a.all)
	if all == nil {
		all = []common.RelationRecord{}
	}

	return common.AggregatedResult{
		Summary: common.AggregateSummary{
			TotalDocuments:   a.documents,
			TotalRelations:   len(all),
			UniqueKPIs:       kpis,
			UniqueFactors:    factors,
			KPICount:         len(kpis),
			FactorCount:      len(factors),
			CombinationCount: len(combos),
		},
		Companies:    slices.Clone(a.companies),
		ByCompany:    byCompany,
		Combinations: combos,
		AllRelations: all,
	}
}

// Aggregate folds docs in the given order.
func Aggregate(docs []common.DocumentExtraction) common.AggregatedResult {
	a := New()
	for _, d := range docs {
		a.Add(d)
	}
	return a.Result()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
