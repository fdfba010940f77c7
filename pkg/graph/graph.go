package graph

import (
	"slices"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"
)

// NodeType is the kind of a graph node.
type NodeType string

const (
	NodeCompany NodeType = "company"
	NodeKPI     NodeType = "kpi"
	NodeFactor  NodeType = "factor"
)

// EdgeType is the kind of a graph edge.
type EdgeType string

const (
	EdgeHasKPI     EdgeType = "has_kpi"
	EdgeHasFactor  EdgeType = "has_factor"
	EdgeInfluences EdgeType = "influences"
)

const (
	kpiPrefix    = "KPI_"
	factorPrefix = "Factor_"
)

// KPINodeID returns the node id of a KPI. KPIs and factors are prefixed so
// a KPI and a factor with the same name stay distinct nodes.
func KPINodeID(name string) string { return kpiPrefix + name }

// FactorNodeID returns the node id of a factor.
func FactorNodeID(name string) string { return factorPrefix + name }

// Node is a vertex of the knowledge graph.
type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"node_type"`
	Label string   `json:"label"`
}

// Evidence is one supporting statement accumulated on an influences edge.
type Evidence struct {
	Company    string            `json:"company"`
	Date       string            `json:"date"`
	Filename   string            `json:"filename"`
	Evidence   string            `json:"evidence"`
	Confidence common.Confidence `json:"confidence"`
}

// PolarityCounts counts the polarities asserted for an influences edge.
type PolarityCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

func (p *PolarityCounts) add(pol common.Polarity) {
	switch pol {
	case common.PolarityPositive:
		p.Positive++
	case common.PolarityNegative:
		p.Negative++
	case common.PolarityNeutral:
		p.Neutral++
	}
}

// Edge is a directed edge. For influences edges Relation is the polarity of
// the first record seen for the pair, while Weight, Evidences and
// Polarities accumulate over every record.
type Edge struct {
	From       string          `json:"source"`
	To         string          `json:"target"`
	Type       EdgeType        `json:"edge_type"`
	Weight     int             `json:"weight"`
	Relation   common.Polarity `json:"relation,omitempty"`
	Evidences  []Evidence      `json:"evidences,omitempty"`
	Polarities *PolarityCounts `json:"polarity_counts,omitempty"`
}

type edgeKey struct {
	from string
	to   string
}

// Graph is a directed knowledge graph of companies, KPIs and factors. At
// most one edge exists per ordered node pair.
//
// A Graph is built by a single writer and is not safe for concurrent
// mutation.
type Graph struct {
	nodes     []*Node
	nodeIndex map[string]int
	edges     []*Edge
	edgeIndex map[edgeKey]int
	degree    map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodeIndex: map[string]int{},
		edgeIndex: map[edgeKey]int{},
		degree:    map[string]int{},
	}
}

// AddNode adds a node unless one with the same id exists. It reports
// whether the node was created.
func (g *Graph) AddNode(id string, typ NodeType, label string) bool {
	if _, ok := g.nodeIndex[id]; ok {
		return false
	}
	g.nodeIndex[id] = len(g.nodes)
	g.nodes = append(g.nodes, &Node{ID: id, Type: typ, Label: label})
	return true
}

// EnsureEdge returns the edge from -> to, creating it with weight 1 if it
// does not exist yet. Missing end nodes must be added beforehand.
func (g *Graph) EnsureEdge(from, to string, typ EdgeType) (*Edge, bool) {
	key := edgeKey{from: from, to: to}
	if i, ok := g.edgeIndex[key]; ok {
		return g.edges[i], false
	}
	e := &Edge{From: from, To: to, Type: typ, Weight: 1}
	g.edgeIndex[key] = len(g.edges)
	g.edges = append(g.edges, e)
	g.degree[from]++
	g.degree[to]++
	return e, true
}

// AddRelation records one relation: it links the company to the KPI and
// the factor once, and creates or strengthens the factor -> KPI edge.
func (g *Graph) AddRelation(r common.RelationRecord) {
	kpiID := KPINodeID(r.KPI)
	factorID := FactorNodeID(r.Factor)
	g.AddNode(kpiID, NodeKPI, r.KPI)
	g.AddNode(factorID, NodeFactor, r.Factor)

	if r.Company != "" {
		g.AddNode(r.Company, NodeCompany, r.Company)
		g.EnsureEdge(r.Company, kpiID, EdgeHasKPI)
		g.EnsureEdge(r.Company, factorID, EdgeHasFactor)
	}

	e, created := g.EnsureEdge(factorID, kpiID, EdgeInfluences)
	if created {
		e.Relation = r.Relation
	} else {
		e.Weight++
	}
	if e.Polarities == nil {
		e.Polarities = &PolarityCounts{}
	}
	e.Polarities.add(r.Relation)
	e.Evidences = append(e.Evidences, Evidence{
		Company:    r.Company,
		Date:       r.Date,
		Filename:   r.Filename,
		Evidence:   r.Evidence,
		Confidence: r.Confidence,
	})
}

// Build turns an aggregated result into a graph. Companies come first, then
// KPIs and factors in their sorted order, then one AddRelation per record.
func Build(agg common.AggregatedResult) *Graph {
	g := New()

	companies := slices.Clone(agg.Companies)
	var extra []string
	for name := range agg.ByCompany {
		if !slices.Contains(companies, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, c := range append(companies, extra...) {
		g.AddNode(c, NodeCompany, c)
	}
	for _, k := range agg.Summary.UniqueKPIs {
		g.AddNode(KPINodeID(k), NodeKPI, k)
	}
	for _, f := range agg.Summary.UniqueFactors {
		g.AddNode(FactorNodeID(f), NodeFactor, f)
	}

	for _, r := range agg.AllRelations {
		g.AddRelation(r)
	}
	return g
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	return out
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return *g.nodes[i], true
}

// Edges returns copies of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, copyEdge(e))
	}
	return out
}

// Edge returns the edge from -> to.
func (g *Graph) Edge(from, to string) (Edge, bool) {
	i, ok := g.edgeIndex[edgeKey{from: from, to: to}]
	if !ok {
		return Edge{}, false
	}
	return copyEdge(g.edges[i]), true
}

// EdgesOfType returns the edges of one type in insertion order.
func (g *Graph) EdgesOfType(typ EdgeType) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Type == typ {
			out = append(out, copyEdge(e))
		}
	}
	return out
}

// Degree is the number of edges incident to id, regardless of direction.
func (g *Graph) Degree(id string) int {
	return g.degree[id]
}

func copyEdge(e *Edge) Edge {
	c := *e
	c.Evidences = slices.Clone(e.Evidences)
	if e.Polarities != nil {
		p := *e.Polarities
		c.Polarities = &p
	}
	return c
}
