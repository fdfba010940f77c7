package graph

import (
	"sort"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

const (
	DefaultDamping   = 0.85
	DefaultTolerance = 1e-6
)

// Ranked is a node with a score.
type Ranked struct {
	Node  Node    `json:"node"`
	Score float64 `json:"score"`
}

// Stats summarises the graph.
type Stats struct {
	Nodes         int              `json:"nodes"`
	Edges         int              `json:"edges"`
	NodesByType   map[NodeType]int `json:"nodes_by_type"`
	EdgesByType   map[EdgeType]int `json:"edges_by_type"`
	AverageDegree float64          `json:"average_degree"`
}

// Stats returns node and edge counts per type and the average degree.
func (g *Graph) Stats() Stats {
	s := Stats{
		Nodes:       len(g.nodes),
		Edges:       len(g.edges),
		NodesByType: map[NodeType]int{},
		EdgesByType: map[EdgeType]int{},
	}
	for _, n := range g.nodes {
		s.NodesByType[n.Type]++
	}
	for _, e := range g.edges {
		s.EdgesByType[e.Type]++
	}
	if s.Nodes > 0 {
		s.AverageDegree = float64(2*s.Edges) / float64(s.Nodes)
	}
	return s
}

// TopByDegree returns the n nodes with the highest degree, optionally
// restricted to one node type (empty typ means all). Ties keep insertion
// order. n <= 0 returns all matching nodes.
func (g *Graph) TopByDegree(typ NodeType, n int) []Ranked {
	var ranked []Ranked
	for _, node := range g.nodes {
		if typ != "" && node.Type != typ {
			continue
		}
		ranked = append(ranked, Ranked{Node: *node, Score: float64(g.degree[node.ID])})
	}
	return top(ranked, n)
}

// PageRank computes edge weighted PageRank over the directed graph with the
// given damping factor, iterating until the change falls below tol. Scores
// sum to one. Self loops are ignored.
func (g *Graph) PageRank(damping, tol float64) map[string]float64 {
	scores := make(map[string]float64, len(g.nodes))
	if len(g.nodes) == 0 {
		return scores
	}
	if damping <= 0 || damping >= 1 {
		damping = DefaultDamping
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}

	wg := simple.NewWeightedDirectedGraph(0, 0)
	for i := range g.nodes {
		wg.AddNode(simple.Node(int64(i)))
	}
	for _, e := range g.edges {
		if e.From == e.To {
			continue
		}
		wg.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(int64(g.nodeIndex[e.From])),
			T: simple.Node(int64(g.nodeIndex[e.To])),
			W: float64(e.Weight),
		})
	}

	for id, score := range network.PageRank(wg, damping, tol) {
		scores[g.nodes[id].ID] = score
	}
	return scores
}

// TopByPageRank returns the n nodes with the highest PageRank using the
// default damping and tolerance. Ties keep insertion order.
func (g *Graph) TopByPageRank(n int) []Ranked {
	scores := g.PageRank(DefaultDamping, DefaultTolerance)
	ranked := make([]Ranked, 0, len(g.nodes))
	for _, node := range g.nodes {
		ranked = append(ranked, Ranked{Node: *node, Score: scores[node.ID]})
	}
	return top(ranked, n)
}

func top(ranked []Ranked, n int) []Ranked {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
