package graph

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

type nodeLink struct {
	Directed   bool   `json:"directed"`
	Multigraph bool   `json:"multigraph"`
	Nodes      []Node `json:"nodes"`
	Links      []Edge `json:"links"`
}

// MarshalJSON encodes the graph in node-link form.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeLink{
		Directed:   true,
		Multigraph: false,
		Nodes:      g.Nodes(),
		Links:      g.Edges(),
	})
}

// UnmarshalJSON restores a graph written by MarshalJSON. Degrees are
// recomputed from the links.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var nl nodeLink
	if err := json.Unmarshal(data, &nl); err != nil {
		return err
	}
	*g = *New()
	for _, n := range nl.Nodes {
		g.AddNode(n.ID, n.Type, n.Label)
	}
	for _, l := range nl.Links {
		if _, ok := g.nodeIndex[l.From]; !ok {
			return fmt.Errorf("link %s -> %s: unknown source node", l.From, l.To)
		}
		if _, ok := g.nodeIndex[l.To]; !ok {
			return fmt.Errorf("link %s -> %s: unknown target node", l.From, l.To)
		}
		e, created := g.EnsureEdge(l.From, l.To, l.Type)
		if !created {
			return fmt.Errorf("duplicate link %s -> %s", l.From, l.To)
		}
		*e = copyEdge(&l)
	}
	return nil
}

type graphML struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphMLKey `xml:"key"`
	Graph   graphMLGraph `xml:"graph"`
}

type graphMLKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphMLGraph struct {
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphMLNode `xml:"node"`
	Edges       []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphMLData `xml:"data"`
}

type graphMLEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphMLData `xml:"data"`
}

type graphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// WriteGraphML writes the graph as GraphML. Evidences are not exported.
func (g *Graph) WriteGraphML(w io.Writer) error {
	doc := graphML{
		XMLNS: "http://graphml.graphdrawing.org/xmlns",
		Keys: []graphMLKey{
			{ID: "node_type", For: "node", AttrName: "node_type", AttrType: "string"},
			{ID: "label", For: "node", AttrName: "label", AttrType: "string"},
			{ID: "edge_type", For: "edge", AttrName: "edge_type", AttrType: "string"},
			{ID: "weight", For: "edge", AttrName: "weight", AttrType: "int"},
			{ID: "relation", For: "edge", AttrName: "relation", AttrType: "string"},
		},
		Graph: graphMLGraph{EdgeDefault: "directed"},
	}
	for _, n := range g.nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphMLNode{
			ID: n.ID,
			Data: []graphMLData{
				{Key: "node_type", Value: string(n.Type)},
				{Key: "label", Value: n.Label},
			},
		})
	}
	for _, e := range g.edges {
		data := []graphMLData{
			{Key: "edge_type", Value: string(e.Type)},
			{Key: "weight", Value: strconv.Itoa(e.Weight)},
		}
		if e.Relation != "" {
			data = append(data, graphMLData{Key: "relation", Value: string(e.Relation)})
		}
		doc.Graph.Edges = append(doc.Graph.Edges, graphMLEdge{Source: e.From, Target: e.To, Data: data})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
