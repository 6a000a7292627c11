package route

import (
	"errors"
	"fmt"
	"sort"

	"voyageopt/internal/geo"
	"voyageopt/internal/legcost"
)

type NodeID = string

// Node is a waypoint.
type Node struct {
	ID       NodeID       `json:"id" yaml:"id"`
	Name     string       `json:"name,omitempty" yaml:"name"`
	Position geo.Position `json:"position" yaml:"position"`
}

// Edge is a directed navigable leg. A zero distance is filled with the
// great-circle distance between its endpoints.
type Edge struct {
	ID         string  `json:"id,omitempty" yaml:"id"`
	From       NodeID  `json:"from" yaml:"from"`
	To         NodeID  `json:"to" yaml:"to"`
	DistanceNM float64 `json:"distanceNm,omitempty" yaml:"distanceNm"`
}

// Graph is an immutable waypoint graph. Adjacency lists are ordered by
// target id then edge id so every traversal is reproducible.
type Graph struct {
	nodes map[NodeID]Node
	ids   []NodeID
	out   map[NodeID][]Edge
	edges []Edge
}

func NewGraph(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{nodes: map[NodeID]Node{}, out: map[NodeID][]Edge{}}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, errors.New("route graph: node with empty id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("route graph: duplicate node %s", n.ID)
		}
		if !n.Position.Valid() {
			return nil, fmt.Errorf("route graph: node %s has invalid position %v", n.ID, n.Position)
		}
		g.nodes[n.ID] = n
		g.ids = append(g.ids, n.ID)
	}
	sort.Strings(g.ids)
	seen := map[string]bool{}
	for _, e := range edges {
		a, ok := g.nodes[e.From]
		if !ok {
			return nil, fmt.Errorf("route graph: edge %s->%s: unknown node %s", e.From, e.To, e.From)
		}
		b, ok := g.nodes[e.To]
		if !ok {
			return nil, fmt.Errorf("route graph: edge %s->%s: unknown node %s", e.From, e.To, e.To)
		}
		if e.From == e.To {
			return nil, fmt.Errorf("route graph: self loop at %s", e.From)
		}
		if e.ID == "" {
			e.ID = e.From + "->" + e.To
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("route graph: duplicate edge %s", e.ID)
		}
		seen[e.ID] = true
		if e.DistanceNM < 0 {
			return nil, fmt.Errorf("route graph: edge %s has negative distance", e.ID)
		}
		if e.DistanceNM == 0 {
			e.DistanceNM = geo.DistanceNM(a.Position, b.Position)
		}
		if e.DistanceNM == 0 {
			return nil, fmt.Errorf("route graph: edge %s has zero length", e.ID)
		}
		g.out[e.From] = append(g.out[e.From], e)
		g.edges = append(g.edges, e)
	}
	for _, es := range g.out {
		sort.Slice(es, func(i, j int) bool {
			if es[i].To != es[j].To {
				return es[i].To < es[j].To
			}
			return es[i].ID < es[j].ID
		})
	}
	sort.Slice(g.edges, func(i, j int) bool { return g.edges[i].ID < g.edges[j].ID })
	return g, nil
}

// GreatCircle chains origin, via... and dest into a single-path graph.
func GreatCircle(origin Node, dest Node, via ...Node) (*Graph, error) {
	all := append([]Node{origin}, via...)
	all = append(all, dest)
	edges := make([]Edge, 0, len(all)-1)
	for i := 0; i+1 < len(all); i++ {
		edges = append(edges, Edge{From: all[i].ID, To: all[i+1].ID})
	}
	return NewGraph(all, edges)
}

func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes ordered by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.ids))
	for i, id := range g.ids {
		out[i] = g.nodes[id]
	}
	return out
}

// Edges returns all edges ordered by id.
func (g *Graph) Edges() []Edge { return append([]Edge(nil), g.edges...) }

// Out returns the outgoing edges of id.
func (g *Graph) Out(id NodeID) []Edge { return g.out[id] }

// Leg converts an edge into the evaluator's leg type.
func (g *Graph) Leg(e Edge) legcost.Leg {
	return legcost.Leg{ID: e.ID, From: e.From, To: e.To, Start: g.nodes[e.From].Position, End: g.nodes[e.To].Position, DistanceNM: e.DistanceNM}
}

// PathLegs resolves a node path into legs. When parallel edges exist the
// shortest one is used, ties broken by edge id.
func (g *Graph) PathLegs(path []NodeID) ([]legcost.Leg, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("path needs at least two nodes, got %d", len(path))
	}
	legs := make([]legcost.Leg, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		var best *Edge
		for _, e := range g.out[path[i]] {
			if e.To != path[i+1] {
				continue
			}
			if best == nil || e.DistanceNM < best.DistanceNM {
				e := e
				best = &e
			}
		}
		if best == nil {
			return nil, fmt.Errorf("no edge %s->%s", path[i], path[i+1])
		}
		legs = append(legs, g.Leg(*best))
	}
	return legs, nil
}
