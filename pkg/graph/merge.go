package graph

// MergeStats counts the entries a merge added.
type MergeStats struct {
	Nodes int
	Edges int
}

// Merge adds the candidates of ext that are not yet present. Lookups go
// through the node and edge indexes, so the cost is linear in the number of
// candidates regardless of the graph size.
//
// Edges whose endpoints are unknown create placeholder nodes. A placeholder
// takes label and type from the first real candidate with its id.
func (g *KnowledgeGraph) Merge(ext Extraction) MergeStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	var stats MergeStats

	for _, n := range ext.Nodes {
		id := NormalizeID(n.ID)
		if id == "" {
			id = NormalizeID(n.Label)
		}
		if id == "" {
			continue
		}
		n.ID = id
		if n.Label == "" {
			n.Label = id
		}

		existing, ok := g.nodes[id]
		switch {
		case !ok:
			g.nodes[id] = n
			g.nodeOrder = append(g.nodeOrder, id)
			stats.Nodes++
		case existing.Type == "" && n.Type != "":
			g.nodes[id] = n
		}
	}

	for _, e := range ext.Edges {
		e.Source = NormalizeID(e.Source)
		e.Target = NormalizeID(e.Target)
		e.Label = normalizeLabel(e.Label)
		if e.Source == "" || e.Target == "" || e.Label == "" || e.Source == e.Target {
			continue
		}
		if _, ok := g.edges[e]; ok {
			continue
		}
		for _, id := range []string{e.Source, e.Target} {
			if _, ok := g.nodes[id]; !ok {
				g.nodes[id] = Node{ID: id, Label: id}
				g.nodeOrder = append(g.nodeOrder, id)
				stats.Nodes++
			}
		}
		g.edges[e] = struct{}{}
		g.edgeOrder = append(g.edgeOrder, e)
		stats.Edges++
	}

	return stats
}
