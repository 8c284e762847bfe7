package graph

import (
	"fmt"
	"io"
	"strings"
)

// Info represents the graph structure for visualization
type Info struct {
	ID         string
	EntryPoint string
	Nodes      []string
	Edges      []EdgeInfo
}

type EdgeInfo struct {
	From     string
	To       string
	Type     string // "direct" or "conditional"
	Metadata map[string]any
}

// GetGraphInfo lists nodes in insertion order, static edges first, then routers.
func (g *Graph[S, P]) GetGraphInfo() *Info {
	info := &Info{
		ID:         g.graphID,
		EntryPoint: g.entryPoint,
		Nodes:      append([]string(nil), g.order...),
	}

	for _, edge := range g.edges {
		info.Edges = append(info.Edges, EdgeInfo{
			From:     edge.From,
			To:       edge.To,
			Type:     "direct",
			Metadata: edge.Metadata,
		})
	}

	for _, name := range g.order {
		r, ok := g.routers[name]
		if !ok {
			continue
		}
		info.Edges = append(info.Edges, EdgeInfo{
			From:     name,
			To:       strings.Join(r.Targets, ","),
			Type:     "conditional",
			Metadata: r.Metadata,
		})
	}

	return info
}

func (g *Graph[S, P]) PrintGraph(w io.Writer) {
	info := g.GetGraphInfo()

	fmt.Fprintln(w, "Graph Structure:")
	fmt.Fprintf(w, "Entry Point: %s\n\n", info.EntryPoint)

	fmt.Fprintln(w, "Nodes:")
	for _, node := range info.Nodes {
		if node == info.EntryPoint {
			fmt.Fprintf(w, "  * %s (Entry)\n", node)
		} else {
			fmt.Fprintf(w, "  - %s\n", node)
		}
	}

	fmt.Fprintln(w, "\nEdges:")
	for _, edge := range info.Edges {
		switch edge.Type {
		case "direct":
			fmt.Fprintf(w, "  %s --> %s\n", edge.From, edge.To)
		case "conditional":
			fmt.Fprintf(w, "  %s --[condition]--> [%s]\n", edge.From, edge.To)
		}
	}
}

// Mermaid renders the graph as a flowchart. Nodes named in visited are
// styled so a run's path stands out.
func (info *Info) Mermaid(visited ...string) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString("    START((start))\n")
	sb.WriteString("    END((end))\n")

	for _, node := range info.Nodes {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", mermaidID(node), node)
	}
	if info.EntryPoint != "" {
		fmt.Fprintf(&sb, "    START --> %s\n", mermaidID(info.EntryPoint))
	}
	for _, edge := range info.Edges {
		switch edge.Type {
		case "direct":
			fmt.Fprintf(&sb, "    %s --> %s\n", mermaidID(edge.From), mermaidID(edge.To))
		case "conditional":
			for _, to := range strings.Split(edge.To, ",") {
				fmt.Fprintf(&sb, "    %s -.-> %s\n", mermaidID(edge.From), mermaidID(to))
			}
		}
	}

	seen := make(map[string]bool, len(visited))
	for _, name := range visited {
		if seen[name] {
			continue
		}
		seen[name] = true
		fmt.Fprintf(&sb, "    style %s fill:#d4edda,stroke:#28a745\n", mermaidID(name))
	}
	return sb.String()
}

func mermaidID(name string) string {
	if name == END {
		return "END"
	}
	return strings.NewReplacer("-", "_", " ", "_", ".", "_", "/", "_").Replace(name)
}
