package engine

import (
	"fmt"
	"strings"

	"github.com/heatstack-io/heatstack/internal/ir"
)

// DAG is the dependency graph of declared resources, used to order
// creation and destruction.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from declared resources. Edges
// come from explicit DependsOn entries and from implicit ref:// references
// embedded in property values.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		dag.nodes[addr] = &dagNode{addr: addr}
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		node := dag.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}

		for _, ref := range extractRefs(res.Properties) {
			depAddr := refToAddr(ref)
			if depAddr == "" || depAddr == addr {
				continue
			}
			if _, ok := dag.nodes[depAddr]; ok {
				node.edges = append(node.edges, depAddr)
			}
		}
	}

	dag.buildReverseEdges()
	return dag, dag.sort()
}

// BuildDAGFromState constructs a dependency graph from recorded state,
// used when destroying resources that are no longer declared.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		dag.nodes[addr] = &dagNode{addr: addr, edges: append([]string{}, res.Dependencies...)}
	}

	// Dependencies may refer to resources already removed from state.
	for _, node := range dag.nodes {
		for _, dep := range node.edges {
			if _, ok := dag.nodes[dep]; !ok {
				dag.nodes[dep] = &dagNode{addr: dep}
			}
		}
	}

	dag.buildReverseEdges()
	return dag, dag.sort()
}

func (d *DAG) buildReverseEdges() {
	for addr, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}
}

func (d *DAG) sort() error {
	order, err := d.topoSort()
	if err != nil {
		return err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns addresses in reverse dependency order.
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the direct dependencies of an address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns every address reachable from addr through
// dependency edges.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(addr)
	return out
}

// topoSort runs Kahn's algorithm over the graph.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, fmt.Errorf("dependency cycle detected in resource graph")
	}

	return sorted, nil
}

// ResourceAddr returns the address of a resource (type.name).
func ResourceAddr(res *ir.Resource) string {
	return resourceAddr(res)
}

func resourceAddr(res *ir.Resource) string {
	t := res.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, res.Name)
}

// extractRefs collects all ref:// references from a property value.
func extractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ref://") {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	}
	return refs
}

// refToAddr converts a ref:// reference to a resource address.
// ref://aws:EC2.Vpc/main/id -> aws:EC2.Vpc.main
func refToAddr(ref string) string {
	if !strings.HasPrefix(ref, "ref://") {
		return ""
	}
	path := ref[len("ref://"):]
	// Format: provider:Type/name/attribute
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}
