package flow

import (
	"fmt"
	"sort"
)

// End is the terminal marker. Routing to End completes the run. End is a
// reserved name: steps cannot be registered under it.
const End = "__end__"

// edge is the single outgoing edge of a step: static when router is nil,
// conditional otherwise. Conditional edges carry the declared target set the
// router must stay within.
type edge struct {
	to      string
	router  RouterFunc
	targets map[string]string
}

// Builder accumulates steps and edges and validates them into an immutable
// Graph. There is no ambient registry: build a Graph value once and hand it
// to a Runner.
//
//	schema := flow.NewSchema().AppendChannel("messages").Channel("status")
//	b := flow.NewBuilder(schema)
//	b.AddStep("classify", classify)
//	b.AddStep("quote", quote)
//	b.AddEdge("classify", "quote")
//	b.AddEdge("quote", flow.End)
//	b.StartAt("classify")
//	graph, err := b.Compile()
type Builder struct {
	schema *Schema
	steps  map[string]StepFunc
	edges  map[string]edge
	start  string
	err    error
}

// NewBuilder creates a graph builder over the given channel schema.
func NewBuilder(schema *Schema) *Builder {
	return &Builder{
		schema: schema,
		steps:  make(map[string]StepFunc),
		edges:  make(map[string]edge),
	}
}

// fail records the first construction error; Compile reports it.
func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = &GraphError{Message: fmt.Sprintf(format, args...)}
	}
}

// AddStep registers a named step. Names must be unique within the graph and a
// step has no identity beyond its name.
func (b *Builder) AddStep(name string, fn StepFunc) *Builder {
	switch {
	case name == "":
		b.fail("step name cannot be empty")
	case name == End:
		b.fail("step name %q is reserved", End)
	case fn == nil:
		b.fail("step %q: function cannot be nil", name)
	default:
		if _, exists := b.steps[name]; exists {
			b.fail("duplicate step %q", name)
			return b
		}
		b.steps[name] = fn
	}
	return b
}

// AddEdge declares that from always leads to to (to may be End). A step has
// exactly one outgoing edge; declaring a second is a build error.
func (b *Builder) AddEdge(from, to string) *Builder {
	if from == "" || to == "" {
		b.fail("edge endpoints cannot be empty")
		return b
	}
	if _, exists := b.edges[from]; exists {
		b.fail("step %q already has an outgoing edge", from)
		return b
	}
	b.edges[from] = edge{to: to}
	return b
}

// AddConditionalEdge declares that after from completes, router selects the
// next step from the declared targets. The targets map routes router return
// values to step names; values may include End. The router must return one of
// the map's keys for every reachable state — an unrecognized return value
// fails the run with *RoutingError at execution time, and every mapped name
// is checked against the registry at compile time.
func (b *Builder) AddConditionalEdge(from string, router RouterFunc, targets map[string]string) *Builder {
	switch {
	case from == "":
		b.fail("conditional edge source cannot be empty")
	case router == nil:
		b.fail("step %q: router cannot be nil", from)
	case len(targets) == 0:
		b.fail("step %q: conditional edge needs a non-empty target set", from)
	default:
		if _, exists := b.edges[from]; exists {
			b.fail("step %q already has an outgoing edge", from)
			return b
		}
		copied := make(map[string]string, len(targets))
		for k, v := range targets {
			copied[k] = v
		}
		b.edges[from] = edge{router: router, targets: copied}
	}
	return b
}

// StartAt designates the entry step.
func (b *Builder) StartAt(name string) *Builder {
	if name == "" {
		b.fail("start step cannot be empty")
		return b
	}
	b.start = name
	return b
}

// Compile validates the accumulated definition and returns an immutable
// Graph. Validation enforces:
//
//   - a schema and a registered start step;
//   - every edge endpoint (static target, conditional mapping value, edge
//     source) names a registered step or End;
//   - every step has an outgoing edge — steps terminate by routing to End,
//     never by falling off the graph;
//   - End is structurally reachable from the start. Cycles are permitted and
//     expected (the negotiation counter-offer loop is one), so this is a
//     reachability check, not an acyclicity check.
func (b *Builder) Compile() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.schema == nil {
		return nil, &GraphError{Message: "schema is required"}
	}
	if len(b.steps) == 0 {
		return nil, &GraphError{Message: "graph has no steps"}
	}
	if b.start == "" {
		return nil, &GraphError{Message: "start step not set (call StartAt before Compile)"}
	}
	if _, ok := b.steps[b.start]; !ok {
		return nil, &GraphError{Message: fmt.Sprintf("start step %q is not registered", b.start)}
	}

	for from, e := range b.edges {
		if _, ok := b.steps[from]; !ok {
			return nil, &GraphError{Message: fmt.Sprintf("edge leaves unregistered step %q", from)}
		}
		if e.router == nil {
			if err := b.checkTarget(from, e.to); err != nil {
				return nil, err
			}
			continue
		}
		for _, target := range e.targets {
			if err := b.checkTarget(from, target); err != nil {
				return nil, err
			}
		}
	}

	for name := range b.steps {
		if _, ok := b.edges[name]; !ok {
			return nil, &GraphError{Message: fmt.Sprintf("step %q has no outgoing edge; route it to flow.End to terminate", name)}
		}
	}

	if !b.endReachable() {
		return nil, &GraphError{Message: "no path from start to flow.End"}
	}

	return &Graph{
		schema: b.schema,
		steps:  b.steps,
		edges:  b.edges,
		start:  b.start,
	}, nil
}

func (b *Builder) checkTarget(from, target string) error {
	if target == End {
		return nil
	}
	if _, ok := b.steps[target]; !ok {
		return &GraphError{Message: fmt.Sprintf("step %q routes to unregistered step %q", from, target)}
	}
	return nil
}

// endReachable walks every possible edge from the start looking for End.
func (b *Builder) endReachable() bool {
	seen := map[string]bool{b.start: true}
	queue := []string{b.start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		e, ok := b.edges[cur]
		if !ok {
			continue
		}
		var nexts []string
		if e.router == nil {
			nexts = []string{e.to}
		} else {
			for _, t := range e.targets {
				nexts = append(nexts, t)
			}
		}
		for _, n := range nexts {
			if n == End {
				return true
			}
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// Graph is an immutable, validated registry of steps and edges. Graphs are
// safe for concurrent use by any number of runs.
type Graph struct {
	schema *Schema
	steps  map[string]StepFunc
	edges  map[string]edge
	start  string
}

// Schema returns the graph's channel schema.
func (g *Graph) Schema() *Schema { return g.schema }

// Start returns the entry step name.
func (g *Graph) Start() string { return g.start }

// StepNames returns the registered step names in sorted order.
func (g *Graph) StepNames() []string {
	names := make([]string, 0, len(g.steps))
	for name := range g.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// step looks up a registered step function.
func (g *Graph) step(name string) (StepFunc, bool) {
	fn, ok := g.steps[name]
	return fn, ok
}

// next resolves the outgoing edge of from against post-merge state. For a
// conditional edge the router's return value is checked against the declared
// target set; membership is asserted at runtime even though the mapping was
// validated at compile time, so a misbehaving router surfaces as a
// *RoutingError rather than a silent no-op.
func (g *Graph) next(from string, state Values) (string, error) {
	e, ok := g.edges[from]
	if !ok {
		// Compile guarantees an edge per step; this guards hand-built graphs.
		return "", &GraphError{Message: fmt.Sprintf("step %q has no outgoing edge", from)}
	}
	if e.router == nil {
		return e.to, nil
	}

	choice := e.router(state)
	target, ok := e.targets[choice]
	if !ok {
		declared := make([]string, 0, len(e.targets))
		for k := range e.targets {
			declared = append(declared, k)
		}
		return "", &RoutingError{Step: from, Target: choice, Declared: declared}
	}
	return target, nil
}
