package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/valter-silva-au/context-weave/pkg/models"
)

// StepFunc runs one role given its instructions and the previous role's
// output.
type StepFunc func(ctx context.Context, instructions, prior string) (string, error)

// PipelineBuilder is implemented by agents that can supply a dedicated step
// per role. The orchestrator then runs the workflow as a Pipeline instead of
// calling Agent.Invoke in a loop.
type PipelineBuilder interface {
	PipelineStep(role models.Role) (StepFunc, error)
}

// PipelineNode is a named step. Run receives the output of the upstream
// node, or the pipeline input for the start node.
type PipelineNode struct {
	Name string
	Run  func(ctx context.Context, input string) (string, error)
}

// NodeError reports the node at which a pipeline stopped.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("pipeline node %s: %v", e.Node, e.Err) }
func (e *NodeError) Unwrap() error { return e.Err }

// Pipeline is a directed graph of named nodes where each node has at most
// one successor. Execution starts at the start node and follows edges until
// a node has no successor.
type Pipeline struct {
	nodes map[string]PipelineNode
	next  map[string]string
	start string
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{nodes: map[string]PipelineNode{}, next: map[string]string{}}
}

// AddNode registers a node. Names must be unique.
func (p *Pipeline) AddNode(node PipelineNode) error {
	if node.Name == "" || node.Run == nil {
		return errors.New("adding pipeline node: name and run function are required")
	}
	if _, ok := p.nodes[node.Name]; ok {
		return fmt.Errorf("adding pipeline node: %q already registered", node.Name)
	}
	p.nodes[node.Name] = node
	return nil
}

// AddEdge connects from to to. A node may have only one successor.
func (p *Pipeline) AddEdge(from, to string) error {
	if _, ok := p.nodes[from]; !ok {
		return fmt.Errorf("adding pipeline edge: unknown node %q", from)
	}
	if _, ok := p.nodes[to]; !ok {
		return fmt.Errorf("adding pipeline edge: unknown node %q", to)
	}
	if existing, ok := p.next[from]; ok {
		return fmt.Errorf("adding pipeline edge: %q already flows to %q", from, existing)
	}
	p.next[from] = to
	return nil
}

// SetStart selects the entry node.
func (p *Pipeline) SetStart(name string) error {
	if _, ok := p.nodes[name]; !ok {
		return fmt.Errorf("setting pipeline start: unknown node %q", name)
	}
	p.start = name
	return nil
}

// Order returns the node names in execution order. It fails when no start
// is set or the edges form a cycle.
func (p *Pipeline) Order() ([]string, error) {
	if p.start == "" {
		return nil, errors.New("pipeline has no start node")
	}
	var order []string
	seen := map[string]bool{}
	for name := p.start; name != ""; name = p.next[name] {
		if seen[name] {
			return nil, fmt.Errorf("pipeline cycle at node %q", name)
		}
		seen[name] = true
		order = append(order, name)
	}
	return order, nil
}

// Execute runs the pipeline from the start node, feeding each node's output
// to its successor, and returns the last node's output. It stops at the
// first failing node or when ctx is done before a node starts.
func (p *Pipeline) Execute(ctx context.Context, input string) (string, error) {
	order, err := p.Order()
	if err != nil {
		return "", err
	}
	out := input
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := p.nodes[name].Run(ctx, out)
		if err != nil {
			return out, &NodeError{Node: name, Err: err}
		}
		out = res
	}
	return out, nil
}
