package planner

import (
	"fmt"
	"slices"

	"github.com/vektah/gqlparser/v2/ast"
)

// Requirement threads a value produced by one plan node into the request of another.
type Requirement struct {
	Name         string `json:"name"`         // Synthetic variable name (__fusion_requirement_<n>)
	DependsOn    int    `json:"dependsOn"`    // ID of the node producing the value
	SelectionSet string `json:"selectionSet"` // Path of the object within the producing node's result
	Field        string `json:"field"`        // Response key of the value in that object
	Type         string `json:"type"`         // GraphQL type of the source field
}

// RequestPlanNode is one sub-operation destined for exactly one subgraph.
type RequestPlanNode struct {
	ID           int            `json:"id"`
	Subgraph     string         `json:"schema"`
	Operation    string         `json:"operation"`
	SkipIf       string         `json:"skipIf,omitempty"`
	Requirements []*Requirement `json:"requirements,omitempty"`
}

// DependsOn returns the distinct IDs of the nodes this node consumes data from, ascending.
func (n *RequestPlanNode) DependsOn() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, r := range n.Requirements {
		if !seen[r.DependsOn] {
			seen[r.DependsOn] = true
			ids = append(ids, r.DependsOn)
		}
	}
	slices.Sort(ids)
	return ids
}

// RequestPlan is the immutable plan of one client operation.
// It can be shared between concurrent executions.
type RequestPlan struct {
	OperationType ast.Operation      `json:"operationType"`
	OperationName string             `json:"operationName,omitempty"`
	Nodes         []*RequestPlanNode `json:"nodes"`
}

// Node returns the node with the given ID.
func (p *RequestPlan) Node(id int) (*RequestPlanNode, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Validate checks that the plan is a DAG whose edges only point to earlier nodes.
func (p *RequestPlan) Validate() error {
	ids := make(map[int]bool, len(p.Nodes))
	prev := 0
	for _, n := range p.Nodes {
		if n.ID <= prev {
			return fmt.Errorf("node ids must be strictly increasing: %d follows %d", n.ID, prev)
		}
		prev = n.ID

		for _, r := range n.Requirements {
			if r.DependsOn >= n.ID {
				return fmt.Errorf("node %d: requirement %s depends on node %d which is not an earlier node", n.ID, r.Name, r.DependsOn)
			}
			if !ids[r.DependsOn] {
				return fmt.Errorf("node %d: requirement %s depends on unknown node %d", n.ID, r.Name, r.DependsOn)
			}
		}
		ids[n.ID] = true
	}
	return nil
}

// Waves groups node IDs into dependency layers. Nodes within one wave do not depend on
// each other and can be executed in parallel once every previous wave has completed.
// Root mutation nodes are chained so that they run one after another in ID order.
func (p *RequestPlan) Waves() [][]int {
	level := make(map[int]int, len(p.Nodes))
	maxLevel := -1
	lastMutationRoot := 0

	for _, n := range p.Nodes {
		l := 0
		for _, dep := range n.DependsOn() {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		if p.OperationType == ast.Mutation && len(n.Requirements) == 0 {
			if lastMutationRoot != 0 && level[lastMutationRoot]+1 > l {
				l = level[lastMutationRoot] + 1
			}
			lastMutationRoot = n.ID
		}
		level[n.ID] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([][]int, maxLevel+1)
	for _, n := range p.Nodes {
		waves[level[n.ID]] = append(waves[level[n.ID]], n.ID)
	}
	return waves
}

// SkippedNodes evaluates skip conditions for the given variables. A node is skipped when
// its skipIf variable is true or when any node it depends on is skipped.
func (p *RequestPlan) SkippedNodes(variables map[string]any) map[int]bool {
	skipped := make(map[int]bool)
	for _, n := range p.Nodes {
		if n.SkipIf != "" {
			if v, ok := variables[n.SkipIf].(bool); ok && v {
				skipped[n.ID] = true
				continue
			}
		}
		for _, dep := range n.DependsOn() {
			if skipped[dep] {
				skipped[n.ID] = true
				break
			}
		}
	}
	return skipped
}
