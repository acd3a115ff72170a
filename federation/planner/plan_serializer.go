package planner

import (
	"io"
	"strconv"
	"strings"
)

// String renders the plan in its stable textual form.
func (p *RequestPlan) String() string {
	var sb strings.Builder
	_ = SerializePlan(&sb, p)
	return sb.String()
}

// SerializePlan writes the stable textual form of the plan. The output is a YAML document:
//
//	nodes:
//	  - id: 1
//	    schema: "PRODUCTS"
//	    operation: >-
//	      query($id: ID!) {
//	        productById(id: $id) {
//	          name
//	        }
//	      }
//	    skipIf: "skip"
//	    requirements:
//	      - name: "__fusion_requirement_1"
//	        dependsOn: "1"
//	        selectionSet: "productById"
//	        field: "id"
//	        type: "ID!"
func SerializePlan(w io.Writer, p *RequestPlan) error {
	var sb strings.Builder

	if len(p.Nodes) == 0 {
		sb.WriteString("nodes: []\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	sb.WriteString("nodes:\n")
	for _, n := range p.Nodes {
		sb.WriteString("  - id: ")
		sb.WriteString(strconv.Itoa(n.ID))
		sb.WriteString("\n")

		sb.WriteString("    schema: ")
		sb.WriteString(strconv.Quote(n.Subgraph))
		sb.WriteString("\n")

		sb.WriteString("    operation: >-\n")
		for _, line := range strings.Split(n.Operation, "\n") {
			sb.WriteString("      ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}

		if n.SkipIf != "" {
			sb.WriteString("    skipIf: ")
			sb.WriteString(strconv.Quote(n.SkipIf))
			sb.WriteString("\n")
		}

		if len(n.Requirements) > 0 {
			sb.WriteString("    requirements:\n")
			for _, r := range n.Requirements {
				writeRequirement(&sb, r)
			}
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeRequirement(sb *strings.Builder, r *Requirement) {
	sb.WriteString("      - name: ")
	sb.WriteString(strconv.Quote(r.Name))
	sb.WriteString("\n")
	sb.WriteString("        dependsOn: ")
	sb.WriteString(strconv.Quote(strconv.Itoa(r.DependsOn)))
	sb.WriteString("\n")
	sb.WriteString("        selectionSet: ")
	sb.WriteString(strconv.Quote(r.SelectionSet))
	sb.WriteString("\n")
	sb.WriteString("        field: ")
	sb.WriteString(strconv.Quote(r.Field))
	sb.WriteString("\n")
	sb.WriteString("        type: ")
	sb.WriteString(strconv.Quote(r.Type))
	sb.WriteString("\n")
}
