package service

import (
	"fmt"
	"strings"

	"github.com/philippe-eecs/orchestra/internal/domain/graph"
)

// promptSeparator joins the instruction block, the node prompt, and the
// deliverables block.
const promptSeparator = "\n\n---\n\n"

// ParentOutput is one resolved upstream output.
type ParentOutput struct {
	NodeID string
	Output string
}

// CompiledContext is the partition of a node's context references.
type CompiledContext struct {
	Files         []string
	URLs          []string
	ParentOutputs []ParentOutput
	Markdown      []string
}

// Empty reports whether no context was compiled at all.
func (c CompiledContext) Empty() bool {
	return len(c.Files) == 0 && len(c.URLs) == 0 && len(c.ParentOutputs) == 0 && len(c.Markdown) == 0
}

// CompileContext partitions the node's context references into buckets,
// preserving declaration order within each bucket. A parent_output
// reference whose node has no recorded output is silently omitted. The
// function is pure: identical inputs compile identically.
func CompileContext(node *graph.Node, parentOutputs map[string]string) CompiledContext {
	var cc CompiledContext
	for _, ref := range node.Context {
		switch ref.Kind {
		case graph.ContextFile:
			if ref.Path != "" {
				cc.Files = append(cc.Files, ref.Path)
			}
		case graph.ContextURL:
			if ref.URL != "" {
				cc.URLs = append(cc.URLs, ref.URL)
			}
		case graph.ContextParentOutput:
			if out, ok := parentOutputs[ref.NodeID]; ok {
				cc.ParentOutputs = append(cc.ParentOutputs, ParentOutput{NodeID: ref.NodeID, Output: out})
			}
		case graph.ContextMarkdown:
			if ref.Content != "" {
				cc.Markdown = append(cc.Markdown, ref.Content)
			}
		}
	}
	return cc
}

// BuildFullPrompt concatenates, in fixed order, the context instruction
// block, the node's own prompt, and the deliverables block, separated by
// promptSeparator. Empty sections are omitted.
func BuildFullPrompt(node *graph.Node, cc CompiledContext) string {
	var sections []string

	if block := contextBlock(cc); block != "" {
		sections = append(sections, block)
	}
	if node.Prompt != "" {
		sections = append(sections, node.Prompt)
	}
	if block := deliverablesBlock(node.Deliverables); block != "" {
		sections = append(sections, block)
	}

	return strings.Join(sections, promptSeparator)
}

func contextBlock(cc CompiledContext) string {
	var b strings.Builder

	if len(cc.Files) > 0 {
		b.WriteString("Read these files before starting:\n")
		for _, f := range cc.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(cc.URLs) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Fetch these URLs for reference:\n")
		for _, u := range cc.URLs {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}
	for _, po := range cc.ParentOutputs {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Output from upstream task %s:\n%s\n", po.NodeID, po.Output)
	}
	for _, md := range cc.Markdown {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(md)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func deliverablesBlock(deliverables []graph.Deliverable) string {
	if len(deliverables) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You must produce:\n")
	for _, d := range deliverables {
		switch d.Kind {
		case graph.DeliverableFile:
			fmt.Fprintf(&b, "- file: %s", d.Path)
		case graph.DeliverableResponse:
			fmt.Fprintf(&b, "- response: %s", d.Description)
		case graph.DeliverablePR:
			fmt.Fprintf(&b, "- pull request against %s", d.Repo)
		case graph.DeliverableEdit:
			fmt.Fprintf(&b, "- edit: %s", d.URL)
		default:
			fmt.Fprintf(&b, "- %s", d.ID)
		}
		if d.Description != "" && d.Kind != graph.DeliverableResponse {
			fmt.Fprintf(&b, " (%s)", d.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
