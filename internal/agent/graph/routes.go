package graph

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"

	"github.com/agri-rag/server/internal/agent/graph/nodes"
	"github.com/agri-rag/server/internal/agent/model"
)

type stageNode struct {
	name  string
	stage nodes.Stage
}

func stageNodes(st *nodes.Stages) []stageNode {
	return []stageNode{
		{nodes.NodeInputSafety, st.InputSafety},
		{nodes.NodeQueryOptimizer, st.QueryOptimizer},
		{nodes.NodeRetriever, st.Retrieve},
		{nodes.NodeDraft, st.Draft},
		{nodes.NodeEvaluation, st.Evaluate},
		{nodes.NodeCSVGenerator, st.CSV},
		{nodes.NodeChartGenerator, st.Chart},
		{nodes.NodeWebSearch, st.WebSearch},
		{nodes.NodeHallucination, st.Hallucination},
		{nodes.NodeOutputSafety, st.OutputSafety},
	}
}

var edges = [][2]string{
	{compose.START, nodes.NodeTurnStart},
	{nodes.NodeTurnStart, nodes.NodeInputSafety},
	{nodes.NodeQueryOptimizer, nodes.NodeRetriever},
	{nodes.NodeRetriever, nodes.NodeDraft},
	{nodes.NodeCSVGenerator, nodes.NodeDraft},
	{nodes.NodeChartGenerator, nodes.NodeDraft},
	{nodes.NodeWebSearch, nodes.NodeDraft},
	{nodes.NodeHallucination, nodes.NodeOutputSafety},
	{nodes.NodeOutputSafety, compose.END},
}

type branchSpec struct {
	name    string
	from    string
	rule    string
	route   nodes.Router
	targets []string
}

func branches(cfg model.PipelineConfig) []branchSpec {
	retry := nodes.NewRetryRouter(cfg)
	return []branchSpec{
		{
			name:    "input_safety",
			from:    nodes.NodeInputSafety,
			rule:    "blocked input ends the turn",
			route:   nodes.RouteAfterInputSafety,
			targets: []string{compose.END, nodes.NodeQueryOptimizer},
		},
		{
			name:  "tool_dispatch",
			from:  nodes.NodeDraft,
			rule:  "first requested tool by priority csv > chart > search, else evaluation",
			route: nodes.RouteAfterDraft,
			targets: []string{
				nodes.NodeCSVGenerator,
				nodes.NodeChartGenerator,
				nodes.NodeWebSearch,
				nodes.NodeEvaluation,
			},
		},
		{
			name:    "retry",
			from:    nodes.NodeEvaluation,
			rule:    fmt.Sprintf("confidence < %.2f and retry_count < %d redrafts, else hallucination check", retry.Threshold, retry.Guard.Max),
			route:   retry.Route,
			targets: []string{nodes.NodeDraft, nodes.NodeHallucination},
		},
	}
}

// Topology describes the turn graph: its nodes, fixed edges and routed
// branches, one per line.
func Topology(cfg model.PipelineConfig) string {
	var sb strings.Builder
	sb.WriteString("nodes:")
	sb.WriteString(" " + nodes.NodeTurnStart)
	for _, n := range stageNodes(&nodes.Stages{}) {
		sb.WriteString(" " + n.name)
	}
	sb.WriteString("\n")
	for _, e := range edges {
		fmt.Fprintf(&sb, "%s -> %s\n", e[0], e[1])
	}
	for _, br := range branches(cfg) {
		fmt.Fprintf(&sb, "%s -> {%s} [%s]\n", br.from, strings.Join(br.targets, ", "), br.rule)
	}
	fmt.Fprintf(&sb, "max run steps: %d\n", MaxRunSteps(cfg))
	return sb.String()
}
