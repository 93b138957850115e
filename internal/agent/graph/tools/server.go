package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agri-rag/server/internal/agent/model"
	logx "github.com/agri-rag/server/pkg/logger"
)

const serverVersion = "0.1.0"

type exportServer struct {
	csv          *CSVWriter
	chartBaseURL string
}

// NewServer builds the MCP server that exposes the export tools.
func NewServer(cfg model.ToolsConfig) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "agri-rag-tools", Version: serverVersion}, nil)
	s := &exportServer{csv: NewCSVWriter(cfg.CSVOutputDir), chartBaseURL: cfg.ChartBaseURL}

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolGenerateCSV,
		Description: csvToolDesc + " Parameters: filename (string, required), headers (array of strings, required), rows (array of string arrays, required).",
	}, s.generateCSVTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolCreateChart,
		Description: chartToolDesc + " Parameters: chart_type (bar, line, pie, doughnut or radar), labels (array of strings, required), datasets (array of {label, data}, required), title (string).",
	}, s.createChartTool)

	return server
}

func (s *exportServer) generateCSVTool(ctx context.Context, _ *mcp.CallToolRequest, in model.CSVRequest) (*mcp.CallToolResult, any, error) {
	path, err := s.csv.Write(in)
	if err != nil {
		return nil, nil, err
	}
	logx.Ctx(ctx).Debug().Str("path", path).Int("rows", len(in.Rows)).Msg("CSV exported")
	return textResult(path), nil, nil
}

func (s *exportServer) createChartTool(ctx context.Context, _ *mcp.CallToolRequest, in model.ChartRequest) (*mcp.CallToolResult, any, error) {
	u, err := ChartURL(s.chartBaseURL, in)
	if err != nil {
		return nil, nil, err
	}
	logx.Ctx(ctx).Debug().Str("chart_type", in.ChartType).Int("datasets", len(in.Datasets)).Msg("Chart URL built")
	return textResult(u), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Serve runs the export tools over stdio until ctx is done or the client
// disconnects.
func Serve(ctx context.Context, cfg model.ToolsConfig) error {
	return NewServer(cfg).Run(ctx, &mcp.StdioTransport{})
}

// ConnectInProcess serves the export tools to r over an in-memory transport.
func ConnectInProcess(ctx context.Context, r *Registry, cfg model.ToolsConfig) error {
	serverT, clientT := mcp.NewInMemoryTransports()
	if _, err := NewServer(cfg).Connect(ctx, serverT, nil); err != nil {
		return fmt.Errorf("start in-process tool server: %w", err)
	}
	return r.Connect(ctx, "local", clientT)
}

// ConnectCommand launches an MCP server subprocess and registers its tools.
// command is split on whitespace.
func ConnectCommand(ctx context.Context, r *Registry, name, command string) error {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return fmt.Errorf("empty %s tool command", name)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	return r.Connect(ctx, name, &mcp.CommandTransport{Command: cmd})
}
