package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	errx "github.com/agri-rag/server/internal/core/error"
)

// mcpTool exposes a tool of a connected MCP server as an Eino tool.
type mcpTool struct {
	session *mcp.ClientSession
	info    *schema.ToolInfo
}

var _ tool.InvokableTool = (*mcpTool)(nil)

func newMCPTool(session *mcp.ClientSession, t *mcp.Tool) (*mcpTool, error) {
	info := &schema.ToolInfo{Name: t.Name, Desc: t.Description}
	if t.InputSchema != nil {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal %s input schema: %w", t.Name, err)
		}
		var js jsonschema.Schema
		if err := json.Unmarshal(b, &js); err != nil {
			return nil, fmt.Errorf("convert %s input schema: %w", t.Name, err)
		}
		info.ParamsOneOf = schema.NewParamsOneOfByJSONSchema(&js)
	}
	return &mcpTool{session: session, info: info}, nil
}

func (t *mcpTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return t.info, nil
}

func (t *mcpTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args := map[string]any{}
	if s := strings.TrimSpace(argumentsInJSON); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return "", errx.WrapToolInvocation(t.info.Name, fmt.Errorf("arguments are not a JSON object: %w", err))
		}
	}

	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: t.info.Name, Arguments: args})
	if err != nil {
		return "", errx.WrapToolInvocation(t.info.Name, err)
	}
	text := resultText(res)
	if res.IsError {
		return "", errx.WrapToolInvocation(t.info.Name, errors.New(text))
	}
	return text, nil
}

// resultText joins the text content of a tool result, falling back to the
// structured content.
func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			return string(b)
		}
	}
	return strings.Join(parts, "\n")
}
