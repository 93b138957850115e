package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	errx "github.com/agri-rag/server/internal/core/error"
	logx "github.com/agri-rag/server/pkg/logger"
)

const clientVersion = "0.1.0"

type entry struct {
	name string
	tool tool.InvokableTool
}

// Registry resolves tools by keyword across in-process tools and connected
// MCP servers. Earlier registrations win.
type Registry struct {
	mu       sync.RWMutex
	entries  []entry
	sessions []*mcp.ClientSession
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds in-process tools.
func (r *Registry) Register(ctx context.Context, ts ...tool.InvokableTool) error {
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return fmt.Errorf("tool info: %w", err)
		}
		r.add(info.Name, t)
	}
	return nil
}

// Connect opens a session with an MCP server over transport and registers
// every tool it lists.
func (r *Registry) Connect(ctx context.Context, name string, transport mcp.Transport) error {
	client := mcp.NewClient(&mcp.Implementation{Name: "agri-rag-" + name, Version: clientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect %s tool server: %w", name, err)
	}

	var listed []string
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("list %s tools: %w", name, err)
		}
		for _, t := range res.Tools {
			mt, err := newMCPTool(session, t)
			if err != nil {
				logx.Warn().Err(err).Str("server", name).Str("tool", t.Name).Msg("Skipping MCP tool")
				continue
			}
			r.add(t.Name, mt)
			listed = append(listed, t.Name)
		}
		if res.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}

	r.mu.Lock()
	r.sessions = append(r.sessions, session)
	r.mu.Unlock()
	logx.Info().Str("server", name).Strs("tools", listed).Msg("MCP tool server connected")
	return nil
}

func (r *Registry) add(name string, t tool.InvokableTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{name: name, tool: t})
}

// Find returns the first tool whose name contains keyword, ignoring case.
func (r *Registry) Find(_ context.Context, keyword string) (tool.InvokableTool, error) {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kw != "" {
		for _, e := range r.entries {
			if strings.Contains(strings.ToLower(e.name), kw) {
				return e.tool, nil
			}
		}
	}
	return nil, errx.ToolUnavailable(keyword)
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.name)
	}
	return names
}

// Close ends every MCP session.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
