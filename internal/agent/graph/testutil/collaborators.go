package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	errx "github.com/agri-rag/server/internal/core/error"
)

// Retriever is a fixed retriever.Retriever that records its queries.
type Retriever struct {
	Docs []*schema.Document
	Err  error

	mu      sync.Mutex
	queries []string
	topKs   []int
}

var _ retriever.Retriever = (*Retriever)(nil)

func (r *Retriever) Retrieve(_ context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	o := retriever.GetCommonOptions(&retriever.Options{}, opts...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if o.TopK != nil {
		r.topKs = append(r.topKs, *o.TopK)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Docs, nil
}

// Queries returns the queries received so far.
func (r *Retriever) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

// TopKs returns the top-k option of every call that set one.
func (r *Retriever) TopKs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.topKs...)
}

// Doc builds a scored document.
func Doc(id, content string, score float64) *schema.Document {
	return (&schema.Document{ID: id, Content: content, MetaData: map[string]any{"source": "test"}}).WithScore(score)
}

// Tool is a scripted tool.InvokableTool.
type Tool struct {
	Name   string
	Output string
	Err    error

	mu   sync.Mutex
	args []string
}

var _ tool.InvokableTool = (*Tool)(nil)

func (t *Tool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name,
		Desc: "test tool " + t.Name,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"input": {Type: schema.String, Desc: "free-form input"},
		}),
	}, nil
}

func (t *Tool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.args = append(t.args, argumentsInJSON)
	if t.Err != nil {
		return "", t.Err
	}
	return t.Output, nil
}

// Arguments returns the arguments of every invocation.
func (t *Tool) Arguments() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.args...)
}

// Tools finds tools by keyword in their name.
type Tools []*Tool

func (ts Tools) Find(_ context.Context, keyword string) (tool.InvokableTool, error) {
	for _, t := range ts {
		if strings.Contains(strings.ToLower(t.Name), strings.ToLower(keyword)) {
			return t, nil
		}
	}
	return nil, errx.ToolUnavailable(keyword)
}
