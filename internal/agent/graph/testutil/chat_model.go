// Package testutil provides scripted collaborators for graph and stage tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Reply is one scripted model response.
type Reply struct {
	Message *schema.Message
	Err     error
}

// ToolCall replies with a single call to name carrying args.
func ToolCall(name, args string) Reply {
	return Reply{Message: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call_" + name,
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})}
}

// Text replies with plain content.
func Text(content string) Reply {
	return Reply{Message: schema.AssistantMessage(content, nil)}
}

// Fail replies with err.
func Fail(err error) Reply {
	return Reply{Err: err}
}

type script struct {
	replies []Reply
	next    int
}

// pop returns the next reply. The last reply repeats once the script runs out.
func (s *script) pop() Reply {
	r := s.replies[s.next]
	if s.next < len(s.replies)-1 {
		s.next++
	}
	return r
}

type textScript struct {
	marker string
	*script
}

// ChatModel is a scripted einomodel.ToolCallingChatModel.
//
// Calls with exactly one bound tool are answered from the script registered
// for that tool name. Unbound calls are answered from the first text script
// whose marker appears in the system prompt.
type ChatModel struct {
	mu    *sync.Mutex
	state *chatState
	tools []*schema.ToolInfo
}

type chatState struct {
	byTool map[string]*script
	byText []textScript
	calls  []string
}

var _ einomodel.ToolCallingChatModel = (*ChatModel)(nil)

// NewChatModel returns a model with no scripts; every call fails until one is
// registered.
func NewChatModel() *ChatModel {
	return &ChatModel{
		mu:    &sync.Mutex{},
		state: &chatState{byTool: map[string]*script{}},
	}
}

// OnTool scripts the replies for calls that bind toolName.
func (m *ChatModel) OnTool(toolName string, replies ...Reply) *ChatModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.byTool[toolName] = &script{replies: replies}
	return m
}

// OnText scripts the replies for unbound calls whose system prompt contains
// marker. Scripting a marker again replaces its replies.
func (m *ChatModel) OnText(marker string, replies ...Reply) *ChatModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &script{replies: replies}
	for i := range m.state.byText {
		if m.state.byText[i].marker == marker {
			m.state.byText[i].script = s
			return m
		}
	}
	m.state.byText = append(m.state.byText, textScript{marker: marker, script: s})
	return m
}

// Calls returns the script keys that were served, in order. Text calls are
// recorded by marker.
func (m *ChatModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.state.calls...)
}

// CallCount counts calls served for key.
func (m *ChatModel) CallCount(key string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == key {
			n++
		}
	}
	return n
}

func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tools) == 1 {
		name := m.tools[0].Name
		m.state.calls = append(m.state.calls, name)
		s, ok := m.state.byTool[name]
		if !ok {
			return nil, fmt.Errorf("no script for tool %s", name)
		}
		r := s.pop()
		return r.Message, r.Err
	}

	system := ""
	if len(input) > 0 && input[0] != nil {
		system = input[0].Content
	}
	for _, ts := range m.state.byText {
		if strings.Contains(system, ts.marker) {
			m.state.calls = append(m.state.calls, ts.marker)
			r := ts.pop()
			return r.Message, r.Err
		}
	}
	m.state.calls = append(m.state.calls, "")
	return nil, fmt.Errorf("no text script matches the system prompt")
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools returns a view of m bound to tools. Scripts and call records are shared.
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return &ChatModel{mu: m.mu, state: m.state, tools: tools}, nil
}
