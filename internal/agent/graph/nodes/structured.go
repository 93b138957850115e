package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/agri-rag/server/internal/agent/graph/parsers"
	"github.com/agri-rag/server/internal/agent/model"
	errx "github.com/agri-rag/server/internal/core/error"
)

// componentContext tags a call made from inside a stage lambda so the
// component-level callbacks (model, retriever, tool) fire for it.
func componentContext(ctx context.Context, name, typ string, comp components.Component) context.Context {
	return callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      typ,
		Component: comp,
	})
}

// generateText runs a free-text model call under the call policy.
func (st *Stages) generateText(ctx context.Context, cm einomodel.BaseChatModel, modelName, call string, msgs []*schema.Message) (string, float64, error) {
	var (
		content string
		cost    float64
	)
	err := st.Policy.Do(ctx, call, func(ctx context.Context) error {
		out, err := cm.Generate(componentContext(ctx, call, modelName, components.ComponentOfChatModel), msgs)
		if err != nil {
			return err
		}
		if out == nil {
			return fmt.Errorf("empty response")
		}
		cost += model.MessageCost(modelName, out)
		content = out.Content
		return nil
	})
	if err != nil {
		return "", cost, errx.WrapCollaborator(modelName, err)
	}
	return content, cost, nil
}

// generateStructured binds info as the only tool and decodes its arguments as
// T. Responses that fail to decode or validate are retried like transport
// errors.
func generateStructured[T any](ctx context.Context, st *Stages, cm einomodel.ToolCallingChatModel, modelName string, info *schema.ToolInfo, msgs []*schema.Message) (T, float64, error) {
	var (
		out  T
		cost float64
	)
	bound, err := cm.WithTools([]*schema.ToolInfo{info})
	if err != nil {
		return out, 0, errx.WrapCollaborator(modelName, fmt.Errorf("bind %s: %w", info.Name, err))
	}
	err = st.Policy.Do(ctx, info.Name, func(ctx context.Context) error {
		resp, err := bound.Generate(componentContext(ctx, info.Name, modelName, components.ComponentOfChatModel), msgs)
		if err != nil {
			return err
		}
		cost += model.MessageCost(modelName, resp)
		decoded, err := parsers.Decode[T](resp, info.Name)
		if err != nil {
			return err
		}
		out = decoded
		return nil
	})
	if err != nil {
		var zero T
		return zero, cost, errx.WrapCollaborator(modelName, err)
	}
	return out, cost, nil
}
