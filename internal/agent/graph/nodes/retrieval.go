package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/agri-rag/server/internal/agent/graph/parsers"
	"github.com/agri-rag/server/internal/agent/graph/prompts"
	"github.com/agri-rag/server/internal/agent/model"
	errx "github.com/agri-rag/server/internal/core/error"
	logx "github.com/agri-rag/server/pkg/logger"
)

// DefaultTopK is the retrieval fan-out.
const DefaultTopK = 13

// QueryOptimizer rewrites the message into a field:value query, or the
// sentinel when the message cannot be answered from the index. Failures
// degrade to the sentinel.
func (st *Stages) QueryOptimizer(ctx context.Context, s model.ConversationState) (model.Update, error) {
	msgs, err := prompts.QueryOptimizer(ctx, s.UserMessage())
	if err != nil {
		logx.Ctx(ctx).Warn().Err(err).Msg("Query optimizer prompt failed; using sentinel")
		return model.Update{OptimizedQuery: model.Ptr(model.SentinelQuery)}, nil
	}
	content, cost, err := st.generateText(ctx, st.Models.Judge, st.Models.JudgeModelName, NodeQueryOptimizer, msgs)
	if err != nil {
		logx.Ctx(ctx).Warn().Err(err).Msg("Query optimizer unavailable; using sentinel")
		return model.Update{OptimizedQuery: model.Ptr(model.SentinelQuery), CostUSD: cost}, nil
	}

	query := parsers.CleanQuery(content)
	logx.Ctx(ctx).Debug().Str("optimized_query", query).Msg("Query optimized")
	return model.Update{OptimizedQuery: model.Ptr(query), CostUSD: cost}, nil
}

// Retrieve runs the vector search. The sentinel skips the search entirely and
// yields Empty; a failed search yields Failed so drafting can tell the two apart.
func (st *Stages) Retrieve(ctx context.Context, s model.ConversationState) (model.Update, error) {
	if model.IsSentinelQuery(s.OptimizedQuery) {
		logx.Ctx(ctx).Debug().Msg("Sentinel query; skipping retrieval")
		return model.Update{Retrieval: &model.Retrieval{Status: model.RetrievalEmpty}}, nil
	}

	topK := st.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	var docs []*schema.Document
	typ := retrieverType(st.Retriever)
	err := st.Policy.Do(ctx, NodeRetriever, func(ctx context.Context) error {
		var err error
		docs, err = st.Retriever.Retrieve(
			componentContext(ctx, NodeRetriever, typ, components.ComponentOfRetriever),
			s.OptimizedQuery,
			retriever.WithTopK(topK),
		)
		return err
	})
	if err != nil {
		err = errx.WrapCollaborator("vector search", err)
		logx.Ctx(ctx).Warn().Err(err).Str("query", s.OptimizedQuery).Msg("Retrieval failed; continuing without records")
		return model.Update{Retrieval: &model.Retrieval{Status: model.RetrievalFailed, Err: err.Error()}}, nil
	}

	items := make([]model.RetrievedItem, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		items = append(items, model.RetrievedItem{
			ID:       d.ID,
			Text:     d.Content,
			Score:    d.Score(),
			Metadata: d.MetaData,
		})
	}
	r := model.NewRetrieval(items)
	logx.Ctx(ctx).Debug().
		Str("query", s.OptimizedQuery).
		Int("top_k", topK).
		Int("items", len(items)).
		Msg("Retrieval completed")
	return model.Update{Retrieval: &r}, nil
}

// retrieverType names a retriever for callbacks.
func retrieverType(r retriever.Retriever) string {
	if t, ok := r.(components.Typer); ok {
		return t.GetType()
	}
	return fmt.Sprintf("%T", r)
}
