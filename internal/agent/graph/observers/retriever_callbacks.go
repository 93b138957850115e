package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/retriever"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/agri-rag/server/pkg/logger"
)

func newRetrieverHandler() *callbackHelper.RetrieverCallbackHandler {
	return &callbackHelper.RetrieverCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *retriever.CallbackInput) context.Context {
			ev := logx.Ctx(ctx).Debug().Str("retriever", info.Type)
			if input != nil {
				ev = ev.Str("query", input.Query).Int("top_k", input.TopK)
			}
			ev.Msg("Retrieval started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *retriever.CallbackOutput) context.Context {
			n := 0
			if output != nil {
				n = len(output.Docs)
			}
			logx.Ctx(ctx).Debug().Str("retriever", info.Type).Int("docs", n).Msg("Retrieval finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Ctx(ctx).Warn().Err(err).Str("retriever", info.Type).Msg("Retrieval failed")
			return ctx
		},
	}
}
