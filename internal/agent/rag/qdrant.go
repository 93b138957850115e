package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/agri-rag/server/internal/agent/model"
)

const defaultTopK = 13

// pointQuerier is the part of the Qdrant client the retriever uses.
type pointQuerier interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

type QdrantRetrieverConfig struct {
	Client     *qdrant.Client
	Embedder   embedding.Embedder
	Collection string
	Retrieval  model.RetrievalConfig
}

// QdrantRetriever searches a Qdrant collection of crop statistics records.
type QdrantRetriever struct {
	client         pointQuerier
	embedder       embedding.Embedder
	collection     string
	textField      string
	topK           int
	scoreThreshold float64
}

var _ retriever.Retriever = (*QdrantRetriever)(nil)

func NewQdrantRetriever(cfg QdrantRetrieverConfig) (*QdrantRetriever, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("qdrant client is nil")
	}
	return newQdrantRetriever(cfg.Client, cfg)
}

func newQdrantRetriever(client pointQuerier, cfg QdrantRetrieverConfig) (*QdrantRetriever, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	r := &QdrantRetriever{
		client:         client,
		embedder:       cfg.Embedder,
		collection:     cfg.Collection,
		textField:      cfg.Retrieval.TextField,
		topK:           cfg.Retrieval.TopK,
		scoreThreshold: cfg.Retrieval.ScoreThreshold,
	}
	if r.textField == "" {
		r.textField = "text"
	}
	if r.topK <= 0 {
		r.topK = defaultTopK
	}
	return r, nil
}

func (r *QdrantRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) (docs []*schema.Document, err error) {
	topK, threshold := r.topK, r.scoreThreshold
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, ScoreThreshold: &threshold}, opts...)
	if o.TopK != nil && *o.TopK > 0 {
		topK = *o.TopK
	}
	if o.ScoreThreshold != nil {
		threshold = *o.ScoreThreshold
	}

	ctx = callbacks.OnStart(ctx, &retriever.CallbackInput{Query: query, TopK: topK, ScoreThreshold: &threshold})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
			return
		}
		callbacks.OnEnd(ctx, &retriever.CallbackOutput{Docs: docs})
	}()

	vectors, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	vec := make([]float32, len(vectors[0]))
	for i, x := range vectors[0] {
		vec[i] = float32(x)
	}

	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if threshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(float32(threshold))
	}

	hits, err := r.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query qdrant: %w", err)
	}

	docs = make([]*schema.Document, 0, len(hits))
	for _, hit := range hits {
		if d := r.toDocument(hit); d != nil {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// toDocument maps a hit to a document: the text field becomes the content and
// every other scalar payload field goes to metadata.
func (r *QdrantRetriever) toDocument(hit *qdrant.ScoredPoint) *schema.Document {
	payload := hit.GetPayload()
	if payload == nil {
		return nil
	}
	doc := &schema.Document{ID: pointID(hit.GetId()), MetaData: make(map[string]any, len(payload))}
	for k, v := range payload {
		if k == r.textField {
			doc.Content = v.GetStringValue()
			continue
		}
		if x, ok := scalarValue(v); ok {
			doc.MetaData[k] = x
		}
	}
	if doc.Content == "" {
		return nil
	}
	return doc.WithScore(float64(hit.GetScore()))
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func scalarValue(val *qdrant.Value) (any, bool) {
	if val == nil {
		return nil, false
	}
	switch k := val.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue, true
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue, true
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue, true
	case *qdrant.Value_BoolValue:
		return k.BoolValue, true
	}
	return nil, false
}

func (r *QdrantRetriever) GetType() string {
	return "Qdrant"
}

func (r *QdrantRetriever) IsCallbacksEnabled() bool {
	return true
}
