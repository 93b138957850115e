package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/agri-rag/server/internal/agent/model"
	logx "github.com/agri-rag/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Client       *genai.Client
	JudgeConfig  *model.JudgeModelConfig
	AnswerConfig *model.AnswerModelConfig
}

// ChatModels holds the judge and answer chat models. The judge runs the
// classification stages; the answer model drafts and fills tool arguments.
type ChatModels struct {
	Judge           einomodel.ToolCallingChatModel
	Answer          einomodel.ToolCallingChatModel
	JudgeModelName  string
	AnswerModelName string
}

// NewGenAIClient creates the Gemini API client shared by chat and embedding models.
func NewGenAIClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates both chat models with the given configuration
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.Client == nil || config.JudgeConfig == nil || config.AnswerConfig == nil {
		return nil, fmt.Errorf("chat model config is incomplete")
	}

	// Classification needs no thinking budget
	judge, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      config.Client,
		Model:       config.JudgeConfig.Model,
		Temperature: &config.JudgeConfig.Temperature,
		MaxTokens:   &config.JudgeConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating judge model")
		return nil, fmt.Errorf("error creating judge model: %w", err)
	}

	answer, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      config.Client,
		Model:       config.AnswerConfig.Model,
		Temperature: &config.AnswerConfig.Temperature,
		MaxTokens:   &config.AnswerConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(config.AnswerConfig.ThinkingBudget),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating answer model")
		return nil, fmt.Errorf("error creating answer model: %w", err)
	}

	logx.Debug().
		Str("judge_model", config.JudgeConfig.Model).
		Str("answer_model", config.AnswerConfig.Model).
		Msg("Chat models created")

	return &ChatModels{
		Judge:           judge,
		Answer:          answer,
		JudgeModelName:  config.JudgeConfig.Model,
		AnswerModelName: config.AnswerConfig.Model,
	}, nil
}
