package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tasknest-ai-server/src/configs"
	"tasknest-ai-server/src/core/types"

	openai "github.com/sashabaranov/go-openai"
)

// Provider 大模型对话接口
type Provider interface {
	// ChatJSON 发起一次对话补全，要求模型返回JSON对象文本
	ChatJSON(ctx context.Context, system string, messages []types.Message) (string, error)
}

// NewProvider 按配置创建LLM提供方
func NewProvider(cfg configs.LLMConfig) (Provider, error) {
	switch cfg.Type {
	case "openai", "":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("不支持的LLM类型: %s", cfg.Type)
	}
}

// OpenAIProvider OpenAI兼容接口的提供方，支持自定义BaseURL接入各家兼容服务
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewOpenAIProvider 创建OpenAI兼容提供方
func NewOpenAIProvider(cfg configs.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("LLM APIKey未配置")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.ModelName,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
	}, nil
}

// ChatJSON 单次补全调用，整体受超时约束
func (p *OpenAIProvider) ChatJSON(ctx context.Context, system string, messages []types.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reqMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		reqMessages = append(reqMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		reqMessages = append(reqMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    reqMessages,
		Temperature: p.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("LLM调用失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM返回为空")
	}
	return resp.Choices[0].Message.Content, nil
}
