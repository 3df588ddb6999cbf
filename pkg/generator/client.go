package generator

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// NewGenAIClient は Gemini API バックエンドの genai クライアントを作成し、
// GeminiEditor に渡せる ContentGenerator を返します。
func NewGenAIClient(ctx context.Context, apiKey string) (ContentGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genaiクライアントの初期化に失敗しました: %w", err)
	}
	return client.Models, nil
}
