package generator

import (
	"context"

	"github.com/shouni/gemini-image-editor/pkg/domain"
	"google.golang.org/genai"
)

// ContentGenerator は Gemini の GenerateContent 呼び出しを抽象化します。
// *genai.Models がそのまま満たします。
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ImageEditor はセッション層が利用する編集ゲートウェイの窓口です。
type ImageEditor interface {
	// Submit は編集要求を 1 回だけ送信します。内部ではリトライしません。
	// 失敗時のエラーは常に *domain.ClassifiedError です。
	Submit(ctx context.Context, req domain.EditRequest) (domain.EditResult, error)
}
