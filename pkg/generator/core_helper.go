package generator

import (
	"fmt"

	"github.com/shouni/gemini-image-editor/pkg/domain"
	"google.golang.org/genai"
)

// noImageMessage は応答に画像パーツが無かった場合のメッセージです。
const noImageMessage = "No image found in the Gemini API response."

// ImageOutput はレスポンス解析の内部結果です。
type ImageOutput struct {
	Data     []byte
	MimeType string
}

// parseToResponse は最初の候補から最初のインライン画像パーツを取り出すのだ。
func parseToResponse(resp *genai.GenerateContentResponse) (*ImageOutput, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, domain.Fatal(noImageMessage, nil)
	}

	// 現在の仕様では、最初の候補 (Candidate) のみを利用する。
	candidate := resp.Candidates[0]

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return &ImageOutput{Data: part.InlineData.Data, MimeType: mimeType}, nil
			}
		}
	}

	// 安全フィルター等によるブロックの確認
	if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
		return nil, domain.Fatal(fmt.Sprintf("%s (finish reason: %s)", noImageMessage, candidate.FinishReason), nil)
	}

	return nil, domain.Fatal(noImageMessage, nil)
}
