package generator

import (
	"context"

	"google.golang.org/genai"
)

// --- Mocks ---

type mockAIClient struct {
	calls        int
	lastModel    string
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig
	generateFunc func(ctx context.Context) (*genai.GenerateContentResponse, error)
}

func (m *mockAIClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls++
	m.lastModel = model
	m.lastContents = contents
	m.lastConfig = config
	if m.generateFunc != nil {
		return m.generateFunc(ctx)
	}
	return imageResponse("image/png", []byte("fake")), nil
}

func imageResponse(mimeType string, data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []*genai.Part{
					{Text: "here you go"},
					{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
				},
			},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}
