package generator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/shouni/gemini-image-editor/pkg/domain"
	"github.com/shouni/gemini-image-editor/pkg/imgutil"
	"google.golang.org/genai"
)

// DefaultModel は画像編集に使うモデルの既定値です。
const DefaultModel = "gemini-2.5-flash-image"

// GeminiEditor は画像とテキスト指示を Gemini に送り、編集結果を取り出すゲートウェイです。
type GeminiEditor struct {
	aiClient        ContentGenerator
	model           string
	timeout         time.Duration
	compressQuality int
	logger          *slog.Logger
}

// Option は GeminiEditor の追加設定です。
type Option func(*GeminiEditor)

// WithTimeout は 1 回の呼び出しのタイムアウトを設定します。0 なら無制限。
func WithTimeout(d time.Duration) Option {
	return func(g *GeminiEditor) { g.timeout = d }
}

// WithCompression は送信前に入力画像を指定品質の JPEG に再圧縮します。
// quality が 1〜100 の範囲外なら圧縮しません。
func WithCompression(quality int) Option {
	return func(g *GeminiEditor) { g.compressQuality = quality }
}

// WithLogger はロガーを差し替えます。
func WithLogger(l *slog.Logger) Option {
	return func(g *GeminiEditor) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGeminiEditor は依存関係を注入して GeminiEditor を初期化するのだ。
func NewGeminiEditor(aiClient ContentGenerator, model string, opts ...Option) (*GeminiEditor, error) {
	if aiClient == nil {
		return nil, fmt.Errorf("aiClient (ContentGenerator) is required")
	}
	if model == "" {
		model = DefaultModel
	}

	g := &GeminiEditor{
		aiClient: aiClient,
		model:    model,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Model は使用するモデル名を返します。
func (g *GeminiEditor) Model() string { return g.model }

// Submit は画像と指示を 1 回だけ送信し、結果の data URL を返すのだ。
// 失敗はすべて分類済みエラー（Quota / Transient / Fatal）として返します。
func (g *GeminiEditor) Submit(ctx context.Context, req domain.EditRequest) (domain.EditResult, error) {
	if !req.Valid() {
		return "", domain.Fatal("Failed to generate image: empty image or instruction", domain.ErrValidation)
	}

	parts, err := g.buildParts(req)
	if err != nil {
		return "", domain.Fatal(fmt.Sprintf("Failed to generate image: %s", err.Error()), err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.logger.InfoContext(ctx, "Geminiに画像編集をリクエストします", "model", g.model, "mime_type", req.Image.MimeType)

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage)},
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.aiClient.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		ce := Classify(err)
		g.logger.WarnContext(ctx, "Gemini画像編集に失敗しました",
			"kind", ce.Kind.String(), "retry_after", ce.RetryAfter, "error", err)
		return "", ce
	}

	out, err := parseToResponse(resp)
	if err != nil {
		return "", domain.AsClassified(err)
	}

	g.logger.InfoContext(ctx, "編集済み画像を受信しました", "mime_type", out.MimeType, "bytes", len(out.Data))
	return imgutil.BytesToDataURL(out.MimeType, out.Data), nil
}

// buildParts は [画像, テキスト] の順でパーツを組み立てます。
func (g *GeminiEditor) buildParts(req domain.EditRequest) ([]*genai.Part, error) {
	payload := req.Image
	if g.compressQuality > 0 && g.compressQuality <= 100 {
		compressed, err := imgutil.CompressPayload(payload, g.compressQuality)
		if err != nil {
			// 圧縮できない形式はそのまま送る
			g.logger.Warn("入力画像の圧縮に失敗したため元データで送信します", "error", err)
		} else {
			payload = compressed
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid image payload: %w", err)
	}

	return []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: payload.MimeType, Data: data}},
		{Text: req.Instruction},
	}, nil
}
