package domain

import "strings"

// ImageFile はアップロードされた画像、または再編集用に復元された画像ファイルです。
type ImageFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// Stem は拡張子を除いたファイル名を返します。
// 先頭のドットは拡張子とみなしません（".env" は ".env" のまま）。
func (f *ImageFile) Stem() string {
	if f == nil {
		return ""
	}
	return FileStem(f.Name)
}

// FileStem はファイル名から最後の拡張子を取り除きます。
func FileStem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// ImagePayload は Gemini に送る画像データです。Data は base64 文字列。
type ImagePayload struct {
	MimeType string
	Data     string
}

// EditRequest は 1 回の生成試行で送信する編集要求です。
type EditRequest struct {
	Image       ImagePayload
	Instruction string
}

// Valid は送信可能な要求かどうかを返します。
func (r EditRequest) Valid() bool {
	return r.Image.Data != "" && strings.TrimSpace(r.Instruction) != ""
}

// EditResult は編集済み画像の data URL（data:<mime>;base64,<bytes>）です。
type EditResult string

func (r EditResult) String() string { return string(r) }
