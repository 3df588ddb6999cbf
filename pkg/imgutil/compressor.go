package imgutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/shouni/gemini-image-editor/pkg/domain"
)

// CompressToJPEG は画像データ（PNG, GIF, JPEG等）をJPEG形式に圧縮します。
func CompressToJPEG(data []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressPayload は送信前のペイロードを JPEG に再エンコードします。
// 圧縮後のほうが大きくなる場合は元のペイロードをそのまま返します。
func CompressPayload(p domain.ImagePayload, quality int) (domain.ImagePayload, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return p, fmt.Errorf("%w: invalid base64 payload: %w", domain.ErrDecode, err)
	}
	compressed, err := CompressToJPEG(raw, quality)
	if err != nil {
		return p, err
	}
	if len(compressed) >= len(raw) {
		return p, nil
	}
	return domain.ImagePayload{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(compressed),
	}, nil
}
