package imgutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shouni/gemini-image-editor/pkg/domain"
	"github.com/vincent-petithory/dataurl"
)

// fallbackMimeType は data URL にメディアタイプが無い場合の既定値です（RFC 2397）。
const fallbackMimeType = "text/plain;charset=US-ASCII"

// ReadImageFile は r の内容をすべて読み込み、ImageFile を作ります。
// mimeType が空の場合は内容から推定します。
func ReadImageFile(name, mimeType string, r io.Reader) (*domain.ImageFile, error) {
	if r == nil {
		return nil, domain.DecodeError("no reader for %q", name)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %q: %w", domain.ErrDecode, name, err)
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = DetectMimeType(data)
	}
	return &domain.ImageFile{Name: name, MimeType: mimeType, Data: data}, nil
}

// DetectMimeType はバイト列から MIME タイプを推定します。
func DetectMimeType(data []byte) string {
	mt := http.DetectContentType(data)
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// Encode はファイルを送信用ペイロード（MIME タイプ + base64）に変換します。
func Encode(file *domain.ImageFile) (domain.ImagePayload, error) {
	if file == nil || len(file.Data) == 0 {
		return domain.ImagePayload{}, domain.DecodeError("Failed to read file as base64.")
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = DetectMimeType(file.Data)
	}
	return domain.ImagePayload{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(file.Data),
	}, nil
}

// Decode は data URL を解析し、指定したファイル名の ImageFile に復元します。
// ネットワークアクセスは行いません。
func Decode(dataURL, filename string) (*domain.ImageFile, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return nil, domain.DecodeError("not a data URL")
	}
	du, err := dataurl.DecodeString(dataURL)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed data URL: %w", domain.ErrDecode, err)
	}
	mimeType := du.MediaType.ContentType()
	if mimeType == "" || mimeType == "/" {
		mimeType = fallbackMimeType
	}
	return &domain.ImageFile{
		Name:     filename,
		MimeType: mimeType,
		Data:     bytes.Clone(du.Data),
	}, nil
}

// ToDataURL は MIME タイプと base64 文字列から EditResult を組み立てます。
func ToDataURL(mimeType, b64 string) domain.EditResult {
	return domain.EditResult(fmt.Sprintf("data:%s;base64,%s", mimeType, b64))
}

// BytesToDataURL はバイト列を base64 エンコードして data URL にします。
func BytesToDataURL(mimeType string, data []byte) domain.EditResult {
	return ToDataURL(mimeType, base64.StdEncoding.EncodeToString(data))
}

// FileToDataURL はプレビュー表示用にファイルを data URL に変換します。
func FileToDataURL(file *domain.ImageFile) (domain.EditResult, error) {
	p, err := Encode(file)
	if err != nil {
		return "", err
	}
	return ToDataURL(p.MimeType, p.Data), nil
}

// MimeTypeOf は data URL のヘッダー部分から MIME タイプを取り出します。
// 取り出せない場合は空文字を返します。
func MimeTypeOf(r domain.EditResult) string {
	s := strings.TrimPrefix(string(r), "data:")
	if len(s) == len(r) {
		return ""
	}
	if i := strings.IndexAny(s, ";,"); i >= 0 {
		s = s[:i]
	}
	return s
}
