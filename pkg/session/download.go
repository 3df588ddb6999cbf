package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/shouni/gemini-image-editor/pkg/domain"
	"github.com/shouni/gemini-image-editor/pkg/imgutil"
)

const (
	reEditSuffix     = "_re-edit.png"
	fallbackStem     = "edited_image"
	defaultExtension = "png"
)

// Download はダウンロード用に復元した編集結果です。
type Download struct {
	Filename string
	MimeType string
	Data     []byte
}

// Download は現在の結果をファイルとして取り出します。now はファイル名の時刻に使います。
func (s *Session) Download(now time.Time) (*Download, error) {
	s.mu.Lock()
	result, image := s.result, s.image
	s.mu.Unlock()

	if result == "" || image == nil {
		return nil, ErrNoResult
	}

	mimeType := imgutil.MimeTypeOf(result)
	name := DownloadFilename(image.Name, mimeType, now)
	file, err := imgutil.Decode(string(result), name)
	if err != nil {
		return nil, err
	}

	s.logger.Info("編集結果をダウンロード用に書き出しました", "filename", name, "bytes", len(file.Data))
	return &Download{Filename: name, MimeType: file.MimeType, Data: file.Data}, nil
}

// DownloadFilename は "<stem>_edited_<YYYYMMDD>_<HHMMSS>.<ext>" 形式のファイル名を作ります。
func DownloadFilename(originalName, mimeType string, now time.Time) string {
	return fmt.Sprintf("%s_edited_%s.%s", domain.FileStem(originalName), now.Format("20060102_150405"), ExtensionFor(mimeType))
}

// ReEditFilename は再編集用ファイルの名前を返します。元の画像が無い場合は "edited_image" を使います。
func ReEditFilename(original *domain.ImageFile) string {
	stem := fallbackStem
	if original != nil && original.Name != "" {
		stem = original.Stem()
	}
	return stem + reEditSuffix
}

// ExtensionFor は MIME タイプから拡張子を決めます。不明な場合は png。
func ExtensionFor(mimeType string) string {
	_, sub, ok := strings.Cut(mimeType, "/")
	if !ok || sub == "" {
		return defaultExtension
	}
	if i := strings.IndexAny(sub, ";+"); i >= 0 {
		sub = sub[:i]
	}
	switch sub {
	case "":
		return defaultExtension
	case "jpeg", "pjpeg":
		return "jpg"
	default:
		return sub
	}
}
