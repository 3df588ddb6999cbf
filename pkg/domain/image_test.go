package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileStem(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"拡張子あり", "photo.jpg", "photo"},
		{"複数のドット", "my.holiday.photo.png", "my.holiday.photo"},
		{"拡張子なし", "photo", "photo"},
		{"先頭のドットのみ", ".hidden", ".hidden"},
		{"空文字", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileStem(tt.in))
		})
	}
}

func TestImageFile_Stem(t *testing.T) {
	var nilFile *ImageFile
	assert.Equal(t, "", nilFile.Stem())
	assert.Equal(t, "cat", (&ImageFile{Name: "cat.webp"}).Stem())
}

func TestEditRequest_Valid(t *testing.T) {
	img := ImagePayload{MimeType: "image/png", Data: "AAAA"}

	assert.True(t, EditRequest{Image: img, Instruction: "make it blue"}.Valid())
	assert.False(t, EditRequest{Image: img, Instruction: "   "}.Valid(), "空白だけの指示は無効")
	assert.False(t, EditRequest{Instruction: "make it blue"}.Valid(), "画像なしは無効")
}
