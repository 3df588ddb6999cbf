package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shouni/gemini-image-editor/pkg/domain"
)

// State は編集セッションの状態です。
type State int

const (
	StateEmpty State = iota
	StateLoaded
	StateGenerating
	StateAwaitingRetry
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StateGenerating:
		return "generating"
	case StateAwaitingRetry:
		return "awaiting_retry"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBusy は生成中またはリトライ待ちのため操作を受け付けないことを示します。
	ErrBusy = errors.New("an edit is already in progress")
	// ErrNoResult は再編集やダウンロードの対象となる結果が無いことを示します。
	ErrNoResult = errors.New("no edited image available")
	// ErrUnsupportedDrop はドロップされた内容が画像でも結果画像でもないことを示します。
	ErrUnsupportedDrop = errors.New("dropped content is not an image")
	// ErrClosed は閉じたセッションへの操作です。
	ErrClosed = errors.New("session closed")
)

// ValidationMessage は前提条件を満たさない生成操作に表示する文言です。
const ValidationMessage = "Please upload an image and enter a prompt."

// QuotaMessage はリトライ待ち中の表示文言です。残り秒数から毎回組み立てます。
func QuotaMessage(seconds int) string {
	return fmt.Sprintf("Quota limit reached. Retrying in %d seconds...", seconds)
}

// Snapshot はある時点のセッション状態のコピーです。
type Snapshot struct {
	State            State
	ImageName        string
	ImageMimeType    string
	Preview          domain.EditResult
	Instruction      string
	SecondsRemaining int
	Result           domain.EditResult
	Message          string
	Attempts         int
	Epoch            uint64
}

// CanGenerate は生成ボタンを押せる状態かどうかを返します。
func (s Snapshot) CanGenerate() bool {
	if s.State == StateGenerating || s.State == StateAwaitingRetry {
		return false
	}
	return s.Preview != "" && strings.TrimSpace(s.Instruction) != ""
}

// DropPayload はアップロード領域にドロップされた内容です。
// ファイルがあればそれを優先し、無ければ Text を結果画像の data URL として扱います。
type DropPayload struct {
	File *domain.ImageFile
	Text string
}
