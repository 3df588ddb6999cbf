package session

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shouni/gemini-image-editor/pkg/domain"
	"github.com/shouni/gemini-image-editor/pkg/retry/retrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const editedPNG = domain.EditResult("data:image/png;base64,ZWRpdGVk")

func newTestSession(t *testing.T, editor *mockEditor) (*Session, *retrytest.ManualScheduler) {
	t.Helper()
	sched := retrytest.NewManualScheduler()
	s, err := New(editor,
		WithScheduler(sched),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return s, sched
}

func photo(name string) *domain.ImageFile {
	return &domain.ImageFile{Name: name, MimeType: "image/jpeg", Data: []byte("jpeg-bytes-" + name)}
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestSession_GeneratePreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("画像が無い場合は送信せず Empty のまま検証エラーを出すのだ", func(t *testing.T) {
		ed := &mockEditor{}
		s, _ := newTestSession(t, ed)
		require.NoError(t, s.SetInstruction("Add a retro, vintage filter"))

		err := s.Generate(ctx)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Zero(t, ed.calls())

		snap := s.Snapshot()
		assert.Equal(t, StateEmpty, snap.State)
		assert.Equal(t, ValidationMessage, snap.Message)
	})

	t.Run("指示が空白だけなら Loaded のまま送信しないのだ", func(t *testing.T) {
		ed := &mockEditor{}
		s, _ := newTestSession(t, ed)
		require.NoError(t, s.LoadImage(photo("a.jpg")))
		require.NoError(t, s.SetInstruction("   "))

		err := s.Generate(ctx)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Zero(t, ed.calls())
		assert.Equal(t, StateLoaded, s.Snapshot().State)
	})
}

func TestSession_GenerateSuccess(t *testing.T) {
	ed := &mockEditor{results: []submitResult{{result: editedPNG}}}
	s, _ := newTestSession(t, ed)

	img := photo("cat.jpg")
	require.NoError(t, s.LoadImage(img))
	require.NoError(t, s.SetInstruction("Make the image black and white"))
	assert.Equal(t, StateLoaded, s.Snapshot().State)
	assert.True(t, s.Snapshot().CanGenerate())

	require.NoError(t, s.Generate(context.Background()))

	require.Equal(t, 1, ed.calls())
	req := ed.lastRequest()
	assert.Equal(t, "image/jpeg", req.Image.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(img.Data), req.Image.Data)
	assert.Equal(t, "Make the image black and white", req.Instruction)

	snap := s.Snapshot()
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, editedPNG, snap.Result)
	assert.Empty(t, snap.Message)
	assert.Equal(t, 1, snap.Attempts)
}

func TestSession_QuotaCountdownResubmitsOnce(t *testing.T) {
	ed := &mockEditor{results: []submitResult{
		{err: domain.Quota(5, nil)},
		{result: editedPNG},
	}}
	s, sched := newTestSession(t, ed)

	var mu sync.Mutex
	var waiting []int
	s.OnChange(func(snap Snapshot) {
		if snap.State == StateAwaitingRetry {
			mu.Lock()
			waiting = append(waiting, snap.SecondsRemaining)
			mu.Unlock()
		}
	})

	require.NoError(t, s.LoadImage(photo("a.jpg")))
	require.NoError(t, s.SetInstruction("Give the main subject a superhero cape"))

	err := s.Generate(context.Background())
	var ce *domain.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, domain.KindQuota, ce.Kind)

	snap := s.Snapshot()
	assert.Equal(t, StateAwaitingRetry, snap.State)
	assert.Equal(t, 5, snap.SecondsRemaining)
	assert.Equal(t, QuotaMessage(5), snap.Message)

	t.Run("カウントダウン中の手動生成は拒否されるのだ", func(t *testing.T) {
		assert.ErrorIs(t, s.Generate(context.Background()), ErrBusy)
		assert.Equal(t, 1, ed.calls())
	})

	sched.Advance(4 * time.Second)
	assert.Equal(t, 1, ed.calls(), "0 秒になるまで再送しない")
	assert.Equal(t, 1, s.Snapshot().SecondsRemaining)
	assert.Equal(t, QuotaMessage(1), s.Snapshot().Message)

	sched.Advance(time.Second)
	assert.Equal(t, 2, ed.calls(), "ちょうど 1 回だけ再送する")
	assert.Equal(t, StateSucceeded, s.Snapshot().State)
	assert.Equal(t, 2, s.Snapshot().Attempts)

	sched.Advance(time.Minute)
	assert.Equal(t, 2, ed.calls())

	mu.Lock()
	defer mu.Unlock()
	// 開始時の 5 と、5 回の tick（4,3,2,1,0）
	assert.Equal(t, []int{5, 4, 3, 2, 1, 0}, waiting)
}

func TestSession_QuotaResubmitsSameRequest(t *testing.T) {
	ed := &mockEditor{results: []submitResult{
		{err: domain.Quota(2, nil)},
		{result: editedPNG},
	}}
	s, sched := newTestSession(t, ed)
	require.NoError(t, s.LoadImage(photo("a.jpg")))
	require.NoError(t, s.SetInstruction("Remove the person in the background"))

	_ = s.Generate(context.Background())
	first := ed.lastRequest()
	sched.Advance(2 * time.Second)

	require.Equal(t, 2, ed.calls())
	assert.Equal(t, first, ed.lastRequest())
}

func TestSession_QuotaZeroUsesDefault(t *testing.T) {
	ed := &mockEditor{results: []submitResult{{err: domain.Quota(0, nil)}}}
	s, _ := newTestSession(t, ed)
	require.NoError(t, s.LoadImage(photo("a.jpg")))
	require.NoError(t, s.SetInstruction("x"))

	_ = s.Generate(context.Background())
	assert.Equal(t, 60, s.Snapshot().SecondsRemaining)
}

func TestSession_NewImageCancelsPendingRetry(t *testing.T) {
	ed := &mockEditor{results: []submitResult{
		{err: domain.Quota(5, nil)},
		{result: editedPNG},
	}}
	s, sched := newTestSession(t, ed)
	require.NoError(t, s.LoadImage(photo("a.jpg")))
	require.NoError(t, s.SetInstruction("Add a retro, vintage filter"))
	_ = s.Generate(context.Background())

	sched.Advance(3 * time.Second)
	require.Equal(t, 2, s.Snapshot().SecondsRemaining)

	require.NoError(t, s.LoadImage(photo("b.jpg")))
	sched.Advance(time.Minute)

	assert.Equal(t, 1, ed.calls(), "画像差し替え後に古い再送が発火してはいけない")
	snap := s.Snapshot()
	assert.Equal(t, StateLoaded, snap.State)
	assert.Equal(t, "b.jpg", snap.ImageName)
	assert.Zero(t, snap.SecondsRemaining)
	assert.Empty(t, snap.Message)
	assert.Zero(t, sched.Pending())
}

func TestSession_InstructionChangeCancelsPendingRetry(t *testing.T) {
	ed := &mockEditor{results: []submitResult{{err: domain.Quota(5, nil)}}}
	s, sched := newTestSession(t, ed)
	require.NoError(t, s.LoadImage(photo("a.jpg")))
	require.NoError(t, s.SetInstruction("first"))
	_ = s.Generate(context.Background())

	sched.Advance(2 * time.Second)
	require.NoError(t, s.SetInstruction("second"))
	sched.Advance(time.Minute)

	assert.Equal(t, 1, ed.calls())
	assert.Equal(t, StateLoaded, s.Snapshot().State)
	assert.Equal(t, "second", s.Snapshot().Instruction)
}

func TestSession_TransientAndFatalNeverRetry(t *testing.T) {
	tests := []struct {
		name string
		err  *domain.ClassifiedError
	}{
		{"Transient", domain.Transient("An unexpected server error occurred. Please try again in a few moments.", nil)},
		{"Fatal", domain.Fatal("Failed to generate image: invalid argument", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ed := &mockEditor{results: []submitResult{{err: tt.err}}}
			s, sched := newTestSession(t, ed)
			require.NoError(t, s.LoadImage(photo("a.jpg")))
			require.NoError(t, s.SetInstruction("x"))

			err := s.Generate(context.Background())
			assert.ErrorIs(t, err, tt.err)
			assert.Zero(t, sched.Pending())

			sched.Advance(2 * time.Minute)
			assert.Equal(t, 1, ed.calls())

			snap := s.Snapshot()
			assert.Equal(t, StateFailed, snap.State)
			assert.Equal(t, tt.err.Message, snap.Message)

			t.Run("Failed から再度生成できるのだ", func(t *testing.T) {
				_ = s.Generate(context.Background())
				assert.Equal(t, 2, ed.calls())
			})
		})
	}
}

func TestSession_StaleResponseIsDiscarded(t *testing.T) {
	ed := &mockEditor{block: make(chan struct{}), results: []submitResult{{result: editedPNG}}}
	s, _ := newTestSession(t, ed)
	require.NoError(t, s.LoadImage(photo("a.jpg")))
	require.NoError(t, s.SetInstruction("x"))

	done := make(chan error, 1)
	go func() { done <- s.Generate(context.Background()) }()

	require.Eventually(t, func() bool { return ed.calls() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateGenerating, s.Snapshot().State)
	assert.ErrorIs(t, s.Generate(context.Background()), ErrBusy)
	assert.ErrorIs(t, s.SetInstruction("y"), ErrBusy)

	require.NoError(t, s.LoadImage(photo("b.jpg")))
	close(ed.block)
	require.NoError(t, <-done)

	snap := s.Snapshot()
	assert.Equal(t, StateLoaded, snap.State)
	assert.Empty(t, snap.Result)
}

func TestSession_EditAgain(t *testing.T) {
	ed := &mockEditor{results: []submitResult{{result: editedPNG}}}
	s, _ := newTestSession(t, ed)

	assert.ErrorIs(t, s.EditAgain(), ErrNoResult)

	require.NoError(t, s.LoadImage(photo("photo.jpg")))
	require.NoError(t, s.SetInstruction("x"))
	require.NoError(t, s.Generate(context.Background()))

	require.NoError(t, s.EditAgain())
	snap := s.Snapshot()
	assert.Equal(t, StateLoaded, snap.State)
	assert.Equal(t, "photo_re-edit.png", snap.ImageName)
	assert.Equal(t, "image/png", snap.ImageMimeType)
	assert.Empty(t, snap.Result)
	assert.Equal(t, "x", snap.Instruction)

	require.NoError(t, s.Generate(context.Background()))
	req := ed.lastRequest()
	assert.Equal(t, "image/png", req.Image.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("edited")), req.Image.Data)
}

func TestSession_Drop(t *testing.T) {
	ed := &mockEditor{}
	s, _ := newTestSession(t, ed)

	t.Run("ファイルのドロップは新規アップロード", func(t *testing.T) {
		require.NoError(t, s.Drop(DropPayload{File: photo("dropped.jpg")}))
		assert.Equal(t, "dropped.jpg", s.Snapshot().ImageName)
	})

	t.Run("結果画像の data URL は再編集として扱う", func(t *testing.T) {
		require.NoError(t, s.Drop(DropPayload{Text: string(editedPNG)}))
		snap := s.Snapshot()
		assert.Equal(t, StateLoaded, snap.State)
		assert.Equal(t, "dropped_re-edit.png", snap.ImageName)
	})

	t.Run("画像以外のテキストは無視する", func(t *testing.T) {
		assert.ErrorIs(t, s.Drop(DropPayload{Text: "hello"}), ErrUnsupportedDrop)
		assert.ErrorIs(t, s.Drop(DropPayload{Text: "data:text/plain,hi"}), ErrUnsupportedDrop)
	})

	t.Run("壊れた data URL は DecodeError", func(t *testing.T) {
		assert.ErrorIs(t, s.Drop(DropPayload{Text: "data:image/png;base64,@@"}), domain.ErrDecode)
	})
}

func TestSession_LoadImageRejectsEmptyFile(t *testing.T) {
	s, _ := newTestSession(t, &mockEditor{})
	err := s.LoadImage(&domain.ImageFile{Name: "empty.png"})
	assert.ErrorIs(t, err, domain.ErrDecode)
	assert.Equal(t, StateEmpty, s.Snapshot().State)
}

func TestSession_Close(t *testing.T) {
	ed := &mockEditor{results: []submitResult{{err: domain.Quota(3, nil)}}}
	s, sched := newTestSession(t, ed)
	require.NoError(t, s.LoadImage(photo("a.jpg")))
	require.NoError(t, s.SetInstruction("x"))
	_ = s.Generate(context.Background())

	s.Close()
	sched.Advance(time.Minute)

	assert.Equal(t, 1, ed.calls())
	assert.ErrorIs(t, s.LoadImage(photo("b.jpg")), ErrClosed)
	assert.ErrorIs(t, s.Generate(context.Background()), ErrClosed)
}

func TestSession_GenerateAsync(t *testing.T) {
	ed := &mockEditor{results: []submitResult{{result: editedPNG}}}
	s, _ := newTestSession(t, ed)

	assert.ErrorIs(t, s.GenerateAsync(context.Background()), domain.ErrValidation)

	require.NoError(t, s.LoadImage(photo("a.jpg")))
	require.NoError(t, s.SetInstruction("x"))
	require.NoError(t, s.GenerateAsync(context.Background()))

	require.Eventually(t, func() bool {
		return s.Snapshot().State == StateSucceeded
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, ed.calls())
}
