package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shouni/gemini-image-editor/pkg/domain"
	"github.com/shouni/gemini-image-editor/pkg/generator"
	"github.com/shouni/gemini-image-editor/pkg/imgutil"
	"github.com/shouni/gemini-image-editor/pkg/retry"
)

// Session は 1 ユーザー分の編集ライフサイクルを管理する状態機械です。
//
// 非同期に戻ってくる処理（Gemini の応答、カウントダウンの tick、自動再送）は
// すべて開始時のエポックを持ち、画像や指示が変わってエポックが進んでいれば何もしません。
type Session struct {
	mu        sync.Mutex
	editor    generator.ImageEditor
	retry     *retry.Controller
	logger    *slog.Logger
	baseCtx   context.Context
	observers []func(Snapshot)

	state            State
	image            *domain.ImageFile
	preview          domain.EditResult
	instruction      string
	pending          *domain.EditRequest
	secondsRemaining int
	result           domain.EditResult
	message          string
	attempts         int
	epoch            uint64
	closed           bool
}

type options struct {
	sched        retry.Scheduler
	logger       *slog.Logger
	ctx          context.Context
	defaultRetry int
}

// Option は Session の追加設定です。
type Option func(*options)

// WithScheduler はカウントダウンに使う Scheduler を差し替えます。
func WithScheduler(s retry.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithLogger はロガーを差し替えます。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithContext は自動再送で使うコンテキストを設定します。
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithDefaultRetry は待ち時間のヒントが 0 の場合の秒数を設定します。
func WithDefaultRetry(seconds int) Option {
	return func(o *options) { o.defaultRetry = seconds }
}

// New は空の状態のセッションを作成します。
func New(editor generator.ImageEditor, opts ...Option) (*Session, error) {
	if editor == nil {
		return nil, fmt.Errorf("editor (ImageEditor) is required")
	}

	o := options{
		logger:       slog.Default(),
		ctx:          context.Background(),
		defaultRetry: domain.DefaultRetryAfter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Session{
		editor:  editor,
		retry:   retry.NewController(o.sched, retry.WithDefaultDelay(o.defaultRetry), retry.WithLogger(o.logger)),
		logger:  o.logger,
		baseCtx: o.ctx,
		state:   StateEmpty,
	}, nil
}

// OnChange は状態が変わるたびに呼ばれるオブザーバーを登録します。
// オブザーバーはロックの外で呼ばれます。
func (s *Session) OnChange(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Snapshot は現在の状態のコピーを返します。
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LoadImage は新しい画像を読み込みます。どの状態からでも Loaded に遷移し、
// 以前の結果、エラー、進行中の生成やカウントダウンはすべて破棄されます。
func (s *Session) LoadImage(file *domain.ImageFile) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.loadLocked(file); err != nil {
		s.mu.Unlock()
		return err
	}
	snap, obs := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	s.logger.Info("画像を読み込みました", "name", file.Name, "mime_type", file.MimeType, "bytes", len(file.Data))
	notify(obs, snap)
	return nil
}

// SetInstruction は編集指示を更新します。
// リトライ待ち中に指示が変わった場合、予約済みの再送は取り消されます。
func (s *Session) SetInstruction(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if text == s.instruction {
		s.mu.Unlock()
		return nil
	}
	switch s.state {
	case StateGenerating:
		s.mu.Unlock()
		return ErrBusy
	case StateAwaitingRetry:
		s.invalidateLocked()
		s.state = StateLoaded
		s.message = ""
		s.logger.Info("指示が変更されたためリトライを取り消しました")
	}
	s.instruction = text
	snap, obs := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	notify(obs, snap)
	return nil
}

// Generate は現在の画像と指示で編集を 1 回実行し、完了まで待ちます。
// クォータ超過の場合はリトライ待ちに入り、カウントダウン終了時に同じ要求が自動で再送されます。
func (s *Session) Generate(ctx context.Context) error {
	epoch, req, err := s.prepare()
	if err != nil {
		return err
	}
	return s.run(ctx, epoch, req)
}

// GenerateAsync は前提条件を同期的に検証したうえで、ゲートウェイ呼び出しを別ゴルーチンで行います。
// 結果は Snapshot や OnChange で受け取ります。
func (s *Session) GenerateAsync(ctx context.Context) error {
	epoch, req, err := s.prepare()
	if err != nil {
		return err
	}
	go func() { _ = s.run(ctx, epoch, req) }()
	return nil
}

// prepare は前提条件を検証し、Generating に遷移して送信する要求を返します。
func (s *Session) prepare() (uint64, domain.EditRequest, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, domain.EditRequest{}, ErrClosed
	}
	if s.state == StateGenerating || s.state == StateAwaitingRetry || s.retry.Active() {
		s.mu.Unlock()
		return 0, domain.EditRequest{}, ErrBusy
	}
	if s.image == nil || strings.TrimSpace(s.instruction) == "" {
		s.message = ValidationMessage
		snap, obs := s.snapshotLocked(), s.observers
		s.mu.Unlock()
		notify(obs, snap)
		return 0, domain.EditRequest{}, domain.ErrValidation
	}

	payload, err := imgutil.Encode(s.image)
	if err != nil {
		s.state = StateFailed
		s.message = err.Error()
		snap, obs := s.snapshotLocked(), s.observers
		s.mu.Unlock()
		notify(obs, snap)
		return 0, domain.EditRequest{}, err
	}

	req := domain.EditRequest{Image: payload, Instruction: s.instruction}
	s.epoch++
	epoch := s.epoch
	s.pending = &req
	s.beginAttemptLocked()
	snap, obs := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	notify(obs, snap)
	return epoch, req, nil
}

// EditAgain は直前の結果を新しい入力画像として読み込み直します。
// ファイル名は "<元のファイル名>_re-edit.png" になります。
func (s *Session) EditAgain() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.result == "" {
		s.mu.Unlock()
		return ErrNoResult
	}
	err := s.editAgainLocked(s.result)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	snap, obs := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	s.logger.Info("編集結果を再編集用に読み込みました", "name", snap.ImageName)
	notify(obs, snap)
	return nil
}

// Drop はアップロード領域へのドロップを処理します。
// ファイルは新規アップロード、"data:image" で始まるテキストは結果画像の再編集として扱います。
func (s *Session) Drop(p DropPayload) error {
	if p.File != nil {
		return s.LoadImage(p.File)
	}
	if !strings.HasPrefix(p.Text, "data:image") {
		return ErrUnsupportedDrop
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.editAgainLocked(domain.EditResult(p.Text)); err != nil {
		s.mu.Unlock()
		return err
	}
	snap, obs := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	notify(obs, snap)
	return nil
}

// Close は予約済みのカウントダウンを取り消し、以後の操作を拒否します。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.invalidateLocked()
	s.closed = true
}

// run はゲートウェイを呼び、結果を状態に反映します。ロックを持たずに呼ぶこと。
func (s *Session) run(ctx context.Context, epoch uint64, req domain.EditRequest) error {
	result, err := s.editor.Submit(ctx, req)

	s.mu.Lock()
	if epoch != s.epoch || s.state != StateGenerating {
		s.mu.Unlock()
		s.logger.Info("古い生成結果を破棄しました", "epoch", epoch)
		return nil
	}

	var retErr error
	if err == nil {
		s.state = StateSucceeded
		s.result = result
		s.message = ""
		s.pending = nil
	} else {
		ce := domain.AsClassified(err)
		retErr = ce
		switch ce.Kind {
		case domain.KindQuota:
			s.state = StateAwaitingRetry
			secs := s.retry.Start(ce.RetryAfter, s.tickFunc(epoch), s.elapsedFunc(epoch))
			s.secondsRemaining = secs
			s.message = QuotaMessage(secs)
		default:
			s.state = StateFailed
			s.message = ce.Message
			s.pending = nil
		}
		s.logger.Warn("画像編集に失敗しました", "kind", ce.Kind.String(), "message", ce.Message)
	}
	snap, obs := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	notify(obs, snap)
	return retErr
}

// tickFunc は残り秒数を状態に投影します。エラーイベントを増やすものではありません。
func (s *Session) tickFunc(epoch uint64) func(int) {
	return func(remaining int) {
		s.mu.Lock()
		if epoch != s.epoch || s.state != StateAwaitingRetry {
			s.mu.Unlock()
			return
		}
		s.secondsRemaining = remaining
		s.message = QuotaMessage(remaining)
		snap, obs := s.snapshotLocked(), s.observers
		s.mu.Unlock()

		notify(obs, snap)
	}
}

// elapsedFunc はカウントダウン終了時に同じ要求を 1 回だけ再送します。
func (s *Session) elapsedFunc(epoch uint64) func() {
	return func() {
		s.mu.Lock()
		if epoch != s.epoch || s.state != StateAwaitingRetry || s.pending == nil {
			s.mu.Unlock()
			return
		}
		req := *s.pending
		s.beginAttemptLocked()
		snap, obs := s.snapshotLocked(), s.observers
		s.mu.Unlock()

		s.logger.Info("クォータ待ちが終了したため自動で再送します", "attempt", snap.Attempts)
		notify(obs, snap)
		_ = s.run(s.baseCtx, epoch, req)
	}
}

func (s *Session) beginAttemptLocked() {
	s.state = StateGenerating
	s.result = ""
	s.message = ""
	s.secondsRemaining = 0
	s.attempts++
}

// invalidateLocked はエポックを進め、進行中の非同期処理をすべて無効にします。
func (s *Session) invalidateLocked() {
	s.epoch++
	s.retry.Cancel()
	s.pending = nil
	s.secondsRemaining = 0
}

func (s *Session) loadLocked(file *domain.ImageFile) error {
	preview, err := imgutil.FileToDataURL(file)
	if err != nil {
		return err
	}
	s.invalidateLocked()
	s.state = StateLoaded
	s.image = file
	s.preview = preview
	s.result = ""
	s.message = ""
	return nil
}

func (s *Session) editAgainLocked(result domain.EditResult) error {
	name := ReEditFilename(s.image)
	file, err := imgutil.Decode(string(result), name)
	if err != nil {
		return err
	}
	return s.loadLocked(file)
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:            s.state,
		Preview:          s.preview,
		Instruction:      s.instruction,
		SecondsRemaining: s.secondsRemaining,
		Result:           s.result,
		Message:          s.message,
		Attempts:         s.attempts,
		Epoch:            s.epoch,
	}
	if s.image != nil {
		snap.ImageName = s.image.Name
		snap.ImageMimeType = s.image.MimeType
	}
	return snap
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}
