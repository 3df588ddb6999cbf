package retry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shouni/gemini-image-editor/pkg/domain"
)

// TickInterval はカウントダウンの 1 刻みです。
const TickInterval = time.Second

// Controller はクォータ超過後の再送タイミングを管理するカウントダウンです。
//
// 同時に保持するカウントダウンは 1 つだけです。予約したコールバックはそれぞれ
// エポックを持ち、Cancel や再 Start でエポックが進むと古いコールバックは何もしません。
type Controller struct {
	mu           sync.Mutex
	sched        Scheduler
	defaultDelay int
	logger       *slog.Logger

	epoch     uint64
	active    bool
	remaining int
	timer     Timer
	onTick    func(remaining int)
	onElapsed func()
}

// Option は Controller の追加設定です。
type Option func(*Controller)

// WithDefaultDelay は待ち時間が 0 以下の場合に使う秒数を設定します。
func WithDefaultDelay(seconds int) Option {
	return func(c *Controller) {
		if seconds > 0 {
			c.defaultDelay = seconds
		}
	}
}

// WithLogger はロガーを差し替えます。
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController は Controller を作成します。sched が nil なら RealScheduler を使います。
func NewController(sched Scheduler, opts ...Option) *Controller {
	if sched == nil {
		sched = RealScheduler{}
	}
	c := &Controller{
		sched:        sched,
		defaultDelay: domain.DefaultRetryAfter,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start はカウントダウンを開始し、実際に使う秒数を返します。
// 毎秒 onTick に残り秒数を渡し、0 になった時点でカウントダウンを解除してから
// onElapsed をちょうど 1 回呼びます。実行中のカウントダウンは置き換えられます。
func (c *Controller) Start(seconds int, onTick func(remaining int), onElapsed func()) int {
	if seconds <= 0 {
		seconds = c.defaultDelay
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.epoch++
	c.active = true
	c.remaining = seconds
	c.onTick = onTick
	c.onElapsed = onElapsed
	c.scheduleLocked(c.epoch)

	c.logger.Info("リトライのカウントダウンを開始しました", "seconds", seconds)
	return seconds
}

// Cancel は実行中のカウントダウンと予約済みの再送を無効化します。
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	c.stopLocked()
	c.epoch++
	c.logger.Info("リトライのカウントダウンを取り消しました")
}

// Active はカウントダウン中かどうかを返します。
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Remaining は残り秒数と、カウントダウン中かどうかを返します。
func (c *Controller) Remaining() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining, c.active
}

func (c *Controller) scheduleLocked(epoch uint64) {
	c.timer = c.sched.AfterFunc(TickInterval, func() { c.tick(epoch) })
}

func (c *Controller) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.active = false
	c.remaining = 0
	c.onTick = nil
	c.onElapsed = nil
}

// tick は 1 秒ごとの処理です。コールバックはロックを外してから呼びます。
func (c *Controller) tick(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || !c.active {
		c.mu.Unlock()
		return
	}

	c.remaining--
	remaining := c.remaining
	onTick, onElapsed := c.onTick, c.onElapsed

	if remaining > 0 {
		c.scheduleLocked(epoch)
	} else {
		c.timer = nil
		c.stopLocked()
		c.epoch++
	}
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if remaining <= 0 && onElapsed != nil {
		c.logger.Info("カウントダウンが終了したため再送します")
		onElapsed()
	}
}
