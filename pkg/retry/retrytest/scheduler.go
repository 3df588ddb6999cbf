// Package retrytest は retry.Scheduler のテスト用実装を提供します。
package retrytest

import (
	"sort"
	"sync"
	"time"

	"github.com/shouni/gemini-image-editor/pkg/retry"
)

// ManualScheduler は Advance を呼んだときだけ時間が進む Scheduler です。
// 期限が来たコールバックは Advance を呼んだゴルーチンで同期的に実行されます。
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	at      time.Duration
	seq     int
	f       func()
	stopped bool
}

// NewManualScheduler は時刻 0 の ManualScheduler を作ります。
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc は現在時刻から d 後にコールバックを予約します。
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) retry.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, at: s.now + d, seq: s.seq, f: f}
	s.pending = append(s.pending, t)
	return t
}

// Advance は時間を d 進め、その間に期限が来たコールバックを順番に実行します。
// コールバック内で新たに予約されたものも期限内なら実行します。
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.popDueLocked(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.at
		s.mu.Unlock()

		next.f()
	}
}

// Pending は未実行かつ未停止のコールバック数を返します。
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (s *ManualScheduler) popDueLocked(target time.Duration) *manualTimer {
	live := s.pending[:0]
	for _, t := range s.pending {
		if !t.stopped {
			live = append(live, t)
		}
	}
	s.pending = live

	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].at != s.pending[j].at {
			return s.pending[i].at < s.pending[j].at
		}
		return s.pending[i].seq < s.pending[j].seq
	})
	if len(s.pending) == 0 || s.pending[0].at > target {
		return nil
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	t.stopped = true
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
