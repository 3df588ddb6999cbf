package retry

import "time"

// Timer は予約済みコールバックの取り消しハンドルです。
type Timer interface {
	Stop() bool
}

// Scheduler は一定時間後にコールバックを実行します。
// テストでは手動で時間を進める実装に差し替えます。
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler は time.AfterFunc を使う Scheduler です。
type RealScheduler struct{}

// AfterFunc は time.AfterFunc に委譲します。
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
