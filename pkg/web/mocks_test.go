package web

import (
	"context"
	"sync"

	"github.com/shouni/gemini-image-editor/pkg/domain"
)

// --- Mocks ---

// stubEditor は固定の結果を返す ImageEditor です。
type stubEditor struct {
	mu     sync.Mutex
	calls  int
	result domain.EditResult
	err    error
}

func (m *stubEditor) Submit(ctx context.Context, req domain.EditRequest) (domain.EditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.result, m.err
}

func (m *stubEditor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
