package session

import (
	"context"
	"sync"

	"github.com/shouni/gemini-image-editor/pkg/domain"
)

// --- Mocks ---

type submitResult struct {
	result domain.EditResult
	err    error
}

// mockEditor は呼び出しを記録し、用意した結果を順番に返すのだ。
// 用意した結果を使い切った後は最後の結果を返し続けます。
type mockEditor struct {
	mu       sync.Mutex
	requests []domain.EditRequest
	results  []submitResult
	block    chan struct{}
}

func (m *mockEditor) Submit(ctx context.Context, req domain.EditRequest) (domain.EditResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var r submitResult
	switch {
	case len(m.results) > 1:
		r, m.results = m.results[0], m.results[1:]
	case len(m.results) == 1:
		r = m.results[0]
	default:
		r = submitResult{result: "data:image/png;base64,ZWRpdGVk"}
	}
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	return r.result, r.err
}

func (m *mockEditor) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockEditor) lastRequest() domain.EditRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}
