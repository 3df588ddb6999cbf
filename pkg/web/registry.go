package web

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/gemini-image-editor/pkg/session"
)

// SessionFactory は新しい編集セッションを作ります。
type SessionFactory func() (*session.Session, error)

type entry struct {
	sess     *session.Session
	lastSeen time.Time
}

// Registry はブラウザごとの編集セッションをメモリ上に保持します。永続化はしません。
type Registry struct {
	mu      sync.Mutex
	factory SessionFactory
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*entry
}

// NewRegistry は Registry を作成します。ttl が 0 以下なら期限切れ削除をしません。
func NewRegistry(factory SessionFactory, ttl time.Duration) *Registry {
	return &Registry{
		factory: factory,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Create は新しいセッションを登録し、その ID を返します。
func (r *Registry) Create() (string, *session.Session, error) {
	sess, err := r.factory()
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()

	r.mu.Lock()
	r.entries[id] = &entry{sess: sess, lastSeen: r.now()}
	r.mu.Unlock()
	return id, sess, nil
}

// Get は ID に対応するセッションを返し、最終アクセス時刻を更新します。
func (r *Registry) Get(id string) (*session.Session, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.sess, true
}

// Remove はセッションを閉じて登録を解除します。
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		e.sess.Close()
	}
	return ok
}

// Len は登録済みセッション数を返します。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep は ttl を超えてアクセスの無いセッションを閉じ、削除した数を返します。
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*session.Session
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.sess)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// CloseAll はすべてのセッションを閉じます。
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.sess.Close()
	}
}
