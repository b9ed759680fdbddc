// Package repofake provides in-memory implementations of the repo
// interfaces for tests.
package repofake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalix/gateway/internal/model"
	"github.com/signalix/gateway/internal/repo"
)

var (
	_ repo.AuthRepo    = (*AuthRepo)(nil)
	_ repo.SessionRepo = (*SessionRepo)(nil)
	_ repo.ChatRepo    = (*ChatRepo)(nil)
)

// AuthRepo is an in-memory repo.AuthRepo. Failures can be injected per
// record key or for listing.
type AuthRepo struct {
	mu         sync.RWMutex
	rows       map[string]map[string]model.AuthRecord
	failUpsert map[string]error
	failList   error
	upserts    int
}

// NewAuthRepo returns an empty AuthRepo.
func NewAuthRepo() *AuthRepo {
	return &AuthRepo{
		rows:       make(map[string]map[string]model.AuthRecord),
		failUpsert: make(map[string]error),
	}
}

// FailUpsert makes every Upsert of key return err until cleared with a
// nil err.
func (r *AuthRepo) FailUpsert(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failUpsert, key)
		return
	}
	r.failUpsert[key] = err
}

// FailList makes ListBySession return err until cleared with nil.
func (r *AuthRepo) FailList(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failList = err
}

// Put stores a raw row, bypassing encoding.
func (r *AuthRepo) Put(sessionID, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(sessionID, key, value)
}

func (r *AuthRepo) putLocked(sessionID, key, value string) {
	now := time.Now().UTC()
	bySession := r.rows[sessionID]
	if bySession == nil {
		bySession = make(map[string]model.AuthRecord)
		r.rows[sessionID] = bySession
	}
	rec, ok := bySession[key]
	if !ok {
		rec = model.AuthRecord{SessionID: sessionID, Key: key, CreatedAt: now}
	}
	rec.Value = value
	rec.UpdatedAt = now
	bySession[key] = rec
}

func (r *AuthRepo) Upsert(ctx context.Context, sessionID, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failUpsert[key]; err != nil {
		return err
	}
	r.upserts++
	r.putLocked(sessionID, key, value)
	return nil
}

func (r *AuthRepo) ListBySession(ctx context.Context, sessionID string) ([]model.AuthRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failList != nil {
		return nil, r.failList
	}
	var out []model.AuthRecord
	for _, rec := range r.rows[sessionID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *AuthRepo) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.rows[sessionID]))
	delete(r.rows, sessionID)
	return n, nil
}

// Keys returns the stored record keys of a session, sorted.
func (r *AuthRepo) Keys(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.rows[sessionID]))
	for k := range r.rows[sessionID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the stored value of one record.
func (r *AuthRepo) Value(sessionID, key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rows[sessionID][key]
	return rec.Value, ok
}

// Upserts returns how many successful upserts were made.
func (r *AuthRepo) Upserts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upserts
}

// SessionRepo is an in-memory repo.SessionRepo.
type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	chats    *ChatRepo
}

// NewSessionRepo returns an empty SessionRepo. When chats is non-nil its
// entries back MessageCount and are removed on Delete.
func NewSessionRepo(chats *ChatRepo) *SessionRepo {
	return &SessionRepo{sessions: make(map[string]model.Session), chats: chats}
}

func (r *SessionRepo) CreateOrTouch(ctx context.Context, sessionID string) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = model.Session{SessionID: sessionID, CreatedAt: now}
	}
	s.Status = model.StatusConnecting
	s.UpdatedAt = now
	r.sessions[sessionID] = s
	return s, nil
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, repo.ErrNotFound)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	r.sessions[sessionID] = s
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, sessionID string) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return model.Session{}, fmt.Errorf("session %s: %w", sessionID, repo.ErrNotFound)
	}
	return s, nil
}

func (r *SessionRepo) List(ctx context.Context, page, limit int) ([]model.Session, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	r.mu.RLock()
	all := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].SessionID < all[j].SessionID
	})
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, nil
	}
	end := min(start+limit, len(all))
	out := all[start:end]
	if r.chats != nil {
		for i := range out {
			out[i].MessageCount = r.chats.count(out[i].SessionID)
		}
	}
	return out, nil
}

func (r *SessionRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}

func (r *SessionRepo) ListByStatus(ctx context.Context, statuses ...model.SessionStatus) ([]model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Session
	for _, s := range r.sessions {
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, repo.ErrNotFound)
	}
	delete(r.sessions, sessionID)
	if r.chats != nil {
		r.chats.deleteSession(sessionID)
	}
	return nil
}

// Status returns the stored status of a session, or "" when absent.
func (r *SessionRepo) Status(sessionID string) model.SessionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID].Status
}

// Seed stores s as-is.
func (r *SessionRepo) Seed(s model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.SessionID] = s
}

// ChatRepo is an in-memory repo.ChatRepo.
type ChatRepo struct {
	mu       sync.RWMutex
	messages []model.ChatMessage
}

// NewChatRepo returns an empty ChatRepo.
func NewChatRepo() *ChatRepo {
	return &ChatRepo{}
}

func (r *ChatRepo) Save(ctx context.Context, msg *model.ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = model.MessageText
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *ChatRepo) List(ctx context.Context, q repo.ChatQuery) ([]model.ChatMessage, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 25
	}
	r.mu.RLock()
	var matched []model.ChatMessage
	for _, m := range r.messages {
		if m.SessionID != q.SessionID {
			continue
		}
		if q.PhoneNumber != "" && m.PhoneNumber != q.PhoneNumber {
			continue
		}
		matched = append(matched, m)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	total := len(matched)
	start := (q.Page - 1) * q.Limit
	if start >= total {
		return nil, total, nil
	}
	return matched[start:min(start+q.Limit, total)], total, nil
}

// All returns every stored message in insertion order.
func (r *ChatRepo) All() []model.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.ChatMessage(nil), r.messages...)
}

func (r *ChatRepo) count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (r *ChatRepo) deleteSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.SessionID != sessionID {
			kept = append(kept, m)
		}
	}
	r.messages = kept
}
