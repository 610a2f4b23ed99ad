package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Flow names a multi-step wizard.
type Flow string

const (
	FlowRegister Flow = "register"
	FlowAddUser  Flow = "add_user"
	FlowPromote  Flow = "promote"
	FlowJumpPage Flow = "jump_page"
)

// Step names the input a wizard is waiting for.
type Step string

const (
	StepFirstName  Step = "first_name"
	StepLastName   Step = "last_name"
	StepEmail      Step = "email"
	StepPhone      Step = "phone"
	StepTelegramID Step = "telegram_id"
	StepRole       Step = "role"
	StepUserID     Step = "user_id"
	StepPage       Step = "page"
)

// Draft accumulates wizard answers.
type Draft struct {
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	TelegramID *int64 `json:"telegramId,omitempty"`
}

// Pending is the continuation registered for one (user, chat) pair.
type Pending struct {
	Flow      Flow      `json:"flow"`
	Step      Step      `json:"step"`
	Draft     Draft     `json:"draft"`
	ChatID    int64     `json:"chatId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionKey identifies a conversation.
type SessionKey struct {
	UserID int64
	ChatID int64
}

// SessionStore holds at most one pending continuation per key.
type SessionStore interface {
	Save(ctx context.Context, key SessionKey, p Pending, ttl time.Duration) error
	// Take removes and returns the continuation, if any and not expired.
	Take(ctx context.Context, key SessionKey) (Pending, bool, error)
	Delete(ctx context.Context, key SessionKey) error
}

// Conversations registers and consumes continuations with a fixed TTL.
type Conversations struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// NewConversations wraps store. A non-positive ttl falls back to 30 minutes.
func NewConversations(store SessionStore, ttl time.Duration) *Conversations {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Conversations{store: store, ttl: ttl, now: time.Now}
}

// Register replaces any continuation for key with p.
func (c *Conversations) Register(ctx context.Context, key SessionKey, p Pending) error {
	p.ChatID = key.ChatID
	p.UpdatedAt = c.now().UTC()
	return c.store.Save(ctx, key, p, c.ttl)
}

// Take consumes the continuation for key.
func (c *Conversations) Take(ctx context.Context, key SessionKey) (Pending, bool, error) {
	return c.store.Take(ctx, key)
}

// Drop abandons any continuation for key.
func (c *Conversations) Drop(ctx context.Context, key SessionKey) error {
	return c.store.Delete(ctx, key)
}

// MemorySessionStore keeps continuations in process memory.
type MemorySessionStore struct {
	mu    sync.Mutex
	items map[SessionKey]memorySession
	now   func() time.Time
}

type memorySession struct {
	pending   Pending
	expiresAt time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{items: make(map[SessionKey]memorySession), now: time.Now}
}

func (m *MemorySessionStore) Save(_ context.Context, key SessionKey, p Pending, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, k)
		}
	}
	m.items[key] = memorySession{pending: p, expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemorySessionStore) Take(_ context.Context, key SessionKey) (Pending, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return Pending{}, false, nil
	}
	delete(m.items, key)
	if !m.now().Before(item.expiresAt) {
		return Pending{}, false, nil
	}
	return item.pending, true, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, key SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// RedisSessionStore keeps continuations in Redis so they survive restarts.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string) (*RedisSessionStore, error) {
	if client == nil {
		return nil, errors.New("session store redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bookshop:session"
	}
	return &RedisSessionStore{client: client, prefix: prefix}, nil
}

func (r *RedisSessionStore) key(k SessionKey) string {
	return fmt.Sprintf("%s:%d:%d", r.prefix, k.UserID, k.ChatID)
}

func (r *RedisSessionStore) Save(ctx context.Context, key SessionKey, p Pending, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return r.client.Set(ctx, r.key(key), raw, ttl).Err()
}

func (r *RedisSessionStore) Take(ctx context.Context, key SessionKey) (Pending, bool, error) {
	raw, err := r.client.GetDel(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, fmt.Errorf("take session: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pending{}, false, fmt.Errorf("decode session: %w", err)
	}
	return p, true, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, key SessionKey) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
