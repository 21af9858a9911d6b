package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"llm_evaluator/internal/logging"
)

// ConversationLocker serializes fan-out rounds per conversation. Acquire
// returns ErrConversationBusy when another round holds the lock; the
// returned release func is safe to call once the round is over.
type ConversationLocker interface {
	Acquire(ctx context.Context, conversationID int64) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLocker implements ConversationLocker with SET NX PX, which holds
// across evaluator replicas
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisLocker creates a locker whose locks expire after ttl
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, prefix: "evaluator:conversation-lock:"}
}

func (l *RedisLocker) key(conversationID int64) string {
	return fmt.Sprintf("%s%d", l.prefix, conversationID)
}

func (l *RedisLocker) Acquire(ctx context.Context, conversationID int64) (func(), error) {
	key := l.key(conversationID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	if !ok {
		return nil, ErrConversationBusy
	}

	return func() {
		// the request context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			logging.Warningf("failed to release lock %s, held until it expires in %s: %v", key, l.ttl, err)
		}
	}, nil
}

// MemoryLocker implements ConversationLocker within one process
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]struct{})}
}

func (l *MemoryLocker) Acquire(ctx context.Context, conversationID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[conversationID]; busy {
		return nil, ErrConversationBusy
	}
	l.held[conversationID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, conversationID)
			l.mu.Unlock()
		})
	}, nil
}
