package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/types"
)

// RedisTransportConfig configures Redis queue delivery.
type RedisTransportConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// KeyPrefix namespaces the per-type queues. Default "agentbus:".
	KeyPrefix string
}

// RedisTransport delivers envelopes into per-type Redis lists so that
// out-of-process consumers can drain them. One list per message type,
// RPUSH on deliver, BLPOP on dequeue.
type RedisTransport struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisTransport creates a Redis queue transport and verifies connectivity.
func NewRedisTransport(config *RedisTransportConfig, logger *zap.Logger) (*RedisTransport, error) {
	if config == nil || config.Addr == "" {
		return nil, types.NewError(types.ErrConfig, "redis transport requires an address").WithComponent("bus")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentbus:"
	}

	return &RedisTransport{
		client:    client,
		keyPrefix: keyPrefix + "queue:",
		logger:    logger.With(zap.String("component", "bus"), zap.String("transport", "redis")),
	}, nil
}

func (t *RedisTransport) Name() string { return "redis" }

// queueKey returns the Redis list key for a message type.
func (t *RedisTransport) queueKey(msgType types.MessageType) string {
	return t.keyPrefix + msgType.String()
}

// Deliver appends the envelope to its type's queue.
func (t *RedisTransport) Deliver(ctx context.Context, env *envelope.Envelope) *PublishResult {
	result := &PublishResult{DeliveredTo: []string{}}
	if env == nil {
		result.Errors = append(result.Errors, "envelope is nil")
		return result
	}
	result.MessageID = env.ID

	data, err := envelope.Marshal(env)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("marshal envelope: %v", err))
		return result
	}

	key := t.queueKey(env.Type)
	if err := t.client.RPush(ctx, key, data).Err(); err != nil {
		t.logger.Warn("redis delivery failed",
			zap.String("message_id", env.ID),
			zap.String("key", key),
			zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("redis delivery: %v", err))
		return result
	}

	result.Success = true
	result.DeliveredTo = append(result.DeliveredTo, t.Name())
	return result
}

// Dequeue blocks up to timeout for the next envelope of the given type.
// Returns (nil, nil) when the timeout elapses with an empty queue.
func (t *RedisTransport) Dequeue(ctx context.Context, msgType types.MessageType, timeout time.Duration) (*envelope.Envelope, error) {
	vals, err := t.client.BLPop(ctx, timeout, t.queueKey(msgType)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis dequeue: %w", err)
	}

	// BLPOP returns [key, value]
	if len(vals) != 2 {
		return nil, fmt.Errorf("redis dequeue: unexpected reply length %d", len(vals))
	}
	return envelope.Unmarshal([]byte(vals[1]))
}

// QueueLen reports the depth of a type's queue.
func (t *RedisTransport) QueueLen(ctx context.Context, msgType types.MessageType) (int64, error) {
	return t.client.LLen(ctx, t.queueKey(msgType)).Result()
}

// Ping checks Redis connectivity.
func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

var _ Transport = (*RedisTransport)(nil)
