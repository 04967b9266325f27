package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultStreamPrefix = "peerchat:bus:"
	defaultStreamMaxLen = 10000
	readBlock           = time.Second
	readCount           = 100
)

// RedisBridge implements Bus over Redis Streams so several server processes
// share one bus. Each topic is one stream; every subscription reads the
// stream from the moment it subscribed, in stream order.
type RedisBridge struct {
	client *redis.Client
	prefix string
	maxLen int64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewRedisBridge connects to redisURL and checks the connection.
func NewRedisBridge(ctx context.Context, redisURL string) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBridgeFromClient(client), nil
}

// NewRedisBridgeFromClient wraps an existing client.
func NewRedisBridgeFromClient(client *redis.Client) *RedisBridge {
	return &RedisBridge{
		client: client,
		prefix: defaultStreamPrefix,
		maxLen: defaultStreamMaxLen,
		done:   make(chan struct{}),
	}
}

func (rb *RedisBridge) stream(topic string) string {
	return rb.prefix + topic
}

// Publish appends msg to the topic stream.
func (rb *RedisBridge) Publish(ctx context.Context, msg Message) error {
	values, err := encodeStreamValues(msg)
	if err != nil {
		return err
	}
	return rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: rb.stream(msg.Topic),
		MaxLen: rb.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// Subscribe starts reading the topic stream from now on.
func (rb *RedisBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closed {
		return errors.New("redis bridge closed")
	}

	// Stream ids start with the millisecond timestamp, so this id skips
	// history without a round trip and without missing concurrent appends.
	lastID := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
	stream := rb.stream(topic)

	rb.wg.Add(1)
	go func() {
		defer rb.wg.Done()
		rb.readLoop(ctx, topic, stream, lastID, handler)
	}()
	return nil
}

func (rb *RedisBridge) readLoop(ctx context.Context, topic, stream, lastID string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rb.done:
			return
		default:
		}

		res, err := rb.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			slog.Warn("Redis stream read failed", "topic", topic, "error", err)
			select {
			case <-time.After(readBlock):
			case <-ctx.Done():
				return
			case <-rb.done:
				return
			}
			continue
		}

		for _, s := range res {
			for _, xm := range s.Messages {
				lastID = xm.ID
				msg, err := decodeStreamMessage(topic, xm.Values)
				if err != nil {
					slog.Error("Dropping undecodable stream entry", "topic", topic, "id", xm.ID, "error", err)
					continue
				}
				if err := handler(ctx, msg); err != nil {
					slog.Error("Failed to handle message", "topic", topic, "msg_id", xm.ID, "error", err)
				}
			}
		}
	}
}

// Close stops every subscription and closes the client.
func (rb *RedisBridge) Close() error {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return nil
	}
	rb.closed = true
	close(rb.done)
	rb.mu.Unlock()

	err := rb.client.Close()
	rb.wg.Wait()
	return err
}

func encodeStreamValues(msg Message) (map[string]any, error) {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return map[string]any{
		"user_id":  msg.UserID,
		"payload":  string(msg.Payload),
		"metadata": string(meta),
	}, nil
}

func decodeStreamMessage(topic string, values map[string]any) (Message, error) {
	msg := Message{Topic: topic}

	str := func(key string) string {
		if v, ok := values[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	msg.UserID = str("user_id")
	msg.Payload = []byte(str("payload"))
	if raw := str("metadata"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &msg.Metadata); err != nil {
			return Message{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return msg, nil
}
