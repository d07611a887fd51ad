// Package cache keeps the latest analytics cycle per underlying in redis
// and announces each new cycle on a pub/sub channel.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/analytics"
)

// Config is the redis section of the application config. An empty URL
// disables the cache.
type Config struct {
	URL     string        `mapstructure:"url"`
	TTL     time.Duration `mapstructure:"ttl"`
	Channel string        `mapstructure:"channel"`
}

const DefaultChannel = "zerogex:gex"

// LatestKey is where the newest cycle for underlying is stored.
func LatestKey(underlying string) string {
	return fmt.Sprintf("zerogex:gex:%s:latest", strings.ToUpper(underlying))
}

// Connect parses cfg.URL, fills in conservative client defaults and
// verifies the connection.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 5 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.MaxRetries == 0 {
		opt.MaxRetries = 2
	}
	if opt.MinRetryBackoff == 0 {
		opt.MinRetryBackoff = 200 * time.Millisecond
	}
	if opt.MaxRetryBackoff == 0 {
		opt.MaxRetryBackoff = 2 * time.Second
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Notification is the pub/sub message announcing a new cycle.
type Notification struct {
	CycleID    string    `json:"cycle_id"`
	Underlying string    `json:"underlying"`
	Timestamp  time.Time `json:"timestamp"`
	Key        string    `json:"key"`
}

// Redis caches cycles as zstd-compressed JSON.
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	channel string
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	logger  *zap.Logger
}

func New(client *redis.Client, cfg Config, logger *zap.Logger) (*Redis, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Redis{
		client:  client,
		ttl:     ttl,
		channel: channel,
		enc:     enc,
		dec:     dec,
		logger:  logger,
	}, nil
}

// Publish stores the cycle under its latest key and announces it.
func (r *Redis) Publish(ctx context.Context, cycle *analytics.Cycle) error {
	raw, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("marshal cycle: %w", err)
	}
	key := LatestKey(cycle.Underlying)

	if err := r.client.Set(ctx, key, r.enc.EncodeAll(raw, nil), r.ttl).Err(); err != nil {
		return fmt.Errorf("caching cycle: %w", err)
	}

	note, err := json.Marshal(Notification{
		CycleID:    cycle.ID,
		Underlying: cycle.Underlying,
		Timestamp:  cycle.Timestamp,
		Key:        key,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, note).Err(); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}

	r.logger.Debug("cycle cached",
		zap.String("cycle_id", cycle.ID),
		zap.String("key", key),
		zap.Int("json_bytes", len(raw)),
	)
	return nil
}

// Latest returns the cached cycle for underlying, or nil if none is cached.
func (r *Redis) Latest(ctx context.Context, underlying string) (*analytics.Cycle, error) {
	return r.load(ctx, LatestKey(underlying))
}

func (r *Redis) load(ctx context.Context, key string) (*analytics.Cycle, error) {
	blob, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	raw, err := r.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	var cycle analytics.Cycle
	if err := json.Unmarshal(raw, &cycle); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &cycle, nil
}

// Subscribe delivers every announced cycle to fn until ctx is done,
// resubscribing after connection loss.
func (r *Redis) Subscribe(ctx context.Context, fn func(context.Context, *analytics.Cycle)) {
	for ctx.Err() == nil {
		pubsub := r.client.Subscribe(ctx, r.channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() == nil {
				r.logger.Warn("redis subscribe failed", zap.String("channel", r.channel), zap.Error(err))
				sleep(ctx, time.Second)
			}
			continue
		}
		r.logger.Info("subscribed to cycle notifications", zap.String("channel", r.channel))

		r.consume(ctx, pubsub.Channel(), fn)
		_ = pubsub.Close()

		// Avoid tight loop if Redis connection drops
		sleep(ctx, time.Second)
	}
}

func (r *Redis) consume(ctx context.Context, ch <-chan *redis.Message, fn func(context.Context, *analytics.Cycle)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var note Notification
			if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
				r.logger.Warn("malformed cycle notification", zap.Error(err))
				continue
			}
			cycle, err := r.load(ctx, note.Key)
			if err != nil {
				r.logger.Warn("loading announced cycle failed", zap.String("cycle_id", note.CycleID), zap.Error(err))
				continue
			}
			if cycle == nil {
				continue
			}
			fn(ctx, cycle)
		}
	}
}

// Close releases the codec resources. The redis client is owned by the
// caller.
func (r *Redis) Close() {
	r.enc.Close()
	r.dec.Close()
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
