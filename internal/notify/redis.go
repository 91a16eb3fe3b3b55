package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis is the production Notifier: append notices travel over redis
// pub/sub so sessions on any replica see appends from any other.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("notify: redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

func redisChannel(user, save string) string {
	return "relay:notify:" + user + ":" + save
}

func (r *Redis) Publish(ctx context.Context, user, save string, seq int64) error {
	err := r.client.Publish(ctx, redisChannel(user, save), strconv.FormatInt(seq, 10)).Err()
	if err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, user, save string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, redisChannel(user, save))

	// Force the SUBSCRIBE onto the wire before returning, so the caller's
	// post-subscribe drain really does cover the race window.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("notify: redis subscribe: %w", err)
	}

	out := make(chan Notice, noticeBuffer)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			seq, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				continue
			}
			select {
			case out <- Notice{Seq: seq}:
			default:
			}
		}
	}()

	return &redisSub{ps: ps, out: out}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSub struct {
	ps  *redis.PubSub
	out chan Notice
}

func (s *redisSub) Notices() <-chan Notice {
	return s.out
}

// Close tears down the pub/sub; the forwarding goroutine closes Notices()
// once the client channel drains.
func (s *redisSub) Close() error {
	return s.ps.Close()
}
