package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"renderhub/internal/dispatch"
	"renderhub/internal/pkg/logger"
)

// DefaultEventChannel is the pub/sub channel job events go out on.
const DefaultEventChannel = "renderhub:job-events"

// RedisPublisher fans every job snapshot out on a Redis pub/sub channel for
// out-of-process consumers. Fire and forget: Redis pub/sub keeps no backlog,
// which matches the notifier's no-replay contract.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	log     *logger.Logger
	timeout time.Duration
}

func NewRedisPublisher(rdb *redis.Client, channel string, log *logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		log:     log.WithComponent("redis-events"),
		timeout: 2 * time.Second,
	}
}

// Notify implements dispatch.Subscriber.
func (p *RedisPublisher) Notify(snap dispatch.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.log.Error("snapshot marshal failed", "job_id", snap.JobID, "error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Error("event publish failed",
			"job_id", snap.JobID,
			"channel", p.channel,
			"error", err.Error(),
		)
	}
}
