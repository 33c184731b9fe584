package queue

import (
	"context"
	"fmt"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 把订单事件追加到 Redis Stream，由 Relay 异步转发 Kafka。
type Outbox struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewOutbox(rdb *rd.Client, stream string, maxLen int64) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Append XADD（近似 MAXLEN 截断），返回消息 ID。
func (o *Outbox) Append(ctx context.Context, ev OrderCreated) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("invalid order event: %w", err)
	}
	args := &rd.XAddArgs{
		Stream: o.stream,
		Values: ev.streamValues(),
	}
	if o.maxLen > 0 {
		args.MaxLen = o.maxLen
		args.Approx = true
	}
	id, err := o.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("append order event %s: %w", ev.RequestID, err)
	}
	return id, nil
}
