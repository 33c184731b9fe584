package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"campusmarket/internal/metrics"
)

// Publisher 由 Kafka Producer 实现，测试可替换。
type Publisher interface {
	Publish(ctx context.Context, msg OrderCreated) error
}

// Relay 将 Redis Stream 事件异步转发到 Kafka。
// 语义：发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb       *rd.Client
	publisher Publisher
	log       logrus.FieldLogger
	metrics   *metrics.Registry

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, publisher Publisher, stream, group, consumer string, log logrus.FieldLogger, m *metrics.Registry) *Relay {
	return &Relay{
		rdb:       rdb,
		publisher: publisher,
		log:       log.WithField("component", "order_relay"),
		metrics:   m,
		stream:    stream,
		group:     group,
		consumer:  consumer,
	}
}

// Run 阻塞直到 ctx 取消。
func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.WithError(err).Error("relay ensure group")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.poll(ctx, 2*time.Second); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.WithError(err).Warn("relay poll")
			sleepCtx(ctx, 300*time.Millisecond)
		}
	}
}

// poll 先处理本消费者的历史 pending，再读新消息；返回成功转发的条数。
func (r *Relay) poll(ctx context.Context, block time.Duration) (int, error) {
	msgs, err := r.readGroup(ctx, "0", 0)
	if err != nil {
		return 0, fmt.Errorf("read pending: %w", err)
	}
	if len(msgs) == 0 {
		msgs, err = r.readGroup(ctx, ">", block)
		if err != nil {
			return 0, fmt.Errorf("read new: %w", err)
		}
	}

	done := 0
	for _, xm := range msgs {
		if err := r.processOne(ctx, xm); err != nil {
			// 发布失败不 ACK，消息会继续保留用于重试。
			r.metrics.OutboxFailed.Inc()
			r.log.WithError(err).WithField("stream_id", xm.ID).Warn("relay process message")
			sleepCtx(ctx, 200*time.Millisecond)
			break
		}
		done++
	}
	return done, nil
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	args := &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
	}
	// 读 pending 时不阻塞（go-redis 中 Block=0 表示永久阻塞，需用 -1 关闭）。
	if block == 0 {
		args.Block = -1
	}
	streams, err := r.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseOrderEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		r.log.WithError(err).WithField("stream_id", xm.ID).Error("drop malformed order event")
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, msg); err != nil {
		return err
	}
	if err := r.ackAndDelete(ctx, xm.ID); err != nil {
		return err
	}
	r.metrics.OutboxRelayed.Inc()
	return nil
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseOrderEvent(values map[string]interface{}) (OrderCreated, error) {
	fields := make(map[string]string, 6)
	for _, k := range []string{"request_id", "order_id", "item_id", "user_id", "flash_price", "created_at"} {
		s, err := getStreamString(values, k)
		if err != nil {
			return OrderCreated{}, err
		}
		fields[k] = s
	}

	orderID, err := strconv.ParseUint(fields["order_id"], 10, 64)
	if err != nil {
		return OrderCreated{}, fmt.Errorf("invalid order_id %q", fields["order_id"])
	}
	itemID, err := strconv.ParseUint(fields["item_id"], 10, 64)
	if err != nil {
		return OrderCreated{}, fmt.Errorf("invalid item_id %q", fields["item_id"])
	}
	userID, err := strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil {
		return OrderCreated{}, fmt.Errorf("invalid user_id %q", fields["user_id"])
	}
	price, err := decimal.NewFromString(fields["flash_price"])
	if err != nil {
		return OrderCreated{}, fmt.Errorf("invalid flash_price %q", fields["flash_price"])
	}
	createdMS, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return OrderCreated{}, fmt.Errorf("invalid created_at %q", fields["created_at"])
	}

	msg := OrderCreated{
		RequestID:  fields["request_id"],
		OrderID:    uint(orderID),
		ItemID:     uint(itemID),
		UserID:     userID,
		FlashPrice: price,
		CreatedAt:  time.UnixMilli(createdMS).UTC(),
	}
	if err := msg.Validate(); err != nil {
		return OrderCreated{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
