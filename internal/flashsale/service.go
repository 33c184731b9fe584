package flashsale

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"campusmarket/internal/clock"
	"campusmarket/internal/logging"
	"campusmarket/internal/metrics"
	"campusmarket/internal/model"
	"campusmarket/internal/queue"
)

// ItemRepository 秒杀商品持久化；GetByID 不存在时返回 (nil, nil)。
type ItemRepository interface {
	Create(ctx context.Context, it *model.FlashSaleItem) error
	GetByID(ctx context.Context, id uint) (*model.FlashSaleItem, error)
	ListEndingAfter(ctx context.Context, t time.Time) ([]model.FlashSaleItem, error)
	Count(ctx context.Context) (int64, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *model.FlashSaleOrder) error
	CountByItem(ctx context.Context, itemID uint) (int64, error)
}

// ItemCache Get 未命中返回 (nil, nil)。
type ItemCache interface {
	Get(ctx context.Context, id uint) (*model.FlashSaleItem, error)
	Set(ctx context.Context, it *model.FlashSaleItem, ttl time.Duration) error
}

type StockLedger interface {
	Seed(ctx context.Context, itemID uint, stock int64, ttl time.Duration) error
	SeedIfAbsent(ctx context.Context, itemID uint, stock int64, ttl time.Duration) (bool, error)
	Reserve(ctx context.Context, itemID uint) (int64, error)
	ReleaseOnce(ctx context.Context, itemID uint, requestID string) (bool, error)
	Remaining(ctx context.Context, itemIDs []uint) (map[uint]int64, error)
}

type AdmissionLock interface {
	TryAcquire(ctx context.Context, itemID uint, userID int64, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, itemID uint, userID int64, token string) (bool, error)
}

// EventSink 接收下单成功事件；由 Redis Stream outbox 实现。
type EventSink interface {
	Append(ctx context.Context, ev queue.OrderCreated) (string, error)
}

type noopSink struct{}

func (noopSink) Append(context.Context, queue.OrderCreated) (string, error) { return "", nil }

// Deps 服务依赖的存储组件。
type Deps struct {
	Items  ItemRepository
	Orders OrderRepository
	Cache  ItemCache
	Ledger StockLedger
	Lock   AdmissionLock
}

const (
	defaultStoreTimeout    = 2 * time.Second
	defaultKeySafetyMargin = time.Hour
	defaultItemCacheMargin = 6 * time.Hour
	defaultListingGrace    = time.Second
	compensationTimeout    = 3 * time.Second
)

// Service 秒杀核心：建场、抢购、列表与对账都挂在这里。
type Service struct {
	items  ItemRepository
	orders OrderRepository
	cache  ItemCache
	ledger StockLedger
	lock   AdmissionLock
	events EventSink

	clock   clock.Clock
	log     logrus.FieldLogger
	metrics *metrics.Registry

	storeTimeout    time.Duration
	keySafetyMargin time.Duration
	itemCacheMargin time.Duration
	listingGrace    time.Duration
	newToken        func() string

	sf      singleflight.Group
	breaker *gobreaker.CircuitBreaker
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithEvents 下单成功后把事件写入 sink；不设置时丢弃。
func WithEvents(e EventSink) Option {
	return func(s *Service) {
		if e != nil {
			s.events = e
		}
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithKeySafetyMargin 账本与用户锁在秒杀结束后额外保留的时间。
func WithKeySafetyMargin(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.keySafetyMargin = d
		}
	}
}

func WithItemCacheMargin(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.itemCacheMargin = d
		}
	}
}

func WithListingGrace(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.listingGrace = d
		}
	}
}

// WithTokenFunc 替换抢购请求 token 的生成方式（测试用）。
func WithTokenFunc(f func() string) Option {
	return func(s *Service) {
		if f != nil {
			s.newToken = f
		}
	}
}

func NewService(d Deps, opts ...Option) *Service {
	s := &Service{
		items:           d.Items,
		orders:          d.Orders,
		cache:           d.Cache,
		ledger:          d.Ledger,
		lock:            d.Lock,
		events:          noopSink{},
		clock:           clock.NewSystem(),
		log:             logging.Discard(),
		storeTimeout:    defaultStoreTimeout,
		keySafetyMargin: defaultKeySafetyMargin,
		itemCacheMargin: defaultItemCacheMargin,
		listingGrace:    defaultListingGrace,
		newToken:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRegistry()
	}
	s.breaker = newReadBreaker(s.log)
	return s
}

// newReadBreaker 只保护只读缓存路径（商品缓存、列表剩余库存），抢购路径不经过熔断器。
func newReadBreaker(log logrus.FieldLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "flash-sale-cache-read",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithField("breaker", name).Warnf("circuit breaker state changed from %s to %s", from, to)
		},
	})
}

// keyTTL 账本与用户锁的 TTL：活到秒杀结束后再多 keySafetyMargin。
func (s *Service) keyTTL(it *model.FlashSaleItem, now time.Time) time.Duration {
	ttl := it.EndTime.Sub(now) + s.keySafetyMargin
	if ttl < s.keySafetyMargin {
		ttl = s.keySafetyMargin
	}
	return ttl
}

func (s *Service) itemCacheTTL(it *model.FlashSaleItem, now time.Time) time.Duration {
	ttl := it.EndTime.Sub(now) + s.itemCacheMargin
	if ttl < s.itemCacheMargin {
		ttl = s.itemCacheMargin
	}
	return ttl
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}
