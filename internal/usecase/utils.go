package usecase

import (
	"context"
	"errors"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/xerrors"

	"go.uber.org/zap"
)

// Clock returns the current time; tests pin it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// Option tunes a usecase at construction
type Option func(*options)

type options struct {
	now    Clock
	limits domain.AmountLimits
}

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.now = c
		}
	}
}

// WithLimits sets the amount rules applied to opening balances
func WithLimits(l domain.AmountLimits) Option {
	return func(o *options) { o.limits = l }
}

func buildOptions(opts []Option) options {
	o := options{now: systemClock, limits: domain.DefaultAmountLimits}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// cache namespaces
const (
	nsAccount    = "ledger:account"
	nsSettlement = "ledger:settlement"

	accountTTL    = time.Minute
	settlementTTL = 30 * time.Second
)

func orNop(p pub.Publisher) pub.Publisher {
	if p == nil {
		return pub.NopPublisher{}
	}
	return p
}

func orNopLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// logRejection logs expected business rejections quietly and everything else as an error.
func logRejection(log *zap.Logger, op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if xerrors.IsValidation(err) || xerrors.IsDomain(err) || xerrors.IsNotFound(err) {
		log.Info("operation rejected", fields...)
		return
	}
	log.Error("operation failed", fields...)
}

// ViewCache backs the account and settlement read models. *cache.Cache implements it; a nil
// *cache.Cache is a valid always-missing cache.
type ViewCache interface {
	GetJSON(ctx context.Context, namespace, key string, dst interface{}) error
	Generation(ctx context.Context, namespace, key string) (int64, error)
	SetJSONAt(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration, gen int64) error
	Invalidate(ctx context.Context, namespace string, keys ...string) error
}

type noCache struct{}

func (noCache) GetJSON(context.Context, string, string, interface{}) error { return cache.ErrMiss }
func (noCache) Generation(context.Context, string, string) (int64, error) { return 0, nil }
func (noCache) SetJSONAt(context.Context, string, string, interface{}, time.Duration, int64) error {
	return nil
}
func (noCache) Invalidate(context.Context, string, ...string) error { return nil }

func orNoCache(c ViewCache) ViewCache {
	if c == nil {
		return noCache{}
	}
	return c
}

// readThrough serves key from c or loads it. The generation is read before loading, so a fill
// racing with a write is dropped instead of outliving the invalidation.
func readThrough[T any](ctx context.Context, c ViewCache, log *zap.Logger, namespace, key string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	var cached T
	if err := c.GetJSON(ctx, namespace, key, &cached); err == nil {
		return &cached, nil
	}

	gen, genErr := c.Generation(ctx, namespace, key)
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		log.Debug("cache generation read failed", zap.String("namespace", namespace), zap.String("key", key), zap.Error(genErr))
		return v, nil
	}
	if err := c.SetJSONAt(ctx, namespace, key, v, ttl, gen); err != nil && !errors.Is(err, cache.ErrStale) {
		log.Debug("cache write failed", zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func invalidate(ctx context.Context, c ViewCache, log *zap.Logger, namespace string, keys ...string) {
	if err := c.Invalidate(ctx, namespace, keys...); err != nil {
		log.Warn("cache invalidation failed", zap.String("namespace", namespace), zap.Strings("keys", keys), zap.Error(err))
	}
}
