package usage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const noteParserDisabled = "parser disabled (parser_mode=manual)"

// Collector runs one extraction and reconciliation cycle across providers
type Collector struct {
	Extractors map[Provider]Extractor
	Logger     *zap.Logger
	Clock      func() time.Time
	// Lenient skips a provider whose extraction fails instead of aborting
	// the whole cycle.
	Lenient bool
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithLogger sets the collector's logger
func WithLogger(l *zap.Logger) CollectorOption {
	return func(c *Collector) { c.Logger = l }
}

// WithClock sets the time source used for timestamps
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.Clock = now }
}

// WithLenient makes extraction failures skip the provider
func WithLenient(lenient bool) CollectorOption {
	return func(c *Collector) { c.Lenient = lenient }
}

// NewCollector creates a collector over the given extractors
func NewCollector(extractors map[Provider]Extractor, opts ...CollectorOption) *Collector {
	c := &Collector{
		Extractors: extractors,
		Logger:     zap.NewNop(),
		Clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect builds a snapshot of every enabled provider. Providers are
// extracted concurrently; the result keeps the Providers order.
func (c *Collector) Collect(ctx context.Context, settings map[Provider]ProviderSettings) (Snapshot, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}

	slots := make([]*StatusRecord, len(Providers))
	g, gctx := errgroup.WithContext(ctx)

	for i, p := range Providers {
		ps, ok := settings[p]
		if !ok || !ps.Enabled {
			continue
		}
		g.Go(func() error {
			started := time.Now()
			rec, err := c.collectOne(gctx, p, ps)
			if err != nil {
				var perr *ProviderError
				if c.Lenient && errors.As(err, &perr) {
					log.Warn("skipping provider", zap.String("provider", string(p)), zap.Error(err))
					return nil
				}
				return err
			}
			log.Debug("provider collected",
				zap.String("provider", string(p)),
				zap.String("source", string(rec.Source)),
				zap.String("status", string(rec.Status)),
				zap.Duration("duration", time.Since(started)))
			slots[i] = &rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{GeneratedAt: c.now().UTC(), Providers: make([]StatusRecord, 0, len(Providers))}
	for _, rec := range slots {
		if rec != nil {
			snap.Providers = append(snap.Providers, *rec)
		}
	}
	return snap, nil
}

func (c *Collector) collectOne(ctx context.Context, p Provider, ps ProviderSettings) (StatusRecord, error) {
	ext, ok := c.Extractors[p]
	if ps.ParserMode == ParserManual && !isStub(ext) {
		obs := Observation{Notes: []string{noteParserDisabled}}
		return Reconcile(p, &obs, ps.Manual, c.now()), nil
	}
	if !ok {
		return Reconcile(p, nil, ps.Manual, c.now()), nil
	}

	obs, err := ext.Extract(ctx, ps)
	if err != nil {
		if ctx.Err() != nil {
			return StatusRecord{}, ctx.Err()
		}
		var perr *ProviderError
		if !errors.As(err, &perr) {
			err = &ProviderError{Provider: p, Err: err}
		}
		return StatusRecord{}, err
	}
	return Reconcile(p, &obs, ps.Manual, c.now()), nil
}

func (c *Collector) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}
