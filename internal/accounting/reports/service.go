package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// DefaultTimeout bounds a statement build when none is configured.
const DefaultTimeout = 10 * time.Second

// Cache stores generated statements under per-period versions.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Version(ctx context.Context, periodID int64) (int64, error)
	Bump(ctx context.Context, periodID int64) error
}

// Service loads ledger snapshots and derives statements from them.
type Service struct {
	store   accounting.Store
	cache   Cache
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	group   singleflight.Group
}

// NewService constructs the statement service. cache may be nil.
func NewService(store accounting.Store, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		cache:   cache,
		logger:  logger,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
}

// WithTimeout overrides the build deadline.
func (s *Service) WithTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// WithNow overrides the clock used for GeneratedAt stamps.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Invalidate drops cached statements for the period.
func (s *Service) Invalidate(ctx context.Context, periodID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Bump(ctx, periodID)
}

// Statements returns the full statement bundle for the period.
func (s *Service) Statements(ctx context.Context, periodID int64) (Statements, error) {
	var out Statements
	err := s.cached(ctx, periodID, "statements", &out, func(l *Ledger) (any, error) {
		return Generate(l, s.now().UTC())
	})
	return out, err
}

// Segment returns the movement reports for one dimension value.
func (s *Service) Segment(ctx context.Context, periodID int64, dim accounting.Dimension, value string) (Segment, error) {
	if err := validateSegment(dim, value); err != nil {
		return Segment{}, err
	}
	var out Segment
	err := s.cached(ctx, periodID, "segment:"+string(dim)+":"+value, &out, func(l *Ledger) (any, error) {
		return BuildSegment(l, dim, value)
	})
	return out, err
}

// Consolidated returns a segment per value of dim.
func (s *Service) Consolidated(ctx context.Context, periodID int64, dim accounting.Dimension) (Consolidated, error) {
	if dim == "" {
		dim = accounting.DimensionEntity
	}
	if err := validateSegment(dim, Unassigned); err != nil {
		return Consolidated{}, err
	}
	var out Consolidated
	err := s.cached(ctx, periodID, "consolidated:"+string(dim), &out, func(l *Ledger) (any, error) {
		return BuildConsolidated(l, dim)
	})
	return out, err
}

// Load reads the period and its predecessor concurrently, each inside its own
// snapshot.
func (s *Service) Load(ctx context.Context, periodID int64) (*Ledger, error) {
	period, prior, err := s.periods(ctx, periodID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, period, prior)
}

func (s *Service) periods(ctx context.Context, periodID int64) (accounting.Period, *accounting.Period, error) {
	var (
		period accounting.Period
		prior  *accounting.Period
	)
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		period, err = r.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		prev, err := r.PreviousPeriod(ctx, period)
		if errors.Is(err, accounting.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		prior = &prev
		return nil
	})
	return period, prior, err
}

func (s *Service) load(ctx context.Context, period accounting.Period, prior *accounting.Period) (*Ledger, error) {
	var current, previous *Ledger
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l, err := s.loadLedger(ctx, period)
		current = l
		return err
	})
	if prior != nil {
		g.Go(func() error {
			l, err := s.loadLedger(ctx, *prior)
			previous = l
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	current.Prior = previous
	return current, nil
}

func (s *Service) loadLedger(ctx context.Context, period accounting.Period) (*Ledger, error) {
	l := &Ledger{Period: period}
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		if l.Groups, err = r.ListGroups(ctx); err != nil {
			return err
		}
		if l.Accounts, err = r.ListAccounts(ctx, accounting.AccountFilter{}); err != nil {
			return err
		}
		if l.Balances, err = r.ListBalances(ctx, period.ID); err != nil {
			return err
		}
		l.Lines, err = r.ListPostedLines(ctx, period.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// cached serves kind for the period from the cache, building it at most once
// per key across concurrent callers.
func (s *Service) cached(ctx context.Context, periodID int64, kind string, dst any, build func(*Ledger) (any, error)) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	period, prior, err := s.periods(ctx, periodID)
	if err != nil {
		return s.wrap(kind, err)
	}
	key := s.key(ctx, kind, period, prior)
	if s.cache != nil && key != "" {
		hit, err := s.cache.Get(ctx, key, dst)
		if err != nil {
			s.logger.Warn("statement cache read failed", slog.String("key", key), slog.Any("error", err))
		} else if hit {
			return nil
		}
	}

	flight := key
	if flight == "" {
		flight = fmt.Sprintf("%s:%d", kind, periodID)
	}
	res := s.group.DoChan(flight, func() (any, error) {
		bctx, bcancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer bcancel()
		l, err := s.load(bctx, period, prior)
		if err != nil {
			return nil, err
		}
		value, err := build(l)
		if err != nil {
			s.alert(bctx, err)
			return nil, err
		}
		if s.cache != nil && key != "" {
			if err := s.cache.Set(bctx, key, value); err != nil {
				s.logger.Warn("statement cache write failed", slog.String("key", key), slog.Any("error", err))
			}
		}
		return value, nil
	})
	select {
	case <-ctx.Done():
		return s.wrap(kind, ctx.Err())
	case r := <-res:
		if r.Err != nil {
			return s.wrap(kind, r.Err)
		}
		return assign(dst, r.Val)
	}
}

// alert halts the period behind a failed statement check. Statements are
// read paths, so the alert is recorded as the system actor.
func (s *Service) alert(ctx context.Context, err error) {
	var violation *accounting.InvariantViolationError
	if !errors.As(err, &violation) {
		return
	}
	s.logger.Error("ledger invariant violated in statements",
		slog.Int64("period_id", violation.PeriodID), slog.String("check", violation.Check),
		slog.String("expected", violation.Expected.StringFixed(2)), slog.String("actual", violation.Actual.StringFixed(2)))
	halted, herr := accounting.HaltPeriod(ctx, s.store, accounting.SystemActor, violation, s.now().UTC())
	if herr != nil {
		s.logger.Error("halt period failed", slog.Int64("period_id", violation.PeriodID), slog.Any("error", herr))
		return
	}
	if halted {
		s.logger.Warn("period halted", slog.Int64("period_id", violation.PeriodID))
	}
}

// key is empty when the cache is unavailable; the build then bypasses it.
func (s *Service) key(ctx context.Context, kind string, period accounting.Period, prior *accounting.Period) string {
	if s.cache == nil {
		return ""
	}
	ver, err := s.cache.Version(ctx, period.ID)
	if err != nil {
		s.logger.Warn("statement cache version failed", slog.Int64("period_id", period.ID), slog.Any("error", err))
		return ""
	}
	key := fmt.Sprintf("ledger:%s:%d:v%d", kind, period.ID, ver)
	if prior != nil {
		pver, err := s.cache.Version(ctx, prior.ID)
		if err != nil {
			s.logger.Warn("statement cache version failed", slog.Int64("period_id", prior.ID), slog.Any("error", err))
			return ""
		}
		key += fmt.Sprintf(":p%d:v%d", prior.ID, pver)
	}
	return key
}

func (s *Service) wrap(kind string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &accounting.TransientError{Op: "build " + kind, Err: err}
	}
	return err
}

func assign(dst, val any) error {
	switch d := dst.(type) {
	case *Statements:
		*d = val.(Statements)
	case *Segment:
		*d = val.(Segment)
	case *Consolidated:
		*d = val.(Consolidated)
	default:
		return fmt.Errorf("reports: unsupported result type %T", dst)
	}
	return nil
}
