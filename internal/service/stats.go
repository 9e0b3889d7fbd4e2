// stats.go — статистика журнала расхода с кэшем результатов.
// Кэш сбрасывается любой мутацией справочников или журнала (Invalidate).
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/repository"
)

// topLimit — размер рейтингов станков и классов.
const topLimit = 10

// StatsService — сервис статистики.
type StatsService struct {
	stats  repository.StatsRepository
	cache  *expirable.LRU[string, any]
	logger *slog.Logger

	// mu и generation не дают сохранить результат, вычисленный до Invalidate.
	mu         sync.Mutex
	generation uint64
}

// NewStatsService создаёт сервис статистики с LRU-кэшем размера cacheSize и временем жизни ttl.
func NewStatsService(db *sql.DB, cacheSize int, ttl time.Duration, logger *slog.Logger) *StatsService {
	return &StatsService{
		stats:  repository.NewStatsRepository(db),
		cache:  expirable.NewLRU[string, any](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "stats_service")),
	}
}

// Invalidate сбрасывает кэш статистики.
func (s *StatsService) Invalidate() {
	s.mu.Lock()
	s.generation++
	s.cache.Purge()
	s.mu.Unlock()
}

// cached возвращает значение из кэша или вычисляет и сохраняет его.
func cached[T any](s *StatsService, key string, load func() (T, error)) (T, error) {
	if v, ok := s.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			statsCacheRequests.WithLabelValues("hit").Inc()
			return typed, nil
		}
	}
	statsCacheRequests.WithLabelValues("miss").Inc()

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.cache.Add(key, v)
	}
	s.mu.Unlock()
	return v, nil
}

func statsKey(name string, f model.StatsFilter, extra string) string {
	return fmt.Sprintf("%s|%s|%s|%s", name, f.DateFrom, f.DateTo, extra)
}

// normalizeStatsFilter проверяет границы периода статистики.
func normalizeStatsFilter(f *model.StatsFilter) error {
	return normalizeFilterDates(&f.DateFrom, &f.DateTo)
}

// Summary возвращает сводку: общее число записей, распределения по типам
// активности и преподавателям, суммарные вес, площадь и листы.
func (s *StatsService) Summary(ctx context.Context, f model.StatsFilter) (*model.StatsSummary, error) {
	if err := normalizeStatsFilter(&f); err != nil {
		return nil, err
	}

	return cached(s, statsKey("summary", f, ""), func() (*model.StatsSummary, error) {
		summary := &model.StatsSummary{}
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			var err error
			summary.Total, err = s.stats.Total(gctx, f)
			return err
		})
		g.Go(func() error {
			var err error
			summary.ByActivityType, err = s.stats.ByActivityType(gctx, f)
			return err
		})
		g.Go(func() error {
			var err error
			summary.ByPreparer, err = s.stats.ByPreparer(gctx, f)
			return err
		})
		g.Go(func() error {
			var err error
			summary.TotalWeightG, summary.TotalSurfaceM2, summary.TotalSheets, err = s.stats.Totals(gctx, f)
			return err
		})

		if err := g.Wait(); err != nil {
			return nil, err
		}
		return summary, nil
	})
}

// Timeline возвращает временные ряды с шагом group.
func (s *StatsService) Timeline(ctx context.Context, f model.StatsFilter, group model.TimelineGroup) (*model.Timeline, error) {
	if group == "" {
		group = model.GroupByDay
	}
	format, ok := group.Format()
	if !ok {
		return nil, validationf("недопустимый шаг %q, допустимые: day, week, month", group)
	}
	if err := normalizeStatsFilter(&f); err != nil {
		return nil, err
	}

	return cached(s, statsKey("timeline", f, string(group)), func() (*model.Timeline, error) {
		tl := &model.Timeline{GroupBy: group}
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			var err error
			tl.CountByActivity, err = s.stats.CountByActivity(gctx, f, format)
			return err
		})
		g.Go(func() error {
			var err error
			tl.WeightByMaterial, err = s.stats.WeightByMaterial(gctx, f, format)
			return err
		})
		g.Go(func() error {
			var err error
			tl.SurfaceByMaterial, err = s.stats.SurfaceByMaterial(gctx, f, format)
			return err
		})
		g.Go(func() error {
			var err error
			tl.SheetsByColorMode, err = s.stats.SheetsByColorMode(gctx, f, format)
			return err
		})

		if err := g.Wait(); err != nil {
			return nil, err
		}
		return tl, nil
	})
}

// Top возвращает рейтинги станков и классов по числу записей.
func (s *StatsService) Top(ctx context.Context, f model.StatsFilter) (*model.TopUsage, error) {
	if err := normalizeStatsFilter(&f); err != nil {
		return nil, err
	}

	return cached(s, statsKey("top", f, ""), func() (*model.TopUsage, error) {
		top := &model.TopUsage{}
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			var err error
			top.Machines, err = s.stats.TopMachines(gctx, f, topLimit)
			return err
		})
		g.Go(func() error {
			var err error
			top.Classes, err = s.stats.TopClasses(gctx, f, topLimit)
			return err
		})

		if err := g.Wait(); err != nil {
			return nil, err
		}
		return top, nil
	})
}

// Activity возвращает распределение записей по часу суток и дню недели.
func (s *StatsService) Activity(ctx context.Context, f model.StatsFilter) (*model.ActivityHistogram, error) {
	if err := normalizeStatsFilter(&f); err != nil {
		return nil, err
	}

	return cached(s, statsKey("activity", f, ""), func() (*model.ActivityHistogram, error) {
		return s.stats.Histogram(ctx, f)
	})
}
