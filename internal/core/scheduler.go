package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"plugkit/pkg/logger"
)

// Job периодическая задача, обычно Execute на зарегистрированном плагине.
type Job func(ctx context.Context) error

type scheduled struct {
	name    string
	job     Job
	running atomic.Bool
}

// Scheduler запускает задачи с фиксированным интервалом. Если прошлый
// запуск задачи еще идет, тик для нее пропускается.
type Scheduler struct {
	interval time.Duration
	log      *slog.Logger
	jobs     []*scheduled
	wg       sync.WaitGroup

	runs   atomic.Int64
	failed atomic.Int64
}

// NewScheduler создает scheduler с заданным интервалом.
func NewScheduler(interval time.Duration, lg *slog.Logger) *Scheduler {
	if lg == nil {
		lg = logger.Discard()
	}
	return &Scheduler{interval: interval, log: lg}
}

// Add добавляет задачу в расписание. Вызывать до Start.
func (s *Scheduler) Add(name string, job Job) {
	s.jobs = append(s.jobs, &scheduled{name: name, job: job})
}

// Runs число завершенных запусков; Failed из них с ошибкой.
func (s *Scheduler) Runs() int64   { return s.runs.Load() }
func (s *Scheduler) Failed() int64 { return s.failed.Load() }

// Start запускает scheduler до отмены контекста и дожидается задач.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			for _, j := range s.jobs {
				if !j.running.CompareAndSwap(false, true) {
					s.log.Debug("job still running, tick skipped", "job", j.name)
					continue
				}
				s.wg.Add(1)
				go s.run(ctx, j)
			}
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j *scheduled) {
	defer s.wg.Done()
	defer j.running.Store(false)

	err := j.job(ctx)
	s.runs.Add(1)
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("scheduled job failed", "job", j.name, "err", err)
	}
}
