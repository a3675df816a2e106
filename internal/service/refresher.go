// refresher.go — плановый прогрев кэша сводок по расписанию cron.
// Пока прогрев выполняется, следующий запуск пропускается.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// Warmer — обновление снимка вида по умолчанию.
type Warmer interface {
	Warm(ctx context.Context, schema model.Schema) error
}

// Janitor — удаление истёкших снимков из общего хранилища.
type Janitor interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Refresher — планировщик прогрева кэша.
type Refresher struct {
	cron    *cron.Cron
	warmer  Warmer
	janitor Janitor
	schemas []model.Schema
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRefresher создаёт планировщик.
// schedule — выражение cron ("*/2 * * * *") или дескриптор ("@every 2m").
// timeout ограничивает один запуск прогрева всех схем.
func NewRefresher(schedule string, schemas []model.Schema, warmer Warmer, timeout time.Duration, logger *slog.Logger) (*Refresher, error) {
	l := logger.With(slog.String("component", "refresher"))
	r := &Refresher{
		warmer:  warmer,
		schemas: schemas,
		timeout: timeout,
		logger:  l,
	}
	r.cron = cron.New(
		cron.WithLogger(cronLogger{logger: l}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: l})),
	)
	if _, err := r.cron.AddFunc(schedule, r.job); err != nil {
		return nil, fmt.Errorf("некорректное расписание прогрева %q: %w", schedule, err)
	}
	return r, nil
}

// WithJanitor добавляет к каждому запуску очистку истёкших снимков хранилища.
func (r *Refresher) WithJanitor(j Janitor) *Refresher {
	r.janitor = j
	return r
}

// Start запускает планировщик.
func (r *Refresher) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron.Start()
	r.logger.Info("Прогрев кэша запущен", slog.Int("schemas", len(r.schemas)))
}

// Stop останавливает планировщик и ждёт завершения текущего прогрева.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.cron.Stop().Done()
	r.logger.Info("Прогрев кэша остановлен")
}

func (r *Refresher) job() {
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	r.RunOnce(ctx)
}

// RunOnce прогревает все схемы последовательно.
// Ошибки логируются и не прерывают прогрев остальных схем.
func (r *Refresher) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for _, sch := range r.schemas {
		start := time.Now()
		if err := r.warmer.Warm(ctx, sch); err != nil {
			r.logger.Warn("Прогрев не удался",
				slog.String("schema", string(sch)),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.Debug("Схема прогрета",
			slog.String("schema", string(sch)),
			slog.Duration("duration", time.Since(start)),
		)
	}

	if r.janitor != nil {
		n, err := r.janitor.DeleteExpired(ctx)
		if err != nil {
			r.logger.Warn("Не удалось удалить истёкшие снимки", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			r.logger.Debug("Истёкшие снимки удалены", slog.Int64("count", n))
		}
	}
}

// cronLogger адаптирует slog к cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
