// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Монитор загрузки отслеживает:
//   - EMIR-реестры — HTTP checker к endpoint запроса сервисов (некритичные:
//     отказ одного реестра не мешает обнаружению через остальные)
//   - PostgreSQL — SQL checker через pgxpool, если общее хранилище снимков включено
//
// Сайты (LDAP) не мониторятся: их доступность проверяется при каждом обнаружении.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для EMIR
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// emirHealthPath — endpoint EMIR, отвечающий 200 при работоспособном реестре.
const emirHealthPath = "/services/query.json"

// ErrNoDependencies — нечего мониторить.
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// DephealthDeps — зависимости для мониторинга.
type DephealthDeps struct {
	// DB — *sql.DB из pgxpool через stdlib.OpenDBFromPool() (nil — хранилище выключено)
	DB *sql.DB
	// PgConnURL — URL PostgreSQL (для лейблов, не для подключения)
	PgConnURL string
	// EMIRURLs — базовые URL EMIR-реестров
	EMIRURLs []string
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
// Возвращает ErrNoDependencies, если нет ни хранилища, ни EMIR-реестров.
func NewDephealthService(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	var names []string

	if deps.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(deps.DB)),
			dephealth.FromURL(deps.PgConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
		names = append(names, "postgresql")
	}

	seen := make(map[string]struct{})
	for _, raw := range deps.EMIRURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("некорректный URL EMIR %q", raw)
		}
		name := NormalizeDepName("emir-" + u.Hostname())
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		depOpts := []dephealth.DependencyOption{
			dephealth.FromURL(raw),
			dephealth.WithHTTPHealthPath(strings.TrimSuffix(u.Path, "/") + emirHealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(false),
		}
		if u.Scheme == "https" {
			depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP(name, depOpts...))
		names = append(names, name)
	}

	if len(names) == 0 {
		return nil, ErrNoDependencies
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен",
		slog.Any("dependencies", ds.names),
	)
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// Dependencies возвращает имена зарегистрированных зависимостей.
func (ds *DephealthService) Dependencies() []string {
	return ds.names
}

// Name — имя проверки в ответе /health/ready.
func (ds *DephealthService) Name() string {
	return "dependencies"
}

// CheckReady сводит состояние зависимостей в статус readiness.
// Отказ зависимости не делает сервис неготовым: сводки строятся по остальным реестрам.
func (ds *DephealthService) CheckReady() (status, message string) {
	return readiness(ds.Health())
}

func readiness(health map[string]bool) (status, message string) {
	var down []string
	for name, ok := range health {
		if !ok {
			down = append(down, name)
		}
	}
	if len(down) == 0 {
		return "ok", fmt.Sprintf("зависимостей: %d", len(health))
	}
	slices.Sort(down)
	return "degraded", "недоступны: " + strings.Join(down, ", ")
}

const maxDepNameLen = 63

var (
	depNameInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
	depNameDashes  = regexp.MustCompile(`-{2,}`)
)

// NormalizeDepName приводит имя зависимости к формату dephealth:
// строчные латинские буквы, цифры и дефисы, не длиннее 63 символов, начинается с буквы.
func NormalizeDepName(name string) string {
	n := depNameInvalid.ReplaceAllString(strings.ToLower(name), "-")
	n = depNameDashes.ReplaceAllString(n, "-")
	n = strings.Trim(n, "-")
	if n == "" {
		return "unknown-dep"
	}
	if n[0] >= '0' && n[0] <= '9' {
		n = "dep-" + n
	}
	if len(n) > maxDepNameLen {
		n = strings.TrimRight(n[:maxDepNameLen], "-")
	}
	return n
}
