// Точка входа монитора загрузки грида.
// Загружает конфигурацию, при необходимости подключает PostgreSQL (общее хранилище снимков),
// строит источники обнаружения сайтов, конвейер сводок и кэш, запускает прогрев
// по расписанию, topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/gridmon/internal/api/handlers"
	"github.com/bigkaa/gridmon/internal/api/middleware"
	"github.com/bigkaa/gridmon/internal/api/openapi"
	"github.com/bigkaa/gridmon/internal/config"
	"github.com/bigkaa/gridmon/internal/database"
	"github.com/bigkaa/gridmon/internal/ldapclient"
	"github.com/bigkaa/gridmon/internal/registry"
	"github.com/bigkaa/gridmon/internal/repository"
	"github.com/bigkaa/gridmon/internal/server"
	"github.com/bigkaa/gridmon/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Монитор загрузки запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("default_schema", string(cfg.DefaultSchema)),
	)

	ctx := context.Background()
	var checkers []handlers.ReadinessChecker

	// 3. Общее хранилище снимков (опционально)
	var (
		store   service.SnapshotStore
		janitor service.Janitor
		deps    service.DephealthDeps
	)
	if cfg.DatabaseEnabled() {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics
		pgDB := stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		snapshots := repository.NewSnapshotRepository(pool)
		store, janitor = snapshots, snapshots
		deps.DB = pgDB
		deps.PgConnURL = cfg.DatabaseURL()
		checkers = append(checkers, database.NewReadinessChecker(pool))
	} else {
		logger.Info("LM_DB_HOST не задан, кэш только в памяти")
	}

	// 4. Источники обнаружения сайтов
	ldapClient := ldapclient.New(cfg.ProbeTimeout, cfg.QueryTimeLimit, logger)
	emirClient, err := registry.NewHTTPClient(cfg.EMIRCACertPath, cfg.RegistryTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания HTTP-клиента EMIR", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sources, err := registry.Build(registry.Lists{
		GIIS:    cfg.Registries.GIIS,
		EMIR:    cfg.Registries.EMIR,
		ARCHERY: cfg.Registries.ARCHERY,
		Static:  cfg.Registries.Static,
	}, registry.Deps{
		LDAP:   ldapClient,
		HTTP:   emirClient,
		DNS:    net.DefaultResolver,
		Logger: logger,
	})
	if err != nil {
		logger.Error("Ошибка конфигурации реестров", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(sources) == 0 {
		logger.Warn("Источники обнаружения не настроены, сводки будут пустыми")
	}
	deps.EMIRURLs = registry.EMIRURLs(sources)

	resolver := registry.NewResolver(registry.ResolverOptions{
		MaxDepth:         cfg.RegistryMaxDepth,
		RegistryTimeout:  cfg.RegistryTimeout,
		ProbeConcurrency: cfg.FanoutConcurrency,
	}, registry.TCPProber{Timeout: cfg.ProbeTimeout}, logger)
	directory := registry.NewDirectory(resolver, sources)
	checkers = append(checkers, directory)

	// 5. Конвейер: опрос → согласование → агрегация, кэш
	fanout := service.NewFanout(ldapClient, cfg.QueryTimeout, cfg.FanoutConcurrency, logger)
	reconciler := service.NewReconciler(logger)
	cache := service.NewCacheService(cfg.CacheMaxEntries, cfg.CacheTTL, store, logger)
	summaries := service.NewSummaryService(directory, fanout, reconciler, cache,
		cfg.DefaultSchema, cfg.DefaultLocale, logger)
	clusters := service.NewClusterService(fanout, reconciler, cfg.DefaultSchema, logger)
	jobs := service.NewUserJobService(directory, fanout, cfg.DefaultSchema, logger)

	// 6. Прогрев кэша по расписанию
	if cfg.WarmupSchedule != "" {
		// Один запуск должен уложиться в обнаружение и опрос сайтов
		refresher, err := service.NewRefresher(cfg.WarmupSchedule, cfg.WarmupSchemas, summaries,
			cfg.RegistryTimeout+cfg.QueryTimeout*2, logger)
		if err != nil {
			logger.Error("Ошибка настройки прогрева", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if janitor != nil {
			refresher.WithJanitor(janitor)
		}
		refresher.Start(ctx)
		defer refresher.Stop()
	}

	// 7. topologymetrics — мониторинг зависимостей (PostgreSQL + EMIR)
	dephealthSvc, err := service.NewDephealthService("loadmon", cfg.DephealthGroup, deps,
		cfg.DephealthCheckInterval, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("topologymetrics: нет зависимостей для мониторинга")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		} else {
			defer dephealthSvc.Stop()
			checkers = append(checkers, dephealthSvc)
		}
	}

	// 8. Middleware: метрики, логирование, проверка параметров по OpenAPI
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-документа", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.NewRequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	middlewares := []func(next http.Handler) http.Handler{
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		validator.Middleware(),
	}

	// 9. JWT для эндпоинтов оператора (опционально)
	var invalidator handlers.CacheInvalidator
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWKSCACertPath,
			cfg.JWTIssuer,
			cfg.RoleAdminGroups,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACertPath, cfg.JWKSClientTimeout)
		if err != nil {
			logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
			os.Exit(1)
		}
		checkers = append(checkers, jwksChecker)

		operatorAuth := func(next http.Handler) http.Handler {
			return jwtAuth.Middleware()(middleware.RequireRoleOrScope(
				[]string{middleware.RoleAdmin}, cfg.AdminScopes)(next))
		}
		middlewares = append(middlewares, server.AuthForPrefixes(operatorAuth, "/api/v1/cache"))
		invalidator = summaries
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Info("LM_JWT_JWKS_URL не задан, эндпоинты оператора отключены")
	}

	// 10. API handler и HTTP-сервер
	healthHandler := handlers.NewHealthHandler(checkers...)
	apiHandler := handlers.NewAPIHandler(healthHandler, summaries, clusters, invalidator, logger).
		WithUserJobs(jobs)
	srv := server.New(cfg, logger, apiHandler, middlewares...)

	// 11. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Монитор загрузки остановлен")
}
