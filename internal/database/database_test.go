package database

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/gridmon/internal/config"
)

// TestMigrateURL проверяет URL golang-migrate: спецсимволы пароля экранируются.
func TestMigrateURL(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db.example.org",
		DBPort:     5433,
		DBName:     "loadmon",
		DBUser:     "monitor",
		DBPassword: "p@ss:w/rd",
		DBSSLMode:  "require",
	}

	got := MigrateURL(cfg)

	if !strings.HasPrefix(got, "pgx5://monitor:") {
		t.Errorf("MigrateURL = %q, ожидалась схема pgx5 и пользователь monitor", got)
	}
	if strings.Contains(got, "p@ss:w/rd") {
		t.Errorf("MigrateURL = %q, пароль должен быть экранирован", got)
	}
	if !strings.Contains(got, "@db.example.org:5433/loadmon?sslmode=require") {
		t.Errorf("MigrateURL = %q, неверные хост/база/sslmode", got)
	}
}

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("loadmon_test"),
		postgres.WithUsername("loadmon"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("LM_DB_HOST", host)
	t.Setenv("LM_DB_PORT", port.Port())
	t.Setenv("LM_DB_NAME", "loadmon_test")
	t.Setenv("LM_DB_USER", "loadmon")
	t.Setenv("LM_DB_PASSWORD", "test-password")
	t.Setenv("LM_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — ErrNoChange, без ошибки
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, "summary_snapshots").Scan(&exists)
	if err != nil {
		t.Fatalf("Ошибка проверки таблицы: %v", err)
	}
	if !exists {
		t.Error("Таблица summary_snapshots не создана")
	}
}

// TestReadinessChecker проверяет ReadinessChecker.
func TestReadinessChecker(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	checker := NewReadinessChecker(pool)
	status, msg := checker.CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали status = %q", status, msg, "ok")
	}
}
