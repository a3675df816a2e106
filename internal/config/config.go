// Пакет config — загрузка и валидация конфигурации монитора загрузки
// из переменных окружения и (опционально) YAML-файла реестров.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Registries — списки источников обнаружения сайтов.
// Заполняются из файла LM_REGISTRY_FILE, затем дополняются списками из окружения.
type Registries struct {
	// GIIS — LDAP-реестры (EGIIS): ldap://host:port/Mds-Vo-name=X,o=grid
	GIIS []string `yaml:"giis"`
	// EMIR — HTTP(S) URL реестров EMIR
	EMIR []string `yaml:"emir"`
	// ARCHERY — DNS-имена ARCHERY (запись TXT _archery.<name>)
	ARCHERY []string `yaml:"archery"`
	// Static — статический список сайтов host[:port][/base]
	Static []string `yaml:"static"`
}

// Empty сообщает, что ни один источник не задан.
func (r Registries) Empty() bool {
	return len(r.GIIS) == 0 && len(r.EMIR) == 0 && len(r.ARCHERY) == 0 && len(r.Static) == 0
}

// Config содержит все параметры конфигурации монитора загрузки.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Реестры ---

	// Путь к YAML-файлу со списками реестров (опционально)
	RegistryFile string
	// Итоговые списки источников (файл + окружение)
	Registries Registries
	// Максимальная глубина обхода реестров реестров
	RegistryMaxDepth int
	// Таймаут запроса к одному реестру
	RegistryTimeout time.Duration
	// Таймаут проверки доступности сайта (TCP connect)
	ProbeTimeout time.Duration
	// Путь к CA-сертификату для HTTPS-реестров EMIR (опционально)
	EMIRCACertPath string

	// --- Опрос сайтов ---

	// Жёсткий таймаут одного запроса к сайту
	QueryTimeout time.Duration
	// Серверный лимит времени LDAP-поиска (передаётся в запросе)
	QueryTimeLimit time.Duration
	// Максимальное число одновременных запросов к сайтам
	FanoutConcurrency int

	// --- Кэш ---

	// Время жизни записи кэша
	CacheTTL time.Duration
	// Максимальное число ключей в кэше
	CacheMaxEntries int

	// --- Параметры по умолчанию ---

	DefaultSchema model.Schema
	DefaultLocale string
	// Cron-расписание прогрева кэша (пусто — прогрев отключён)
	WarmupSchedule string
	// Схемы, прогреваемые по расписанию
	WarmupSchemas []model.Schema

	// --- PostgreSQL (общее хранилище снимков, опционально) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- JWT (эндпоинты оператора) ---

	// URL JWKS (пусто — эндпоинты оператора отключены)
	JWTJWKSURL string
	// Ожидаемый issuer JWT (пусто — не проверяется)
	JWTIssuer string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Путь к CA-сертификату JWKS (опционально)
	JWKSCACertPath string
	// Группы IdP, дающие роль admin
	RoleAdminGroups []string
	// Scopes сервисных аккаунтов, дающие доступ к эндпоинтам оператора
	AdminScopes []string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// LM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("LM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("LM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LM_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	// LM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LM_LOG_LEVEL: %w", err)
	}

	// LM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("LM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("LM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_READ_TIMEOUT: %w", err)
	}
	// Запись должна пережить полный проход конвейера (реестры + опрос сайтов)
	cfg.HTTPWriteTimeout, err = getEnvDuration("LM_HTTP_WRITE_TIMEOUT", 90*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("LM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Реестры ---

	// LM_REGISTRY_FILE — YAML-файл со списками реестров (опционально)
	cfg.RegistryFile = getEnvDefault("LM_REGISTRY_FILE", "")
	if cfg.RegistryFile != "" {
		cfg.Registries, err = LoadRegistryFile(cfg.RegistryFile)
		if err != nil {
			return nil, fmt.Errorf("LM_REGISTRY_FILE: %w", err)
		}
	}

	// Списки из окружения дополняют файл
	cfg.Registries.GIIS = appendUnique(cfg.Registries.GIIS, parseRegistryList(getEnvDefault("LM_GIIS_LIST", ""))...)
	cfg.Registries.EMIR = appendUnique(cfg.Registries.EMIR, parseRegistryList(getEnvDefault("LM_EMIR_LIST", ""))...)
	cfg.Registries.ARCHERY = appendUnique(cfg.Registries.ARCHERY, parseRegistryList(getEnvDefault("LM_ARCHERY_LIST", ""))...)
	cfg.Registries.Static = appendUnique(cfg.Registries.Static, parseRegistryList(getEnvDefault("LM_STATIC_HOSTS", ""))...)

	// LM_REGISTRY_MAX_DEPTH — глубина обхода реестров (по умолчанию 3)
	cfg.RegistryMaxDepth, err = getEnvInt("LM_REGISTRY_MAX_DEPTH", 3)
	if err != nil {
		return nil, fmt.Errorf("LM_REGISTRY_MAX_DEPTH: %w", err)
	}
	if cfg.RegistryMaxDepth < 1 || cfg.RegistryMaxDepth > 10 {
		return nil, fmt.Errorf("LM_REGISTRY_MAX_DEPTH: значение %d вне допустимого диапазона 1-10", cfg.RegistryMaxDepth)
	}

	cfg.RegistryTimeout, err = getEnvDurationPositive("LM_REGISTRY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_REGISTRY_TIMEOUT: %w", err)
	}

	// LM_PROBE_TIMEOUT — таймаут проверки доступности (по умолчанию 2s)
	cfg.ProbeTimeout, err = getEnvDurationPositive("LM_PROBE_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_PROBE_TIMEOUT: %w", err)
	}

	cfg.EMIRCACertPath = getEnvDefault("LM_EMIR_CA_CERT_PATH", "")

	// --- Опрос сайтов ---

	// LM_QUERY_TIMEOUT — жёсткий таймаут запроса к сайту (по умолчанию 11s)
	cfg.QueryTimeout, err = getEnvDurationPositive("LM_QUERY_TIMEOUT", 11*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_QUERY_TIMEOUT: %w", err)
	}

	// LM_QUERY_TIME_LIMIT — серверный лимит LDAP-поиска (по умолчанию 10s)
	cfg.QueryTimeLimit, err = getEnvDurationPositive("LM_QUERY_TIME_LIMIT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_QUERY_TIME_LIMIT: %w", err)
	}
	if cfg.QueryTimeLimit > cfg.QueryTimeout {
		return nil, fmt.Errorf("LM_QUERY_TIME_LIMIT (%s) не может превышать LM_QUERY_TIMEOUT (%s)",
			cfg.QueryTimeLimit, cfg.QueryTimeout)
	}

	// LM_FANOUT_CONCURRENCY — максимум одновременных запросов (по умолчанию 64)
	cfg.FanoutConcurrency, err = getEnvInt("LM_FANOUT_CONCURRENCY", 64)
	if err != nil {
		return nil, fmt.Errorf("LM_FANOUT_CONCURRENCY: %w", err)
	}
	if cfg.FanoutConcurrency < 1 || cfg.FanoutConcurrency > 1024 {
		return nil, fmt.Errorf("LM_FANOUT_CONCURRENCY: значение %d вне допустимого диапазона 1-1024", cfg.FanoutConcurrency)
	}

	// --- Кэш ---

	// LM_CACHE_TTL — время жизни кэша (по умолчанию 120s)
	cfg.CacheTTL, err = getEnvDurationPositive("LM_CACHE_TTL", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_CACHE_TTL: %w", err)
	}

	cfg.CacheMaxEntries, err = getEnvInt("LM_CACHE_MAX_ENTRIES", 64)
	if err != nil {
		return nil, fmt.Errorf("LM_CACHE_MAX_ENTRIES: %w", err)
	}
	if cfg.CacheMaxEntries < 1 {
		return nil, fmt.Errorf("LM_CACHE_MAX_ENTRIES: значение должно быть > 0")
	}

	// --- Параметры по умолчанию ---

	cfg.DefaultSchema, err = model.ParseSchema(getEnvDefault("LM_DEFAULT_SCHEMA", string(model.SchemaNG)))
	if err != nil {
		return nil, fmt.Errorf("LM_DEFAULT_SCHEMA: %w", err)
	}
	cfg.DefaultLocale = getEnvDefault("LM_DEFAULT_LOCALE", "en")

	cfg.WarmupSchedule = getEnvDefault("LM_WARMUP_SCHEDULE", "")
	for _, s := range parseCSV(getEnvDefault("LM_WARMUP_SCHEMAS", string(cfg.DefaultSchema))) {
		schema, err := model.ParseSchema(s)
		if err != nil {
			return nil, fmt.Errorf("LM_WARMUP_SCHEMAS: %w", err)
		}
		cfg.WarmupSchemas = append(cfg.WarmupSchemas, schema)
	}

	// --- PostgreSQL ---

	// LM_DB_HOST — если не задан, общее хранилище снимков отключено
	cfg.DBHost = getEnvDefault("LM_DB_HOST", "")
	cfg.DBPort, err = getEnvInt("LM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("LM_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("LM_DB_NAME", "loadmon")
	cfg.DBUser = getEnvDefault("LM_DB_USER", "loadmon")
	cfg.DBPassword = getEnvDefault("LM_DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("LM_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("LM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	if cfg.DBHost != "" && cfg.DBPassword == "" {
		return nil, fmt.Errorf("LM_DB_PASSWORD: обязателен, если задан LM_DB_HOST")
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("LM_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("LM_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("LM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDurationPositive("LM_JWKS_CLIENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDurationPositive("LM_JWKS_REFRESH_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSCACertPath = getEnvDefault("LM_JWKS_CA_CERT_PATH", "")
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("LM_ROLE_ADMIN_GROUPS", "loadmon-admins"))
	cfg.AdminScopes = parseCSV(getEnvDefault("LM_ADMIN_SCOPES", "loadmon:admin"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("LM_DEPHEALTH_GROUP", "gridmon")
	cfg.DephealthCheckInterval, err = getEnvDurationPositive("LM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("LM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// LoadRegistryFile читает YAML-файл со списками реестров.
// Неизвестные ключи считаются ошибкой.
func LoadRegistryFile(path string) (Registries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Registries{}, fmt.Errorf("чтение %s: %w", path, err)
	}
	var regs Registries
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&regs); err != nil {
		return Registries{}, fmt.Errorf("разбор %s: %w", path, err)
	}
	return regs, nil
}

// DatabaseEnabled сообщает, настроено ли общее хранилище снимков.
func (c *Config) DatabaseEnabled() bool {
	return c.DBHost != ""
}

// AuthEnabled сообщает, включены ли эндпоинты оператора.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных (лейблы topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но значение должно быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseRegistryList разбирает список реестров или сайтов.
// Разделители — пробелы, ';' и ','. Запятая внутри DN базы
// (ldap://host:2135/Mds-Vo-name=NorduGrid,o=grid) разделителем не считается:
// фрагмент вида attr=value присоединяется к предыдущему элементу.
func parseRegistryList(s string) []string {
	var result []string
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ' ' || r == '\t' || r == '\n'
	}) {
		for _, part := range strings.Split(field, ",") {
			part = strings.TrimSpace(part)
			switch {
			case part == "":
			case len(result) > 0 && isDNComponent(part) && strings.Contains(result[len(result)-1], "="):
				result[len(result)-1] += "," + part
			default:
				result = append(result, part)
			}
		}
	}
	return result
}

// isDNComponent сообщает, похож ли фрагмент на компонент DN (attr=value).
func isDNComponent(s string) bool {
	attr, _, ok := strings.Cut(s, "=")
	if !ok || attr == "" {
		return false
	}
	for i, r := range attr {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// appendUnique добавляет элементы, которых ещё нет в срезе, сохраняя порядок.
func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, d := range dst {
		seen[d] = true
	}
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			dst = append(dst, it)
		}
	}
	return dst
}
