// Пакет config — загрузка и валидация конфигурации FabTrack
// из переменных окружения (с опциональным .env файлом).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации FabTrack.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// --- Хранилище ---

	// Путь к файлу SQLite
	DBPath string

	// --- Изображения ---

	// Директория загруженных изображений
	UploadDir string
	// Максимальный размер загружаемого файла в байтах
	UploadMaxBytes int64
	// Максимальная сторона растрового изображения после нормализации
	ImageMaxSide int

	// --- Резервные копии ---

	// Директория резервных копий по умолчанию
	BackupDir string
	// Путь к sidecar JSON с настройками расписания
	BackupSettingsPath string
	// Интервал проверки расписания резервного копирования
	BackupCheckInterval time.Duration

	// --- Внешнее зеркало резервных копий (S3, опционально) ---

	// Bucket; пустое значение отключает зеркало
	BackupS3Bucket string
	// Префикс ключей
	BackupS3Prefix string
	// Endpoint S3-совместимого хранилища (MinIO и т.п.)
	BackupS3Endpoint string
	// Регион
	BackupS3Region string
	// Path-style адресация
	BackupS3PathStyle bool

	// --- Статистика ---

	// Количество кэшируемых ответов статистики
	StatsCacheSize int
	// TTL кэша статистики
	StatsCacheTTL time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
// Перед чтением окружения подгружается .env файл (FT_ENV_FILE),
// уже заданные переменные окружения им не перезаписываются.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvDefault("FT_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FT_PORT — порт HTTP-сервера (по умолчанию 5555)
	cfg.Port, err = getEnvInt("FT_PORT", 5555)
	if err != nil {
		return nil, fmt.Errorf("FT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FT_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ReadTimeout, err = getEnvDuration("FT_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FT_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.WriteTimeout, err = getEnvDuration("FT_HTTP_WRITE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FT_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.IdleTimeout, err = getEnvDuration("FT_HTTP_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FT_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Хранилище ---

	cfg.DBPath = getEnvDefault("FT_DB_PATH", "data/fabtrack.db")

	// --- Изображения ---

	cfg.UploadDir = getEnvDefault("FT_UPLOAD_DIR", "data/uploads")

	maxBytes, err := getEnvInt("FT_UPLOAD_MAX_BYTES", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("FT_UPLOAD_MAX_BYTES: %w", err)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("FT_UPLOAD_MAX_BYTES: значение должно быть положительным, получено %d", maxBytes)
	}
	cfg.UploadMaxBytes = int64(maxBytes)

	cfg.ImageMaxSide, err = getEnvInt("FT_IMAGE_MAX_SIDE", 1600)
	if err != nil {
		return nil, fmt.Errorf("FT_IMAGE_MAX_SIDE: %w", err)
	}
	if cfg.ImageMaxSide < 16 {
		return nil, fmt.Errorf("FT_IMAGE_MAX_SIDE: значение %d меньше минимального 16", cfg.ImageMaxSide)
	}

	// --- Резервные копии ---

	cfg.BackupDir = getEnvDefault("FT_BACKUP_DIR", "data/backups")
	cfg.BackupSettingsPath = getEnvDefault("FT_BACKUP_SETTINGS_PATH", "data/backup_settings.json")

	cfg.BackupCheckInterval, err = getEnvDuration("FT_BACKUP_CHECK_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FT_BACKUP_CHECK_INTERVAL: %w", err)
	}
	if cfg.BackupCheckInterval < time.Minute {
		return nil, fmt.Errorf("FT_BACKUP_CHECK_INTERVAL: значение %s меньше минимального 1m", cfg.BackupCheckInterval)
	}

	cfg.BackupS3Bucket = os.Getenv("FT_BACKUP_S3_BUCKET")
	cfg.BackupS3Prefix = getEnvDefault("FT_BACKUP_S3_PREFIX", "fabtrack/")
	cfg.BackupS3Endpoint = os.Getenv("FT_BACKUP_S3_ENDPOINT")
	cfg.BackupS3Region = getEnvDefault("FT_BACKUP_S3_REGION", "us-east-1")
	cfg.BackupS3PathStyle, err = getEnvBool("FT_BACKUP_S3_PATH_STYLE", false)
	if err != nil {
		return nil, fmt.Errorf("FT_BACKUP_S3_PATH_STYLE: %w", err)
	}

	// --- Статистика ---

	cfg.StatsCacheSize, err = getEnvInt("FT_STATS_CACHE_SIZE", 128)
	if err != nil {
		return nil, fmt.Errorf("FT_STATS_CACHE_SIZE: %w", err)
	}
	if cfg.StatsCacheSize < 1 {
		return nil, fmt.Errorf("FT_STATS_CACHE_SIZE: значение должно быть >= 1, получено %d", cfg.StatsCacheSize)
	}
	cfg.StatsCacheTTL, err = getEnvDuration("FT_STATS_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FT_STATS_CACHE_TTL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("FT_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FT_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// OffsiteEnabled сообщает, настроено ли S3-зеркало резервных копий.
func (c *Config) OffsiteEnabled() bool {
	return c.BackupS3Bucket != ""
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

// loadDotEnv подгружает переменные из .env файла. Отсутствующий файл не ошибка.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("FT_ENV_FILE: ошибка чтения %s: %w", path, err)
	}
	return nil
}

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

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
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
