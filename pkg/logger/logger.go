// Package logger — структурированное логирование на базе zerolog.
// JSON в production, ConsoleWriter в development.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log — глобальный логгер процесса.
var log zerolog.Logger

// Config содержит настройки логгера.
type Config struct {
	// Level: debug, info, warn, error. По умолчанию info.
	Level string

	// Pretty включает человекочитаемый вывод.
	Pretty bool

	// Output — куда писать. По умолчанию os.Stdout.
	Output io.Writer

	// Service добавляется полем "service" в каждую запись, если задан.
	Service string
}

func init() {
	Init(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init переинициализирует глобальный логгер.
func Init(cfg Config) {
	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}

	// ConsoleWriter — читаемый цветной вывод для development.
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := parseLevel(cfg.Level)

	// Каждая запись получает timestamp и caller (файл:строка).
	lctx := zerolog.New(out).Level(level).With().Timestamp().Caller()
	if cfg.Service != "" {
		lctx = lctx.Str("service", cfg.Service)
	}
	log = lctx.Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

// parseLevel возвращает InfoLevel для пустого или неизвестного уровня.
func parseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	if strings.EqualFold(level, "warning") {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Debug создает событие уровня debug: SQL сессии, метаданные корреляции,
// детали отдельных сообщений топика.
func Debug() *zerolog.Event { return log.Debug() }

// Info создает событие уровня info: старт и остановка компонентов,
// зафиксированные заказы и ретранслированные события.
func Info() *zerolog.Event { return log.Info() }

// Warn создает событие уровня warn: ситуации, которые не ломают запрос,
// но требуют внимания (fault-injection, drop коллекции, просроченные сообщения).
func Warn() *zerolog.Event { return log.Warn() }

// Error создает событие уровня error. Ошибку передавайте через .Err(err):
//
//	logger.Error().Err(err).Str("order_id", id).Msg("Ошибка публикации")
func Error() *zerolog.Event { return log.Error() }

// Fatal пишет запись и завершает процесс с кодом 1.
func Fatal() *zerolog.Event { return log.Fatal() }

// With создает дочерний логгер с дополнительными полями.
func With() zerolog.Context {
	return log.With()
}

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger {
	return log
}

// SetGlobalLogger подменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) {
	log = l
}
