package logger

import (
	"io"
	"os"
	"strings"

	"golang.org/x/exp/slog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type options struct {
	level      *slog.Level
	file       string
	maxSizeMB  int
	maxBackups int
	out        io.Writer
}

type Option func(*options)

// WithLevel переопределяет уровень, выбранный по окружению
func WithLevel(level string) Option {
	return func(o *options) {
		if l, ok := parseLevel(level); ok {
			o.level = &l
		}
	}
}

// WithFile дублирует вывод в файл с ротацией
func WithFile(path string, maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		o.file = path
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
	}
}

// WithOutput заменяет stdout
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// New создает логгер для окружения: local цветной текст, dev и prod JSON.
func New(env string, opts ...Option) *slog.Logger {
	o := &options{out: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	var out io.Writer = o.out
	if o.file != "" {
		out = io.MultiWriter(o.out, &lumberjack.Logger{
			Filename:   o.file,
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			Compress:   true,
		})
	}

	level := slog.LevelInfo
	switch env {
	case EnvLocal, EnvDev:
		level = slog.LevelDebug
	}
	if o.level != nil {
		level = *o.level
	}

	if env == EnvLocal {
		return setupPrettySlog(out, level)
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

func setupPrettySlog(w io.Writer, level slog.Level) *slog.Logger {
	opts := PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: level},
	}
	return slog.New(opts.NewPrettyHandler(w))
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
