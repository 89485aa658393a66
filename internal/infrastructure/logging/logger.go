package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/hilthontt/socialbook/internal/infrastructure/env"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Init()

	Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Debugf(template string, args ...any)

	Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Infof(template string, args ...any)

	Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Warnf(template string, args ...any)

	Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Errorf(template string, args ...any)

	Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Fatalf(template string, args ...any)

	Sync() error
}

type LoggerConfig struct {
	AppName  string
	FilePath string
	Encoding string
	Level    string
	Logger   string
}

func NewDefaultConfig(appName string) *LoggerConfig {
	return &LoggerConfig{
		AppName:  appName,
		FilePath: env.GetString("LOGGER_FILE_PATH", ""),
		Encoding: env.GetString("LOGGER_ENCODING", "json"),
		Level:    env.GetString("LOGGER_LEVEL", "info"),
		Logger:   env.GetString("LOGGER_LOGGER", "zap"),
	}
}

func NewLogger(cfg *LoggerConfig) Logger {
	var logger Logger

	switch cfg.Logger {
	case "zap", "":
		logger = newZapLogger(cfg)
	case "zerolog":
		logger = newZeroLogger(cfg)
	default:
		panic("logger not supported: supported loggers: [zap, zerolog]")
	}

	logger.Init()
	return logger
}

// output writes to stdout and, when a file path is configured, to a rotated log file.
func output(cfg *LoggerConfig) io.Writer {
	if cfg.FilePath == "" {
		return os.Stdout
	}

	name := cfg.AppName
	if name == "" {
		name = "socialbook"
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.FilePath, name+".log"),
		MaxSize:    10,
		MaxAge:     7,
		MaxBackups: 5,
		LocalTime:  true,
		Compress:   true,
	}

	return io.MultiWriter(os.Stdout, file)
}
