// Package logger единый вывод логов balancer с префиксом и учётом quiet.
// Бэкенд zap; до вызова Init используется консольный логгер уровня info.
package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "balancer: "

// Quiet при true отключает информационные и отладочные сообщения; Error выводится всегда.
var Quiet bool

var current atomic.Pointer[zap.SugaredLogger]

func init() {
	l, err := build(zapcore.InfoLevel, false)
	if err != nil {
		l = zap.NewNop()
	}
	current.Store(l.Sugar())
}

func build(level zapcore.Level, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = !development
	return cfg.Build(zap.AddCallerSkip(1))
}

// Init устанавливает уровень ("debug", "info", "warn", "error") и режим разработки.
func Init(level string, development bool) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
	}
	l, err := build(lvl, development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	current.Store(l.Sugar())
	return nil
}

// Sync сбрасывает буферы бэкенда.
func Sync() error {
	return current.Load().Sync()
}

// Debug выводит отладочное сообщение с префиксом "balancer: ", если Quiet == false.
func Debug(format string, args ...interface{}) {
	if Quiet {
		return
	}
	current.Load().Debugf(prefix+format, args...)
}

// Info выводит сообщение с префиксом "balancer: ", если Quiet == false.
func Info(format string, args ...interface{}) {
	if Quiet {
		return
	}
	current.Load().Infof(prefix+format, args...)
}

// Error выводит сообщение об ошибке с префиксом "balancer: " всегда.
func Error(format string, args ...interface{}) {
	current.Load().Errorf(prefix+format, args...)
}
