package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// 日志级别
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger 简单分级日志，输出到标准输出和日志文件
type Logger struct {
	level int
	std   *log.Logger
}

// NewLogger 创建日志实例，logDir为空时仅输出到标准输出
func NewLogger(logDir, logFile, logLevel string) (*Logger, error) {
	writers := []io.Writer{os.Stdout}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logDir, logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		writers = append(writers, f)
	}

	return &Logger{
		level: parseLevel(logLevel),
		std:   log.New(io.MultiWriter(writers...), "", log.LstdFlags),
	}, nil
}

func parseLevel(s string) int {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) output(level int, tag, format string, args ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	l.std.Printf("["+tag+"] "+format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.output(LevelDebug, "DEBUG", format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.output(LevelInfo, "INFO", format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.output(LevelWarn, "WARN", format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.output(LevelError, "ERROR", format, args...)
}
