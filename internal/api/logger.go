package api

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mautops/docflow-gin/internal/config"
	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var defaultLogger *logrus.Logger

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "msg",
		},
	}
}

// NewLogger 创建新的日志记录器
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(jsonFormatter())
	logger.SetLevel(logrus.InfoLevel)
	logger.SetOutput(os.Stdout)
	logger.AddHook(NewRedactHook())
	return logger
}

// NewLoggerFromConfig 根据配置创建日志记录器
// output 为 file 或 both 时写入 cfg.File
func NewLoggerFromConfig(cfg *config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	if cfg.Format == "json" {
		logger.SetFormatter(jsonFormatter())
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	out, err := logOutput(cfg)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)

	logger.AddHook(&defaultFieldsHook{
		fields: logrus.Fields{"service": "docflow"},
	})
	logger.AddHook(NewRedactHook())

	return logger, nil
}

func logOutput(cfg *config.LogConfig) (io.Writer, error) {
	switch cfg.Output {
	case "file":
		return openLogFile(cfg.File)
	case "both":
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		return io.MultiWriter(os.Stdout, file), nil
	default:
		return os.Stdout, nil
	}
}

// openLogFile 以追加方式打开日志文件，必要时创建目录
func openLogFile(path string) (*os.File, error) {
	if path == "" {
		path = filepath.Join("logs", "docflow.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// defaultFieldsHook 为每条日志添加固定字段
type defaultFieldsHook struct {
	fields logrus.Fields
}

func (h *defaultFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *defaultFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		entry.Data[k] = v
	}
	return nil
}

// 签名 PIN 与令牌不得出现在日志中
var redactedFields = map[string]bool{
	"pin":           true,
	"current_pin":   true,
	"new_pin":       true,
	"password":      true,
	"token":         true,
	"authorization": true,
}

// RedactHook 遮蔽日志条目中的凭据字段
type RedactHook struct{}

// NewRedactHook 创建凭据遮蔽 Hook
func NewRedactHook() *RedactHook {
	return &RedactHook{}
}

func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *RedactHook) Fire(entry *logrus.Entry) error {
	for k := range entry.Data {
		if redactedFields[strings.ToLower(k)] {
			entry.Data[k] = "[REDACTED]"
		}
	}
	return nil
}

// GetLogger 获取默认日志记录器
func GetLogger() *logrus.Logger {
	if defaultLogger == nil {
		defaultLogger = NewLogger()
	}
	return defaultLogger
}

// SetLogger 替换默认日志记录器
func SetLogger(logger *logrus.Logger) {
	defaultLogger = logger
}
