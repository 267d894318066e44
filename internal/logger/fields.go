package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Structured field keys shared by every component.
const (
	FieldSource   = "source_id"
	FieldJob      = "job_id"
	FieldUser     = "user_id"
	FieldRun      = "run_id"
	FieldProvider = "ai_provider"
	FieldModel    = "ai_model"
)

type StringField struct {
	Key   string
	Value string
}

// StringFields converts key/value pairs into zap fields, skipping blanks.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		value := strings.TrimSpace(field.Value)
		if key == "" || value == "" {
			continue
		}
		result = append(result, zap.String(key, value))
	}
	return result
}

// WithFields attaches fields to logger, falling back to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// OrNop returns logger or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func Source(id string) zap.Field { return zap.String(FieldSource, id) }

func Job(id string) zap.Field { return zap.String(FieldJob, id) }

func User(id string) zap.Field { return zap.String(FieldUser, id) }

func Run(id string) zap.Field { return zap.String(FieldRun, id) }

// WithModel tags logger with the AI provider and model in use.
func WithModel(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}
