package activity

import (
	"context"
	"log/slog"
	"sort"
)

// SlogSink forwards entries to a slog logger.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Write(entry Entry) {
	keys := make([]string, 0, len(entry.Metadata))
	for k := range entry.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2+len(keys)*2)
	args = append(args, "activity", string(entry.Level))
	for _, k := range keys {
		args = append(args, k, entry.Metadata[k])
	}

	s.logger.Log(context.Background(), slogLevel(entry.Level), entry.Message, args...)
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelProgress:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// FuncSink adapts a plain function, e.g. a UI toast or telemetry hook.
type FuncSink func(entry Entry)

func (f FuncSink) Write(entry Entry) {
	f(entry)
}
