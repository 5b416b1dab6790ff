package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the supervisor's logger. sink is the config file's LogOutput
// attribute: "stdout", "stderr", or a file path; name becomes the first
// field of every emitted line.
func New(name, sink string) (*zap.Logger, error) {
	ws, err := writeSyncer(sink)
	if err != nil {
		return nil, err
	}

	level := zapcore.InfoLevel
	if os.Getenv("ENV") == "dev" {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(newLineEncoder(), ws, level)
	return zap.New(core).Named(name), nil
}

func writeSyncer(sink string) (zapcore.WriteSyncer, error) {
	switch sink {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	case "":
		return nil, fmt.Errorf("logging: LogOutput must not be empty")
	default:
		f, err := os.OpenFile(sink, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file %s: %w", sink, err)
		}
		return zapcore.AddSync(f), nil
	}
}
