package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// AntsLogger adapts zap to the ants.Logger interface.
type AntsLogger struct {
	logger *zap.Logger
}

// NewAntsLogger creates an ants pool logger writing through l.
func NewAntsLogger(l *zap.Logger) *AntsLogger {
	return &AntsLogger{logger: l}
}

// Printf implements ants.Logger.
func (a *AntsLogger) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
