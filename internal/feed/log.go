package feed

import (
	"log"
	"os"

	"go.uber.org/zap"
)

type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

type stdLog struct {
	logger *log.Logger
}

var _ Logger = (*stdLog)(nil)

func (s *stdLog) Infof(format string, v ...interface{}) {
	// the stdlib log package has no levels; the default implementation
	// stays quiet below error to keep noise down
}

func (s *stdLog) Warnf(format string, v ...interface{}) {
}

func (s *stdLog) Errorf(format string, v ...interface{}) {
	s.logger.Printf(format, v...)
}

// DefaultLogger returns a logger that only prints errors. Pass
// NewZapLogger for full output.
func DefaultLogger() Logger {
	return &stdLog{logger: log.New(os.Stderr, "", log.LstdFlags)}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

var _ Logger = (*zapLogger)(nil)

// NewZapLogger adapts a zap logger to the feed's Logger interface.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Infof(format string, v ...interface{}) {
	z.s.Infof(format, v...)
}

func (z *zapLogger) Warnf(format string, v ...interface{}) {
	z.s.Warnf(format, v...)
}

func (z *zapLogger) Errorf(format string, v ...interface{}) {
	z.s.Errorf(format, v...)
}
