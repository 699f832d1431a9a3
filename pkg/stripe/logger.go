package stripe

import (
	"context"
	"fmt"

	"github.com/angelmondragon/billsync/pkg/logger"
)

// leveledLogger adapts the service logger to stripe.LeveledLoggerInterface.
// stripe-go logs without a request context, so entries carry only the
// component field.
type leveledLogger struct {
	logg *logger.Logger
}

func (l *leveledLogger) ctx() context.Context {
	return l.logg.WithField(context.Background(), "component", "stripe")
}

func (l *leveledLogger) Debugf(format string, v ...any) {
	l.logg.Debug(l.ctx(), fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Infof(format string, v ...any) {
	l.logg.Debug(l.ctx(), fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Warnf(format string, v ...any) {
	l.logg.Warn(l.ctx(), fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...any) {
	l.logg.Error(l.ctx(), "stripe request failed", fmt.Errorf(format, v...))
}
