package observability

import (
	"go.uber.org/zap"

	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// LogObs logs through zap and discards metrics. Used by embedders that do not
// expose a Prometheus registry.
type LogObs struct {
	log *zap.Logger
}

func NewLogObs(logger *zap.Logger) *LogObs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObs{log: logger}
}

func (l *LogObs) LogInfo(msg string, fields ...ports.Field) {
	l.log.Info(msg, zapFields(fields)...)
}

func (l *LogObs) LogError(msg string, err error, fields ...ports.Field) {
	l.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (l *LogObs) LogCritical(msg string, err error, fields ...ports.Field) {
	l.log.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (l *LogObs) IncCounter(string, float64)       {}
func (l *LogObs) ObserveLatency(string, float64)   {}
func (l *LogObs) SetGauge(string, float64)         {}
func (l *LogObs) RecordDrop(string, *domain.Event) {}

var _ ports.Observability = (*LogObs)(nil)
