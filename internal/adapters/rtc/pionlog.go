package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// pionLogger routes pion's internal logging into zerolog.
type pionLogger struct {
	log zerolog.Logger
}

func newPionLogger(root zerolog.Logger, level zerolog.Level) pionLogger {
	return pionLogger{log: root.Level(level)}
}

func (p pionLogger) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: p.log.With().Str("scope", scope).Logger()}
}

func (p pionLogger) Trace(msg string)                  { p.log.Trace().Msg(msg) }
func (p pionLogger) Tracef(format string, args ...any) { p.log.Trace().Msgf(format, args...) }
func (p pionLogger) Debug(msg string)                  { p.log.Debug().Msg(msg) }
func (p pionLogger) Debugf(format string, args ...any) { p.log.Debug().Msgf(format, args...) }
func (p pionLogger) Info(msg string)                   { p.log.Info().Msg(msg) }
func (p pionLogger) Infof(format string, args ...any)  { p.log.Info().Msgf(format, args...) }
func (p pionLogger) Warn(msg string)                   { p.log.Warn().Msg(msg) }
func (p pionLogger) Warnf(format string, args ...any)  { p.log.Warn().Msgf(format, args...) }
func (p pionLogger) Error(msg string)                  { p.log.Error().Msg(msg) }
func (p pionLogger) Errorf(format string, args ...any) { p.log.Error().Msgf(format, args...) }
