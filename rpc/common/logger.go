package common

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// rKVLogger implements the ILogger interface on top of a zerolog logger.
// The level is kept here so SetLevel works per package.
type rKVLogger struct {
	mu    sync.RWMutex
	level logger.LogLevel
	log   zerolog.Logger
}

func (l *rKVLogger) SetLevel(level logger.LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *rKVLogger) enabled(level logger.LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level >= level
}

func (l *rKVLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log.Debug().Msgf(format, args...)
	}
}

func (l *rKVLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log.Info().Msgf(format, args...)
	}
}

func (l *rKVLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log.Warn().Msgf(format, args...)
	}
}

func (l *rKVLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log.Error().Msgf(format, args...)
	}
}

func (l *rKVLogger) Panicf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
	panic(fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}).
	With().Timestamp().Logger()

// CreateLogger creates the logger of a package, it is registered as the
// dragonboat logger factory by InitLoggers
func CreateLogger(pkgName string) logger.ILogger {
	return &rKVLogger{
		level: logger.INFO,
		log:   root.With().Str("module", pkgName).Logger(),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerNames are the packages of rKV that log
var loggerNames = []string{"rpc", "transport/rpc", "store", "client", "server"}

var setFactory sync.Once

// InitLoggers registers the zerolog backed factory and sets the level of all loggers
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	setFactory.Do(func() { logger.SetLoggerFactory(CreateLogger) })
	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
