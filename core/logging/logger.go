package logging

import (
	"os"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	Logger *zap.Logger
	once   sync.Once
)

// InitLogging sets up the package logger. mode is "development" or
// "production"; the log level is read from the "logging.level" config key.
func InitLogging(mode, logDir, logFile string) {
	once.Do(func() {
		initLogging(mode, logDir, logFile)
	})
}

func initLogging(mode, logDir, logFile string) {
	logName := logDir + "/" + logFile
	logWriter := getWriteSyncer(logName)

	var cfg zap.Config
	if mode != "development" {
		cfg = zap.NewProductionConfig()
		cfg.DisableCaller = true
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.NameKey = "name"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.StacktraceKey = "stacktrace"
		if viper.GetBool("logging.console") {
			logWriter = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), logWriter)
		}
	}
	if err := cfg.Level.UnmarshalText([]byte(viper.GetString("logging.level"))); err != nil {
		panic(err)
	}

	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg.EncoderConfig), logWriter, cfg.Level)
	l, err := cfg.Build(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	if err != nil {
		panic(err)
	}

	Logger = l
}

func getWriteSyncer(logName string) zapcore.WriteSyncer {
	ioWriter := &lumberjack.Logger{
		Filename:   logName,
		MaxSize:    1024, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		LocalTime:  true,
		Compress:   false,
	}
	_ = ioWriter.Rotate()
	return zapcore.AddSync(ioWriter)
}

func init() {
	// tests and library consumers get a no-op logger until InitLogging runs
	Logger = zap.NewNop()
}
