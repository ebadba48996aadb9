package logger

import (
	"time"

	"go.uber.org/zap/zapcore"
)

const ansiReset = "\033[0m"

// levelTags maps each level to its colored console tag. Warn and above
// stand out because breaches and failed hedges log there.
var levelTags = map[zapcore.Level]string{
	zapcore.DebugLevel:  "\033[90mDBG" + ansiReset,
	zapcore.InfoLevel:   "\033[36mINF" + ansiReset,
	zapcore.WarnLevel:   "\033[33mWRN" + ansiReset,
	zapcore.ErrorLevel:  "\033[31mERR" + ansiReset,
	zapcore.DPanicLevel: "\033[1;31mPNC" + ansiReset,
	zapcore.PanicLevel:  "\033[1;31mPNC" + ansiReset,
	zapcore.FatalLevel:  "\033[1;31mFTL" + ansiReset,
}

// PrettyEncoder is the compact console format for interactive runs:
//
//	09:30:00.125 WRN monitor.session Alert triggered {"position_id": "btc-1"}
//
// The logger name stands in for the component; caller is shown only in
// development mode.
func PrettyEncoder(development bool) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      prettyLevel,
		EncodeTime:       prettyTime,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	}
	if development {
		cfg.CallerKey = "caller"
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func prettyLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if tag, ok := levelTags[level]; ok {
		enc.AppendString(tag)
		return
	}
	enc.AppendString(level.CapitalString())
}

func prettyTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05.000"))
}
