package main

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *zap.Logger

func init() {
	InitLoggerForTest()
}

func InitLoggerForTest() {
	Log, _ = zap.NewDevelopment()
}

func InitLogger() {
	if !G.Log.Async && G.Log.File == "" {
		Log, _ = zap.NewDevelopment()
		return
	}

	var ws zapcore.WriteSyncer = os.Stdout
	if G.Log.File != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   G.Log.File,
			MaxSize:    G.Log.MaxSizeMB,
			MaxBackups: G.Log.MaxBackups,
			MaxAge:     G.Log.MaxAgeDays,
			Compress:   true,
		})
	}

	if G.Log.Async {
		ws = &zapcore.BufferedWriteSyncer{
			Size:          G.Log.BufferSize,
			FlushInterval: time.Second * time.Duration(G.Log.FlushInterval),
			WS:            ws,
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		ws,
		zapcore.DebugLevel,
	)

	Log = zap.New(core)
}
