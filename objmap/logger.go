package objmap

import "go.uber.org/zap"

// logger is the package diagnostic logger. It is silent until SetLogger is called.
var logger = zap.NewNop().Sugar()

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop().Sugar()
		return
	}
	logger = l.Sugar().Named("objmap")
}
