package report

import "go.uber.org/zap"

var logger = zap.NewNop().Sugar()

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop().Sugar()
		return
	}
	logger = l.Sugar().Named("report")
}
