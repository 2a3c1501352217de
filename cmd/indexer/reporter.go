package main

import (
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"paywallIndexer/internal/indexer"
)

type sentryReporter struct{}

func (sentryReporter) Report(err error, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

type logReporter struct {
	logger *zap.Logger
}

func (r logReporter) Report(err error, tags map[string]string) {
	r.logger.Debug("error not reported, sentry disabled", zap.Error(err), zap.Any("tags", tags))
}

// newReporter initializes Sentry when dsn is set. The returned func flushes
// buffered events and must run before exit.
func newReporter(dsn string, logger *zap.Logger) (indexer.ErrorReporter, func(), error) {
	if dsn == "" {
		return logReporter{logger: logger}, func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		return nil, nil, err
	}
	return sentryReporter{}, func() { sentry.Flush(2 * time.Second) }, nil
}
