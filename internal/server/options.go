package server

import (
	"time"

	"github.com/matt-riley/yomu/internal/i18n"
	"github.com/matt-riley/yomu/internal/metrics"
)

const (
	defaultStreamPollInterval       = time.Second
	defaultMaxJSONBodyBytes   int64 = 1 << 20
)

// Option configures the HTTP handler and the gRPC server.
type Option func(*options)

type options struct {
	streamPollInterval time.Duration
	maxJSONBodyBytes   int64
	metrics            *metrics.Metrics
	translator         *i18n.Translator
	now                func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		streamPollInterval: defaultStreamPollInterval,
		maxJSONBodyBytes:   defaultMaxJSONBodyBytes,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithStreamPollInterval sets how often SSE and WatchCatalog poll for new
// catalog events. Non-positive values keep the default of one second.
func WithStreamPollInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.streamPollInterval = interval
		}
	}
}

// WithMaxJSONBodySize caps HTTP request bodies. Non-positive values keep the
// default of 1 MiB.
func WithMaxJSONBodySize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxJSONBodyBytes = size
		}
	}
}

// WithMetrics records request, stream and validation metrics in m. The HTTP
// handler also serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTranslator enables localized display texts and calendar summaries.
func WithTranslator(t *i18n.Translator) Option {
	return func(o *options) { o.translator = t }
}

// WithNow overrides the wall clock used for calendar feeds.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
