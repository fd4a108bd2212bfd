package observability

import (
	"context"
	"log/slog"
	"time"
)

type spanKey struct{}

// SpanFromContext returns the component/operation of the innermost span
// started on ctx, if any.
func SpanFromContext(ctx context.Context) (component, operation string, ok bool) {
	s, ok := ctx.Value(spanKey{}).(spanInfo)
	return s.component, s.operation, ok
}

type spanInfo struct {
	component string
	operation string
}

// StartSpan logs the start and end of an operation at debug level. attrs are
// attached to both records. Failed spans end at warn level. When
// observability is disabled the returned func is a no-op and ctx is returned
// unchanged.
func StartSpan(ctx context.Context, component, operation string, attrs ...slog.Attr) (context.Context, func(error)) {
	logger, cfg := current()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	base := make([]slog.Attr, 0, len(attrs)+4)
	base = append(base, slog.String("component", component), slog.String("operation", operation))
	if parent, parentOp, ok := SpanFromContext(ctx); ok {
		base = append(base, slog.String("parent", parent+"/"+parentOp))
	}
	base = append(base, attrs...)

	ctx = context.WithValue(ctx, spanKey{}, spanInfo{component: component, operation: operation})
	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "obs span start", base...)

	return ctx, func(err error) {
		level := slog.LevelDebug
		end := append(base[:len(base):len(base)], slog.Duration("duration", time.Since(start)))
		if err != nil {
			level = slog.LevelWarn
			end = append(end, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", end...)
	}
}
