package accesslog

import "context"

type ctxKey struct{}

// ContextWithRecord attaches rec to ctx. The record is mutated in place by
// the pipeline; per-request ownership makes that safe without locking.
func ContextWithRecord(ctx context.Context, rec *Record) context.Context {
	return context.WithValue(ctx, ctxKey{}, rec)
}

// RecordFromContext returns the request's access log record, or nil.
func RecordFromContext(ctx context.Context) *Record {
	rec, _ := ctx.Value(ctxKey{}).(*Record)
	return rec
}
