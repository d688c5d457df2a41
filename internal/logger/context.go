package logger

import "context"

type ctxKey int

const (
	traceIDKey ctxKey = iota
	conversationIDKey
)

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

func ConversationID(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey).(string)
	return id
}
