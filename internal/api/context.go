package api

import (
	"context"

	"github.com/org/clipguard/pkg/models"
)

type contextKey string

const (
	ctxKeyPrincipal contextKey = "principal"
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyDecision  contextKey = "decision"
)

func withPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func principalFromCtx(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(models.Principal)
	return p, ok
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func withDecision(ctx context.Context, d models.AccessDecision) context.Context {
	return context.WithValue(ctx, ctxKeyDecision, d)
}

func decisionFromCtx(ctx context.Context) (models.AccessDecision, bool) {
	d, ok := ctx.Value(ctxKeyDecision).(models.AccessDecision)
	return d, ok
}
