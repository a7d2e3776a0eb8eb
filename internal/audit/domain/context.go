package domain

import (
	"context"
	"strings"
)

type actorKey struct{}
type clientKey struct{}

type actor struct {
	Type string
	ID   string
}

type client struct {
	IPAddress string
	UserAgent string
}

func WithActor(ctx context.Context, actorType ActorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{Type: string(actorType), ID: strings.TrimSpace(actorID)})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(actorKey{}).(actor); ok {
		return v.Type, v.ID
	}
	return "", ""
}

func WithClient(ctx context.Context, ipAddress, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, client{
		IPAddress: strings.TrimSpace(ipAddress),
		UserAgent: strings.TrimSpace(userAgent),
	})
}

func ClientFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(clientKey{}).(client); ok {
		return v.IPAddress, v.UserAgent
	}
	return "", ""
}
