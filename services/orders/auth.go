package main

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderXUserID carries the authenticated buyer, set by the gateway
const HeaderXUserID = "X-User-ID"

// BuyerResolver finds the authenticated buyer of the current request
type BuyerResolver interface {
	ResolveBuyer(ctx context.Context) (string, error)
}

// CredentialProvider supplies the system credential used on inventory mutations
type CredentialProvider interface {
	SystemToken(ctx context.Context) (string, error)
}

type buyerCtxKey struct{}

// WithBuyerID stores the authenticated buyer in ctx
func WithBuyerID(ctx context.Context, buyerID string) context.Context {
	return context.WithValue(ctx, buyerCtxKey{}, buyerID)
}

// ContextBuyerResolver resolves the buyer stored by BuyerIdentity
type ContextBuyerResolver struct{}

func (ContextBuyerResolver) ResolveBuyer(ctx context.Context) (string, error) {
	id, _ := ctx.Value(buyerCtxKey{}).(string)
	if id == "" {
		return "", ErrUnauthorized
	}
	return id, nil
}

// BuyerIdentity copies the gateway's X-User-ID header into the request context
func BuyerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderXUserID)); id != "" {
			c.Request = c.Request.WithContext(WithBuyerID(c.Request.Context(), id))
		}
		c.Next()
	}
}

// StaticCredentialProvider returns a token read from configuration
type StaticCredentialProvider struct {
	Token string
}

func (p StaticCredentialProvider) SystemToken(context.Context) (string, error) {
	if p.Token == "" {
		return "", ErrUnauthorized
	}
	return p.Token, nil
}
