package rpc

import (
	"context"
)

// Handler serves one operation of an endpoint.
type Handler func(ctx context.Context, method string, payload []byte) ([]byte, error)
type Middleware func(ctx context.Context, method string, payload []byte, next Handler) ([]byte, error)

func buildHandlerFunction(middleware []Middleware, final Handler) Handler {

	// apply middleware from parent down

	chain := final

	for i := len(middleware) - 1; i >= 0; i-- {
		m := middleware[i]

		next := chain
		chain = func(ctx context.Context, method string, payload []byte) ([]byte, error) {
			return m(ctx, method, payload, next)
		}
	}

	return chain
}

func ApplyHandlerChain(ctx context.Context, method string, payload []byte, middleware []Middleware, final Handler) ([]byte, error) {
	fn := buildHandlerFunction(middleware, final)
	return fn(ctx, method, payload)
}
