package http

import (
	"net/http"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router is the routing surface the status server registers against.
type Router interface {
	// GET registers a handler. Route middleware wraps outermost first.
	GET(path string, handler http.HandlerFunc, middlewares ...Middleware)

	// Handle mounts a plain http.Handler, e.g. the Prometheus exporter.
	Handle(path string, handler http.Handler)

	// Group creates a route group with prefix and optional middleware.
	Group(prefix string, fn func(Router), middlewares ...Middleware)

	// Use adds middleware for all routes.
	Use(middlewares ...Middleware)

	// NotFound and MethodNotAllowed set the fallback handlers.
	NotFound(handler http.HandlerFunc)
	MethodNotAllowed(handler http.HandlerFunc)

	// Handler returns the http.Handler for use with http.Server.
	Handler() http.Handler

	// Walk iterates over all registered routes.
	Walk(fn func(method, path string) error) error
}

// Chain applies middlewares to a handler, first middleware outermost.
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
