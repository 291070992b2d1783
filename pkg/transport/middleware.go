package transport

// Middleware wraps a QueryRunner to add cross-cutting behavior.
// The first middleware in a chain is the outermost wrapper.
type Middleware func(QueryRunner) QueryRunner

// Chain composes multiple middleware into a single middleware.
// Chain(a, b, c) produces a(b(c(runner))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next QueryRunner) QueryRunner {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
