// Package middleware wraps query processing in a chain of interceptors.
package middleware

import (
	"context"

	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/orchestrator"
)

// Context represents the middleware execution context
type Context struct {
	// Query is the user question.
	Query string

	// History holds the prior turns handed to the orchestrator.
	History []*message.Message

	// Options are the per-query options; middlewares may adjust them.
	Options orchestrator.QueryOptions

	// Result is set by the final handler.
	Result *orchestrator.PipelineResult

	// Metadata for passing data between middlewares
	Metadata map[string]any

	context context.Context
}

// NewContext creates a new middleware context
func NewContext(ctx context.Context, query string, history []*message.Message, opts orchestrator.QueryOptions) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Query:    query,
		History:  history,
		Options:  opts,
		Metadata: make(map[string]any),
		context:  ctx,
	}
}

// Context returns the underlying context.Context
func (c *Context) Context() context.Context {
	if c.context == nil {
		return context.Background()
	}
	return c.context
}

// SetContext replaces the underlying context.Context.
func (c *Context) SetContext(ctx context.Context) {
	if ctx != nil {
		c.context = ctx
	}
}

// Middleware intercepts a query on its way to the orchestrator.
type Middleware interface {
	// Name returns the name of the middleware for logging and debugging
	Name() string

	// Execute runs the middleware logic. Returning an error without calling
	// next stops the chain.
	Execute(ctx *Context, next Handler) error
}

// Handler is the function called to pass control to the next middleware
type Handler func(*Context) error

// Chain represents a sequence of middleware to be executed
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Add appends a middleware to the chain
func (c *Chain) Add(m Middleware) *Chain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Names lists the middlewares in execution order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.middlewares))
	for _, m := range c.middlewares {
		names = append(names, m.Name())
	}
	return names
}

// Execute runs all middlewares in the chain, then final.
func (c *Chain) Execute(ctx *Context, final Handler) error {
	return c.executeMiddleware(ctx, 0, final)
}

func (c *Chain) executeMiddleware(ctx *Context, index int, final Handler) error {
	if index >= len(c.middlewares) {
		return final(ctx)
	}
	next := func(ctx *Context) error {
		return c.executeMiddleware(ctx, index+1, final)
	}
	return c.middlewares[index].Execute(ctx, next)
}

// Func adapts a plain function into a named Middleware.
func Func(name string, fn func(ctx *Context, next Handler) error) Middleware {
	return funcMiddleware{name: name, fn: fn}
}

type funcMiddleware struct {
	name string
	fn   func(ctx *Context, next Handler) error
}

func (f funcMiddleware) Name() string { return f.name }

func (f funcMiddleware) Execute(ctx *Context, next Handler) error { return f.fn(ctx, next) }

// QueryProcessor is the orchestrator surface the Pipeline drives.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, query string, history []*message.Message, opts orchestrator.QueryOptions) *orchestrator.PipelineResult
}

// Pipeline runs a chain in front of a QueryProcessor.
type Pipeline struct {
	chain *Chain
	proc  QueryProcessor
}

// NewPipeline wraps proc with chain. A nil chain runs proc directly.
func NewPipeline(chain *Chain, proc QueryProcessor) *Pipeline {
	if chain == nil {
		chain = NewChain()
	}
	return &Pipeline{chain: chain, proc: proc}
}

// ProcessQuery runs the chain. The error is non-nil only when a middleware
// rejected the query; the orchestrator itself never fails.
func (p *Pipeline) ProcessQuery(ctx context.Context, query string, history []*message.Message, opts orchestrator.QueryOptions) (*orchestrator.PipelineResult, error) {
	mctx := NewContext(ctx, query, history, opts)
	err := p.chain.Execute(mctx, func(c *Context) error {
		c.Result = p.proc.ProcessQuery(c.Context(), c.Query, c.History, c.Options)
		return nil
	})
	return mctx.Result, err
}
