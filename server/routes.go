package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/middleware"
	"github.com/sweetpotato0/medrag/orchestrator"
	"github.com/sweetpotato0/medrag/session"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Services are the collaborators behind the HTTP routes.
type Services struct {
	// Processor answers stateless queries.
	Processor middleware.QueryProcessor
	// Sessions answers queries that name a session. Optional.
	Sessions *session.Manager
	// Chain runs in front of every query. Optional.
	Chain *middleware.Chain
	// Tools lists the router tools for /v1/tools.
	Tools []string
	// Checks are probed by /healthz.
	Checks map[string]HealthCheck
	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, s.handleHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "process-query",
		Method:      http.MethodPost,
		Path:        "/v1/query",
		Summary:     "Answer a question",
		Description: "Routes the question to document search, healthcare records or a direct reply.",
		Tags:        []string{"query"},
	}, s.handleQuery)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/v1/tools",
		Summary:     "List router tools",
		Tags:        []string{"query"},
	}, s.handleTools)

	if s.services.Sessions == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/v1/sessions/{id}",
		Summary:     "Get session history",
		Tags:        []string{"sessions"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/v1/sessions/{id}",
		Summary:       "Delete a session",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteSession)
}

// --- Request/Response types for huma ---

type healthOutput struct {
	Body struct {
		Status string            `json:"status" example:"ok" doc:"Health status"`
		Checks map[string]string `json:"checks,omitempty" doc:"Per-dependency status"`
	}
}

// Turn is one prior conversation turn in a query request.
type Turn struct {
	Role    string `json:"role" enum:"user,assistant" doc:"Turn author"`
	Content string `json:"content" doc:"Turn text"`
}

type queryInput struct {
	CallerHeader string `header:"X-Caller-ID" doc:"Caller identity forwarded to the record service"`
	Body         struct {
		Query     string `json:"query" minLength:"1" doc:"The user question"`
		History   []Turn `json:"history,omitempty" doc:"Prior turns, oldest first; ignored when session_id is set"`
		SessionID string `json:"session_id,omitempty" doc:"Stored session to continue"`
		CallerID  string `json:"caller_id,omitempty" doc:"Caller identity; overrides X-Caller-ID"`
		TopK      int    `json:"top_k,omitempty" minimum:"0" doc:"Passages per document search"`
		Evaluate  bool   `json:"evaluate,omitempty" doc:"Compute response quality metrics"`
	}
}

type queryOutput struct {
	Body struct {
		orchestrator.PipelineResult
		SessionID string `json:"session_id,omitempty" doc:"Session the turn was stored in"`
	}
}

type toolsOutput struct {
	Body struct {
		Tools []string `json:"tools"`
	}
}

type sessionInput struct {
	ID string `path:"id"`
}

type sessionOutput struct {
	Body struct {
		ID       string            `json:"id"`
		CallerID string            `json:"caller_id,omitempty"`
		State    string            `json:"state"`
		Messages []*message.Message `json:"messages"`
	}
}

// --- Handlers ---

func (s *Server) handleHealth(ctx context.Context, _ *struct{}) (*healthOutput, error) {
	out := &healthOutput{}
	out.Body.Status = "ok"
	if len(s.services.Checks) == 0 {
		return out, nil
	}

	out.Body.Checks = make(map[string]string, len(s.services.Checks))
	failed := false
	for name, check := range s.services.Checks {
		if err := check(ctx); err != nil {
			out.Body.Checks[name] = err.Error()
			failed = true
			continue
		}
		out.Body.Checks[name] = "ok"
	}
	if failed {
		s.logger.Warn("health check failed", "checks", out.Body.Checks)
		return nil, huma.Error503ServiceUnavailable("dependency unavailable")
	}
	return out, nil
}

func (s *Server) handleQuery(ctx context.Context, input *queryInput) (*queryOutput, error) {
	opts := orchestrator.QueryOptions{
		TopK:      input.Body.TopK,
		CallerID:  input.Body.CallerID,
		SessionID: input.Body.SessionID,
		Evaluate:  input.Body.Evaluate,
	}
	if opts.CallerID == "" {
		opts.CallerID = input.CallerHeader
	}

	history := make([]*message.Message, 0, len(input.Body.History))
	for _, turn := range input.Body.History {
		history = append(history, message.NewMessage(message.Role(turn.Role), turn.Content))
	}

	chain := s.services.Chain
	if chain == nil {
		chain = middleware.NewChain()
	}
	mctx := middleware.NewContext(ctx, input.Body.Query, history, opts)
	err := chain.Execute(mctx, s.answer)
	if err != nil {
		return nil, toHumaError(err)
	}
	if mctx.Result == nil {
		return nil, huma.Error500InternalServerError("no result produced")
	}

	out := &queryOutput{}
	out.Body.PipelineResult = *mctx.Result
	out.Body.SessionID = mctx.Options.SessionID
	return out, nil
}

// answer is the final handler of the query chain. A session id routes the
// turn through the session manager, which supplies the stored history.
func (s *Server) answer(c *middleware.Context) error {
	if c.Options.SessionID != "" && s.services.Sessions != nil {
		res, err := s.services.Sessions.Ask(c.Context(), c.Options.SessionID, c.Query, c.Options)
		c.Result = res
		if err != nil && res != nil {
			// the answer stands even if the turn could not be stored
			s.logger.Error("session turn not stored", "session_id", c.Options.SessionID, "error", err)
			return nil
		}
		return err
	}
	if s.services.Processor == nil {
		return medragerr.New(medragerr.CodeServerRequestInvalid, "session_id is required")
	}
	c.Result = s.services.Processor.ProcessQuery(c.Context(), c.Query, c.History, c.Options)
	return nil
}

func (s *Server) handleTools(_ context.Context, _ *struct{}) (*toolsOutput, error) {
	out := &toolsOutput{}
	out.Body.Tools = append([]string{}, s.services.Tools...)
	return out, nil
}

func (s *Server) handleGetSession(ctx context.Context, input *sessionInput) (*sessionOutput, error) {
	sess, err := s.services.Sessions.Get(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &sessionOutput{}
	out.Body.ID = sess.ID
	out.Body.CallerID = sess.CallerID
	out.Body.State = string(sess.State)
	out.Body.Messages = sess.History()
	if out.Body.Messages == nil {
		out.Body.Messages = []*message.Message{}
	}
	return out, nil
}

func (s *Server) handleDeleteSession(ctx context.Context, input *sessionInput) (*struct{}, error) {
	if err := s.services.Sessions.Delete(ctx, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}

// toHumaError maps coded errors onto HTTP statuses.
func toHumaError(err error) error {
	return huma.NewError(medragerr.HTTPStatus(err), err.Error())
}
