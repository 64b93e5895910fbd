// Package quality scores answers against their retrieved context with
// lexical overlap metrics and an optional LLM judge.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/medrag/agent"
	"github.com/sweetpotato0/medrag/pkg/logging"
)

// Evaluator computes quality metrics. It is safe for concurrent use.
type Evaluator struct {
	judge   *Judge
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithJudge enables the faithfulness and toxicity metrics.
func WithJudge(llm agent.LLMClient) Option {
	return func(e *Evaluator) {
		if llm != nil {
			e.judge = NewJudge(llm)
		}
	}
}

// WithTimeout bounds each judge call.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.WithComponent("quality")
	}
	return e
}

// Evaluate scores answer against the retrieved evidence. Overlap metrics and
// faithfulness need non-empty evidence; toxicity only needs a judge. Failures never escape: they are
// joined under the "error" key next to whatever was computed.
func (e *Evaluator) Evaluate(ctx context.Context, query, answer, evidence string) (metrics map[string]any) {
	metrics = map[string]any{}
	var errs []string
	defer func() {
		if rec := recover(); rec != nil {
			errs = append(errs, fmt.Sprintf("evaluation panicked: %v", rec))
		}
		if len(errs) > 0 {
			metrics["error"] = strings.Join(errs, "; ")
			e.logger.Warn("quality evaluation incomplete", "error", metrics["error"])
		}
	}()

	if strings.TrimSpace(evidence) != "" {
		r1 := RougeN(evidence, answer, 1).FMeasure
		r2 := RougeN(evidence, answer, 2).FMeasure
		rl := RougeL(evidence, answer).FMeasure
		metrics["rouge1"] = round4(r1)
		metrics["rouge2"] = round4(r2)
		metrics["rougeL"] = round4(rl)
		metrics["rouge_avg"] = round4((round4(r1) + round4(r2) + round4(rl)) / 3)
		metrics["bleu"] = round4(clamp01(BLEU(evidence, answer)))

		if e.judge != nil {
			f, err := e.withTimeout(ctx, func(ctx context.Context) (any, error) {
				return e.judge.Faithfulness(ctx, answer, evidence)
			})
			if err != nil {
				errs = append(errs, "faithfulness: "+err.Error())
			} else {
				verdict := f.(Faithfulness)
				metrics["faithfulness"] = verdict.Score
				metrics["faithfulness_reasoning"] = verdict.Reasoning
			}
		}
	}

	if e.judge != nil {
		t, err := e.withTimeout(ctx, func(ctx context.Context) (any, error) {
			return e.judge.Toxicity(ctx, answer)
		})
		if err != nil {
			errs = append(errs, "toxicity: "+err.Error())
		} else {
			verdict := t.(Toxicity)
			metrics["toxicity"] = verdict.Toxicity
			metrics["severe_toxicity"] = verdict.SevereToxicity
			if verdict.Reasoning != "" {
				metrics["toxicity_reasoning"] = verdict.Reasoning
			}
		}
	}

	e.logger.Debug("quality evaluated", "query", logging.Trim(query, 80), "metrics", len(metrics))
	return metrics
}

func (e *Evaluator) withTimeout(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return fn(ctx)
}
