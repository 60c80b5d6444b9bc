package release

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

const DefaultSourceTimeout = 5 * time.Second

// Evaluator queries all hold sources concurrently. Results are never cached:
// holds can be cleared by other systems between two release attempts.
type Evaluator struct {
	sources []HoldSource
	timeout time.Duration
	logger  zerolog.Logger
}

func NewEvaluator(sources []HoldSource, timeout time.Duration, logger zerolog.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return &Evaluator{
		sources: sources,
		timeout: timeout,
		logger:  logger.With().Str("component", "release_gate").Logger(),
	}
}

func (e *Evaluator) Sources() []string {
	names := make([]string, len(e.sources))
	for i, s := range e.sources {
		names[i] = s.Name()
	}
	return names
}

// Evaluate returns the active holds for the case sorted by reason. If any
// source fails the whole evaluation fails with DEPENDENCY_UNAVAILABLE.
func (e *Evaluator) Evaluate(ctx context.Context, ref CaseRef) ([]Hold, error) {
	type result struct {
		hold   Hold
		active bool
	}
	results := make([]result, len(e.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range e.sources {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			h, active, err := src.Check(sctx, ref)
			if err != nil {
				e.logger.Warn().Err(err).
					Str("source", src.Name()).
					Str("case_code", ref.Code).
					Msg("hold source unavailable")
				failure := apperr.Wrap(apperr.CodeDependencyUnavailable,
					fmt.Sprintf("hold source %s unavailable", src.Name()), err)
				failure.Metadata = map[string]string{"source": src.Name()}
				return failure
			}
			if active && h.Source == "" {
				h.Source = src.Name()
			}
			results[i] = result{hold: h, active: active}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	holds := make([]Hold, 0, len(results))
	for _, r := range results {
		if r.active {
			holds = append(holds, r.hold)
		}
	}
	sortHolds(holds)

	e.logger.Debug().
		Str("case_code", ref.Code).
		Int("sources", len(e.sources)).
		Strs("holds", Reasons(holds)).
		Msg("release gate evaluated")
	return holds, nil
}
