package step

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/runloom/runloom/engine/core"
)

// runLoop resolves how many iterations a loop covers, either from an
// explicit collection or a numeric range. Iteration bodies run as their own
// steps: the workflow derives a distinct step name per index so each
// iteration gets its own idempotency key.
func (e *Executor) runLoop(_ context.Context, c LoopConfig) (json.RawMessage, error) {
	if len(c.Items) > 0 && (c.From != 0 || c.To != 0) {
		return nil, fmt.Errorf("loop step takes items or a from/to range, not both")
	}
	iterations := len(c.Items)
	if iterations == 0 {
		if c.To < c.From {
			return nil, fmt.Errorf("loop range [%d, %d) is empty or inverted", c.From, c.To)
		}
		iterations = c.To - c.From
	}
	return core.RawJSON(&LoopResult{Success: true, Iterations: iterations})
}
