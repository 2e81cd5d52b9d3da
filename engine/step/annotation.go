package step

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/run"
)

// runAnnotation appends a human-readable note to the run's event stream.
func (e *Executor) runAnnotation(ctx context.Context, rc *run.Context, s *Step, c AnnotationConfig) (json.RawMessage, error) {
	if c.Message == "" {
		return nil, fmt.Errorf("annotation step requires a message")
	}
	ev := event.New(rc.RunID(), event.TypeAnnotationAdded, event.Data{
		Title: "Annotation",
		Body:  c.Message,
	})
	ev.Phase = rc.Phase()
	ev.StepID = s.ID
	if err := rc.Events.Emit(ctx, ev); err != nil {
		return nil, err
	}
	return core.RawJSON(&AnnotationResult{Success: true, Message: c.Message})
}
