package uc

import (
	"context"
	"fmt"

	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/durable"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/workflow"
	"github.com/runloom/runloom/pkg/logger"
)

// TriggerName is the substrate event a created run is handed to. The
// embedding application registers its workflow function under this name.
func TriggerName(definitionID string) string {
	return "workflow:" + definitionID
}

// -----------------------------------------------------------------------------
// CreateRun
// -----------------------------------------------------------------------------

type CreateInput struct {
	DefinitionID string
	ProjectID    core.ID
	UserID       core.ID
	Args         core.Input
	// SpecFilePath, when set, points at an existing spec document relative
	// to the project root; resolution happens inside the workflow.
	SpecFilePath string
	SpecType     string
}

// CreateRun validates the arguments against the definition schema, persists
// the run and hands it to the substrate. Invalid arguments still leave a
// row behind, in failed, so the attempt is visible in history.
type CreateRun struct {
	definitions *workflow.Registry
	runs        run.Repository
	events      *event.Emitter
	substrate   durable.Substrate
	input       *CreateInput
}

func NewCreateRun(
	definitions *workflow.Registry,
	runs run.Repository,
	events *event.Emitter,
	substrate durable.Substrate,
	input *CreateInput,
) *CreateRun {
	return &CreateRun{
		definitions: definitions,
		runs:        runs,
		events:      events,
		substrate:   substrate,
		input:       input,
	}
}

func (uc *CreateRun) Execute(ctx context.Context) (*run.Run, error) {
	def, err := uc.definitions.Get(uc.input.DefinitionID)
	if err != nil {
		return nil, err
	}
	r := run.New(def.ID, uc.input.ProjectID, uc.input.UserID, uc.input.Args)
	r.SpecFilePath = uc.input.SpecFilePath
	r.SpecType = uc.input.SpecType
	if err := uc.runs.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}
	if verr := def.ValidateArgs(ctx, uc.input.Args); verr != nil {
		failed, terr := uc.runs.Transition(ctx, r.ID, run.StatusFailed, verr.Error())
		if terr != nil {
			return nil, fmt.Errorf("failing run after invalid arguments: %w", terr)
		}
		uc.emit(ctx, failed.ID, event.TypeWorkflowFailed, event.Data{
			Title: "Workflow failed: invalid arguments",
			Body:  verr.Error(),
		})
		return failed, verr
	}
	if err := uc.substrate.Trigger(ctx, TriggerName(def.ID), map[string]any{
		"run_id": string(r.ID),
	}); err != nil {
		// A synchronous substrate may have driven the run to a terminal
		// state already; only fail it when the trigger left it dangling.
		failed, gerr := uc.runs.Get(ctx, r.ID)
		if gerr != nil {
			return nil, fmt.Errorf("loading run after trigger error: %w", gerr)
		}
		if !failed.Status.IsTerminal() {
			failed, gerr = uc.runs.Transition(ctx, r.ID, run.StatusFailed, err.Error())
			if gerr != nil {
				return nil, fmt.Errorf("failing run after trigger error: %w", gerr)
			}
		}
		return failed, fmt.Errorf("triggering workflow %s: %w", def.ID, err)
	}
	return r, nil
}

func (uc *CreateRun) emit(ctx context.Context, runID core.ID, typ event.Type, data event.Data) {
	if err := uc.events.Emit(ctx, event.New(runID, typ, data)); err != nil {
		logger.FromContext(ctx).Error("Emitting run event", "event_type", typ, "error", err)
	}
}
