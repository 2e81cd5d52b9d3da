// Package runloom assembles the workflow run engine from configuration:
// repositories, the live notification channel, the durable substrate and the
// step execution facade. Embedding applications build an Engine once, then
// scope it to a project to create and drive runs.
package runloom

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/runloom/runloom/engine/artifact"
	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/durable"
	"github.com/runloom/runloom/engine/event"
	"github.com/runloom/runloom/engine/infra/postgres"
	"github.com/runloom/runloom/engine/infra/pubsub"
	"github.com/runloom/runloom/engine/infra/store"
	"github.com/runloom/runloom/engine/run"
	"github.com/runloom/runloom/engine/run/uc"
	"github.com/runloom/runloom/engine/step"
	"github.com/runloom/runloom/engine/workflow"
	"github.com/runloom/runloom/pkg/config"
	"github.com/runloom/runloom/pkg/logger"
)

// Engine is the assembled, project-agnostic half of the system.
type Engine struct {
	Registry  *workflow.Registry
	Runs      run.Repository
	Steps     step.Repository
	Events    event.Repository
	Artifacts artifact.Repository
	Publisher pubsub.Provider
	Substrate *durable.Local
	Executor  *step.Executor

	pg    *postgres.Store
	redis *redis.Client
}

// New wires the engine from configuration. An empty database DSN selects the
// in-memory store; an empty Redis address disables live notifications.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	e := &Engine{
		Registry:  workflow.NewRegistry(),
		Substrate: durable.NewLocal(),
	}
	if err := e.wireStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := e.wirePublisher(ctx, cfg); err != nil {
		e.Close(ctx)
		return nil, err
	}
	e.Executor = &step.Executor{
		Steps:     e.Steps,
		Substrate: e.Substrate,
		Agents:    &step.ExecAgentRunner{Binaries: cfg.Agents},
		Models: &step.LangchainFactory{Keys: step.ProviderKeys{
			OpenAI:    cfg.Providers.OpenAIKey,
			Anthropic: cfg.Providers.AnthropicKey,
		}},
		GitHubToken:   cfg.GitHub.Token,
		PauseInterval: cfg.PauseInterval(),
	}
	return e, nil
}

func (e *Engine) wireStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.DSN == "" {
		e.Runs = store.NewRuns()
		e.Steps = store.NewSteps()
		e.Events = store.NewEvents()
		e.Artifacts = store.NewArtifacts()
		return nil
	}
	if err := postgres.ApplyMigrations(ctx, cfg.Database.DSN); err != nil {
		return err
	}
	pg, err := postgres.NewStore(ctx, &postgres.Config{DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	e.pg = pg
	e.Runs = postgres.NewRunRepo(pg.Pool())
	e.Steps = postgres.NewStepRepo(pg.Pool())
	e.Events = postgres.NewEventRepo(pg.Pool())
	e.Artifacts = postgres.NewArtifactRepo(pg.Pool())
	return nil
}

func (e *Engine) wirePublisher(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.Addr == "" {
		logger.FromContext(ctx).Info("No Redis configured, live notifications disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	provider, err := pubsub.NewRedis(client)
	if err != nil {
		_ = client.Close()
		return err
	}
	e.redis = client
	e.Publisher = provider
	return nil
}

func (e *Engine) Close(ctx context.Context) {
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			logger.FromContext(ctx).Warn("Closing redis client", "error", err)
		}
	}
	if e.pg != nil {
		e.pg.Close(ctx)
	}
}

// Project scopes the engine to one project directory and its notification
// channel.
type Project struct {
	engine  *Engine
	id      core.ID
	root    string
	emitter *event.Emitter
	driver  *uc.Driver
}

func (e *Engine) Project(id core.ID, root string) *Project {
	var publisher event.Publisher
	if e.Publisher != nil {
		publisher = e.Publisher
	}
	emitter := event.NewEmitter(e.Events, e.Artifacts, publisher, id)
	return &Project{
		engine:  e,
		id:      id,
		root:    root,
		emitter: emitter,
		driver: &uc.Driver{
			Runs:        e.Runs,
			Executor:    e.Executor,
			Events:      emitter,
			ProjectRoot: root,
		},
	}
}

// Channel is the pub/sub topic observers subscribe to for this project.
func (p *Project) Channel() string {
	return p.emitter.Channel()
}

// LoadWorkflows discovers the project-scoped workflow definitions from the
// project's .runloom/workflows tree.
func (p *Project) LoadWorkflows(ctx context.Context) (int, error) {
	root := filepath.Join(p.root, ".runloom", "workflows")
	return workflow.LoadInto(ctx, p.engine.Registry, root, workflow.ScopeProject)
}

// RegisterWorkflow binds a workflow body to its definition's trigger.
func (p *Project) RegisterWorkflow(definitionID string, body uc.Body) {
	p.engine.Substrate.RegisterFunction(uc.TriggerName(definitionID), p.driver.WorkflowFunc(body))
}

// CreateRun validates and persists a new run and hands it to the substrate.
func (p *Project) CreateRun(ctx context.Context, in *uc.CreateInput) (*run.Run, error) {
	in.ProjectID = p.id
	return uc.NewCreateRun(p.engine.Registry, p.engine.Runs, p.emitter, p.engine.Substrate, in).Execute(ctx)
}

func (p *Project) PauseRun(ctx context.Context, id core.ID) (*run.Run, error) {
	return uc.NewPauseRun(p.engine.Runs, p.emitter, id).Execute(ctx)
}

func (p *Project) ResumeRun(ctx context.Context, id core.ID) (*run.Run, error) {
	return uc.NewResumeRun(p.engine.Runs, p.emitter, id).Execute(ctx)
}

// CancelRun cancels the run; the optional reason lands on the run row and
// in the workflow_cancelled event.
func (p *Project) CancelRun(ctx context.Context, id core.ID, reason string) (*run.Run, error) {
	return uc.NewCancelRun(p.engine.Runs, p.engine.Steps, p.emitter, id, reason).Execute(ctx)
}
