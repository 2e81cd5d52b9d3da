package step

import (
	"github.com/runloom/runloom/engine/workflow"
)

// Type tags the nine step protocols.
type Type string

const (
	TypeGit         Type = "git"
	TypeCLI         Type = "cli"
	TypeAI          Type = "ai"
	TypeAgent       Type = "agent"
	TypeArtifact    Type = "artifact"
	TypeAnnotation  Type = "annotation"
	TypeConditional Type = "conditional"
	TypeLoop        Type = "loop"
	TypePreview     Type = "preview"
)

// Config is the sealed step configuration variant: exactly nine types
// implement it, one per step protocol, so a mismatched args/output pair is a
// compile error rather than a runtime surprise.
type Config interface {
	StepType() Type
	isStepConfig()
}

// -----------------------------------------------------------------------------
// git
// -----------------------------------------------------------------------------

type GitOperation string

const (
	GitCommit          GitOperation = "commit"
	GitBranch          GitOperation = "branch"
	GitMerge           GitOperation = "merge"
	GitPR              GitOperation = "pr"
	GitCommitAndBranch GitOperation = "commit-and-branch"
)

type GitConfig struct {
	Operation GitOperation `json:"operation"`
	// WorkDir overrides the repository root; defaults to the project root.
	WorkDir string `json:"work_dir,omitempty"`

	// commit
	Message string   `json:"message,omitempty"`
	Files   []string `json:"files,omitempty"`

	// branch / commit-and-branch
	Branch     string `json:"branch,omitempty"`
	BaseBranch string `json:"base_branch,omitempty"`

	// merge
	MergeBranch string `json:"merge_branch,omitempty"`

	// pr
	PRTitle string `json:"pr_title,omitempty"`
	PRBody  string `json:"pr_body,omitempty"`
	PRBase  string `json:"pr_base,omitempty"`
}

func (GitConfig) StepType() Type { return TypeGit }
func (GitConfig) isStepConfig()  {}

// GitResult reports the outcome plus the exact underlying command sequence
// for traceability. Merge conflicts are data, not an error.
type GitResult struct {
	Success   bool         `json:"success"`
	Operation GitOperation `json:"operation"`
	Commands  []string     `json:"commands"`
	CommitSHA string       `json:"commit_sha,omitempty"`
	Branch    string       `json:"branch,omitempty"`
	PRNumber  int          `json:"pr_number,omitempty"`
	PRURL     string       `json:"pr_url,omitempty"`
	Conflicts []string     `json:"conflicts,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// -----------------------------------------------------------------------------
// cli
// -----------------------------------------------------------------------------

type CLIConfig struct {
	Command string            `json:"command"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// Shell overrides the shell used to interpret Command; empty means the
	// command is tokenized and executed directly.
	Shell   string `json:"shell,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

func (CLIConfig) StepType() Type { return TypeCLI }
func (CLIConfig) isStepConfig()  {}

type CLIResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// -----------------------------------------------------------------------------
// ai
// -----------------------------------------------------------------------------

type AIProvider string

const (
	AIProviderOpenAI    AIProvider = "openai"
	AIProviderAnthropic AIProvider = "anthropic"
)

type AIConfig struct {
	Provider    AIProvider `json:"provider"`
	Model       string     `json:"model"`
	Prompt      string     `json:"prompt"`
	System      string     `json:"system,omitempty"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Timeout     string     `json:"timeout,omitempty"`
	// OutputSchema constrains the response to schema-valid JSON.
	OutputSchema workflow.Schema `json:"output_schema,omitempty"`
}

func (AIConfig) StepType() Type { return TypeAI }
func (AIConfig) isStepConfig()  {}

// AIResult carries provider failures as data so workflow authors can branch
// on AI failure without aborting the whole run.
type AIResult struct {
	Success    bool           `json:"success"`
	Content    string         `json:"content,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	Error      string         `json:"error,omitempty"`
	Provider   AIProvider     `json:"provider"`
	Model      string         `json:"model"`
}

// -----------------------------------------------------------------------------
// agent
// -----------------------------------------------------------------------------

// PermissionMode is the autonomy level granted to an invoked coding agent.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionPlan        PermissionMode = "plan"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionBypass      PermissionMode = "bypassPermissions"
)

type AgentConfig struct {
	Agent   string         `json:"agent"`
	Prompt  string         `json:"prompt"`
	WorkDir string         `json:"work_dir,omitempty"`
	Mode    PermissionMode `json:"permission_mode,omitempty"`
	// ResumeSessionID continues a previously recorded agent session.
	ResumeSessionID string `json:"resume_session_id,omitempty"`
	JSONOutput      bool   `json:"json_output,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
}

func (AgentConfig) StepType() Type { return TypeAgent }
func (AgentConfig) isStepConfig()  {}

type AgentResult struct {
	Success    bool           `json:"success"`
	Output     string         `json:"output,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	ExitCode   int            `json:"exit_code"`
}

// -----------------------------------------------------------------------------
// artifact
// -----------------------------------------------------------------------------

type ArtifactKind string

const (
	ArtifactText      ArtifactKind = "text"
	ArtifactFile      ArtifactKind = "file"
	ArtifactImage     ArtifactKind = "image"
	ArtifactDirectory ArtifactKind = "directory"
)

type ArtifactConfig struct {
	Kind ArtifactKind `json:"kind"`
	Name string       `json:"name"`
	// Content is written verbatim for the text kind.
	Content string `json:"content,omitempty"`
	// Source is the existing file (file/image) or directory to copy.
	Source string `json:"source,omitempty"`
	// Pattern filters directory contents; defaults to every file.
	Pattern string `json:"pattern,omitempty"`
}

func (ArtifactConfig) StepType() Type { return TypeArtifact }
func (ArtifactConfig) isStepConfig()  {}

type ArtifactFileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size_bytes"`
}

type ArtifactResult struct {
	Success bool               `json:"success"`
	Files   []ArtifactFileInfo `json:"files"`
	Count   int                `json:"count"`
}

// -----------------------------------------------------------------------------
// annotation
// -----------------------------------------------------------------------------

type AnnotationConfig struct {
	Message string `json:"message"`
}

func (AnnotationConfig) StepType() Type { return TypeAnnotation }
func (AnnotationConfig) isStepConfig()  {}

type AnnotationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// -----------------------------------------------------------------------------
// conditional
// -----------------------------------------------------------------------------

type ConditionalConfig struct {
	// Expression is a CEL expression evaluated against args, outputs and run
	// metadata; it must produce a boolean.
	Expression string         `json:"expression"`
	Vars       map[string]any `json:"vars,omitempty"`
}

func (ConditionalConfig) StepType() Type { return TypeConditional }
func (ConditionalConfig) isStepConfig()  {}

// ConditionalResult records the evaluated outcome; branching on it is the
// caller's responsibility.
type ConditionalResult struct {
	Success    bool   `json:"success"`
	Value      bool   `json:"value"`
	Expression string `json:"expression"`
}

// -----------------------------------------------------------------------------
// loop
// -----------------------------------------------------------------------------

type LoopConfig struct {
	// Items is the collection to iterate; mutually exclusive with From/To.
	Items []any `json:"items,omitempty"`
	From  int   `json:"from,omitempty"`
	To    int   `json:"to,omitempty"`
}

func (LoopConfig) StepType() Type { return TypeLoop }
func (LoopConfig) isStepConfig()  {}

// LoopResult records the iteration count; executing a body per iteration is
// the caller's responsibility.
type LoopResult struct {
	Success    bool `json:"success"`
	Iterations int  `json:"iterations"`
}

// -----------------------------------------------------------------------------
// preview
// -----------------------------------------------------------------------------

type PortMapping struct {
	Name      string `json:"name,omitempty"`
	Container int    `json:"container"`
	Host      int    `json:"host"`
}

type PreviewConfig struct {
	Command string            `json:"command"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Ports   []PortMapping     `json:"ports,omitempty"`
	// Resource ceilings are recorded with the environment and exported to
	// the spawned process; hard enforcement is the runtime's concern.
	MaxMemoryMB int `json:"max_memory_mb,omitempty"`
	MaxCPU      int `json:"max_cpu,omitempty"`
}

func (PreviewConfig) StepType() Type { return TypePreview }
func (PreviewConfig) isStepConfig()  {}

type PreviewResult struct {
	Success bool          `json:"success"`
	URL     string        `json:"url,omitempty"`
	Ports   []PortMapping `json:"ports,omitempty"`
	PID     int           `json:"pid,omitempty"`
}
