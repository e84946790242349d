// Package skill defines the domain types shared across the kernel's
// components: the skill lifecycle, tool commands, the indexer's view of a
// tool, and the events the reactor carries between subsystems.
package skill

import "time"

// LoadState is a skill's position in its lifecycle.
type LoadState string

const (
	StateUnknown   LoadState = "unknown"
	StateDiscovered LoadState = "discovered"
	StateScanned    LoadState = "scanned"
	StateGated      LoadState = "gated"
	StateLoaded     LoadState = "loaded"
	StateUnloaded   LoadState = "unloaded"
)

// SecurityDecision is the Security Gate's verdict for a skill.
type SecurityDecision string

const (
	DecisionAllow   SecurityDecision = "allow"
	DecisionWarn    SecurityDecision = "warn"
	DecisionSandbox SecurityDecision = "sandbox"
	DecisionBlock   SecurityDecision = "block"
)

// ParameterProperty describes one property of a JSON-Schema-shaped parameter
// object.
type ParameterProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ParameterSchema is the JSON-Schema-shaped object a ToolCommand's arguments
// must satisfy.
type ParameterSchema struct {
	Type       string                       `json:"type"`
	Properties map[string]ParameterProperty `json:"properties"`
	Required   []string                     `json:"required"`
}

// VariantStatus is the health of a single tool-command variant.
type VariantStatus string

const (
	VariantAvailable   VariantStatus = "available"
	VariantDegraded    VariantStatus = "degraded"
	VariantUnavailable VariantStatus = "unavailable"
)

// Variant is one alternative implementation of a ToolCommand (e.g. "local"
// vs "accelerated"), selected by priority among available variants.
type Variant struct {
	Name     string        `json:"name"`
	Priority int           `json:"priority"`
	Status   VariantStatus `json:"status"`
	Executor string        `json:"executor"` // entry-point reference, opaque to the kernel
}

// ToolCommand is the executable unit a skill exposes.
type ToolCommand struct {
	// FQName is "<skill>.<command>", globally unique among loaded tools.
	FQName      string          `json:"fq_name"`
	Skill       string          `json:"skill"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
	Category    string          `json:"category,omitempty"`
	Keywords    []string        `json:"keywords,omitempty"`
	Alias       string          `json:"alias,omitempty"`
	EntryPoint  string          `json:"entry_point"`
	Variants    []Variant       `json:"variants,omitempty"`
	Dangerous   bool            `json:"dangerous,omitempty"`
}

// ToolRecord is the indexer's view of a ToolCommand: identity plus the
// content hash and location needed to diff and re-embed it.
type ToolRecord struct {
	ToolCommand
	FileHash  string `json:"file_hash"`
	FilePath  string `json:"file_path"`
	SkillPath string `json:"skill_path"`
}

// ID returns the record's diff/index identity (the fully-qualified name).
func (r ToolRecord) ID() string { return r.FQName }

// Manifest is a skill's on-disk SKILL.md front matter. Permissions maps a
// permission name ("exec", "shell", "filesystem", "network") to its
// declared value ("true", "read", "write", ...); the Security Gate's
// manifest validator audits this map directly.
type Manifest struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description"`
	Keywords    []string          `yaml:"keywords,omitempty"`
	Category    string            `yaml:"category,omitempty"`
	Permissions map[string]string `yaml:"permissions,omitempty"`
	Source      string            `yaml:"source,omitempty"`
}

// DiscoveredSkill is the Scanner's directory-walk output before gating.
type DiscoveredSkill struct {
	Name     string
	Path     string
	Manifest Manifest
	Records  []ToolRecord
	Rules    []SnifferRule
}

// SnifferRuleKind enumerates the two declarative predicate kinds a skill may
// register.
type SnifferRuleKind string

const (
	RuleFileExists  SnifferRuleKind = "file_exists"
	RuleFilePattern SnifferRuleKind = "file_pattern"
)

// SnifferRule is one declarative predicate over a working directory.
type SnifferRule struct {
	Kind    SnifferRuleKind `json:"kind"`
	Pattern string          `json:"pattern"`
}

// SecurityFinding is one static-analysis hit against a skill's scripts.
type SecurityFinding struct {
	Severity string `json:"severity"` // critical, high, medium, low
	Rule     string `json:"rule"`
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Score    int    `json:"score"`
}

// SecurityAssessment is the Security Gate's combined verdict for a skill.
type SecurityAssessment struct {
	Skill     string            `json:"skill"`
	Decision  SecurityDecision  `json:"decision"`
	Score     int               `json:"score"`
	Findings  []SecurityFinding `json:"findings,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	AssessedAt time.Time        `json:"assessed_at"`
}

// Event topics recognized by the Reactor.
const (
	TopicFileChanged      = "file.changed"
	TopicSkillLoaded      = "skill.loaded"
	TopicSkillUnloaded    = "skill.unloaded"
	TopicAgentStepComplete = "agent.step_complete"
	TopicIndexUpdated     = "index.updated"
	TopicPersistenceOverflow = "persistence.overflow"
)

// ChangeKind classifies a single filesystem change inside a FileChangedEvent.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// FileChange is one path's change within a coalesced change set.
type FileChange struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// FileChangedPayload is the payload of a TopicFileChanged event.
type FileChangedPayload struct {
	Changes []FileChange `json:"changes"`
	IsDocs  bool         `json:"is_docs"`
}

// SkillLifecyclePayload is the payload of TopicSkillLoaded/TopicSkillUnloaded.
type SkillLifecyclePayload struct {
	Skill string `json:"skill"`
}

// IndexUpdatedPayload is the payload of TopicIndexUpdated.
type IndexUpdatedPayload struct {
	Added     int  `json:"added"`
	Updated   int  `json:"updated"`
	Deleted   int  `json:"deleted"`
	Fallback  bool `json:"fallback"`
	ToolsChanged bool `json:"tools_changed"`
}

// AgentStepPayload is the payload of TopicAgentStepComplete.
type AgentStepPayload struct {
	ThreadID string         `json:"thread_id"`
	Step     int            `json:"step"`
	State    map[string]any `json:"state"`
	Ts       time.Time      `json:"ts"`
}

// PersistenceOverflowPayload is the payload of TopicPersistenceOverflow.
type PersistenceOverflowPayload struct {
	Dropped int `json:"dropped"`
}

// ToolResponseStatus is the Executor's outcome classification for a
// tools/call.
type ToolResponseStatus string

const (
	StatusSuccess ToolResponseStatus = "success"
	StatusError   ToolResponseStatus = "error"
	StatusBlocked ToolResponseStatus = "blocked"
	StatusPartial ToolResponseStatus = "partial"
)

// ToolResponse is the structured result of every tools/call, regardless of
// outcome; the Executor never lets a command's error propagate unwrapped.
type ToolResponse struct {
	Status    ToolResponseStatus `json:"status"`
	Data      any                `json:"data,omitempty"`
	ErrorCode int                `json:"error_code,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Message   string             `json:"message,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	Ts        time.Time          `json:"ts"`
}
