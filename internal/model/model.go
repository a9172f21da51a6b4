package model

import (
	"time"

	"gorm.io/gorm"
)

// Provider represents a source forge (github, gitlab, gitea) and its origin.
type Provider struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Kind    string `gorm:"size:50;not null;uniqueIndex:idx_provider_kind_url,priority:1" json:"kind"`
	BaseURL string `gorm:"size:512;uniqueIndex:idx_provider_kind_url,priority:2" json:"base_url"`
}

// Installation is the tenant-scoped credential anchor for a provider.
type Installation struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProviderID uint   `gorm:"not null;index;uniqueIndex:idx_install_ext,priority:1" json:"provider_id"`
	ExternalID string `gorm:"size:255;not null;uniqueIndex:idx_install_ext,priority:2" json:"external_id"`

	// DefaultsJSON holds installation-level review config defaults.
	DefaultsJSON JSONMap `gorm:"type:json" json:"defaults_json,omitempty"`
}

// RepoInstallation links a repository to an installation.
type RepoInstallation struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RepoID         uint `gorm:"not null;uniqueIndex:idx_repo_install,priority:1" json:"repo_id"`
	InstallationID uint `gorm:"not null;uniqueIndex:idx_repo_install,priority:2" json:"installation_id"`
}

// Repo represents a repository on a forge.
type Repo struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProviderID    uint   `gorm:"not null;index;uniqueIndex:idx_repo_ext,priority:1" json:"provider_id"`
	ExternalID    string `gorm:"size:255;not null;uniqueIndex:idx_repo_ext,priority:2" json:"external_id"`
	Owner         string `gorm:"size:255;not null" json:"owner"`
	Name          string `gorm:"size:255;not null" json:"name"`
	FullName      string `gorm:"size:512;not null;index" json:"full_name"`
	DefaultBranch string `gorm:"size:255" json:"default_branch"`

	// IsPattern marks repositories indexed only as retrieval exemplars.
	IsPattern bool `gorm:"default:false" json:"is_pattern"`
}

// User represents a forge user (PR authors, commenters).
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProviderID uint   `gorm:"not null;uniqueIndex:idx_user_ext,priority:1" json:"provider_id"`
	ExternalID string `gorm:"size:255;not null;uniqueIndex:idx_user_ext,priority:2" json:"external_id"`
	Login      string `gorm:"size:255;not null;index" json:"login"`
}

// PullRequest represents a pull request under review.
// Invariant: (repo_id, number) is unique.
type PullRequest struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	RepoID     uint   `gorm:"not null;uniqueIndex:idx_pr_repo_number,priority:1" json:"repo_id"`
	Number     int    `gorm:"not null;uniqueIndex:idx_pr_repo_number,priority:2" json:"number"`
	ExternalID string `gorm:"size:255" json:"external_id"`
	Title      string `gorm:"size:1024" json:"title"`
	Body       string `gorm:"type:text" json:"body"`
	State      string `gorm:"size:50;index" json:"state"`
	BaseRef    string `gorm:"size:255" json:"base_ref"`
	HeadRef    string `gorm:"size:255" json:"head_ref"`
	BaseSHA    string `gorm:"size:64" json:"base_sha"`
	HeadSHA    string `gorm:"size:64;index" json:"head_sha"`
	Draft      bool   `gorm:"default:false" json:"draft"`
	AuthorID   uint   `gorm:"index" json:"author_id"`
}

// RunStatus represents the status of a review run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ReviewRun is one execution of the review pipeline against a head revision.
// Invariant: at most one running run per (pull_request, head_sha) is observable
// to the scheduler.
type ReviewRun struct {
	ID        string         `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	PullRequestID uint      `gorm:"not null;index;index:idx_run_pr_sha,priority:1" json:"pull_request_id"`
	HeadSHA       string    `gorm:"size:64;not null;index:idx_run_pr_sha,priority:2" json:"head_sha"`
	Status        RunStatus `gorm:"size:50;not null;default:running;index" json:"status"`
	Trigger       string    `gorm:"size:50" json:"trigger"` // webhook, manual, comment

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Stage artifacts persisted as raw JSON.
	DraftJSON       string `gorm:"type:text" json:"draft_json,omitempty"`
	FinalJSON       string `gorm:"type:text" json:"final_json,omitempty"`
	VerdictsJSON    string `gorm:"type:text" json:"verdicts_json,omitempty"`
	ChecksJSON      string `gorm:"type:text" json:"checks_json,omitempty"`
	ContextPackJSON string `gorm:"type:text" json:"context_pack_json,omitempty"`

	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
}

// FindingStatus represents the lifecycle status of a finding
type FindingStatus string

const (
	FindingStatusOpen     FindingStatus = "open"
	FindingStatusFixed    FindingStatus = "fixed"
	FindingStatusObsolete FindingStatus = "obsolete"
)

// Finding is a reviewer-identified issue tracked across successive runs.
// RunID records the run that first saw the finding; later runs only update
// LastSeenRunID and Status.
type Finding struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	PullRequestID uint          `gorm:"not null;index" json:"pull_request_id"`
	RunID         string        `gorm:"size:20;not null;index" json:"run_id"`
	LastSeenRunID string        `gorm:"size:20;index" json:"last_seen_run_id"`
	Status        FindingStatus `gorm:"size:20;not null;default:open;index" json:"status"`

	Fingerprint string `gorm:"size:32;index" json:"fingerprint"`
	MatchKey    string `gorm:"size:32;index" json:"match_key"`
	HunkHash    string `gorm:"size:32;index" json:"hunk_hash"`
	ContextHash string `gorm:"size:32" json:"context_hash"`

	// CommentID is the stage-assigned comment identifier; ProviderCommentID on
	// the posted ReviewComment binds it to the forge.
	CommentID  string `gorm:"size:64" json:"comment_id"`
	CommentKey string `gorm:"size:64" json:"comment_key"`

	Path           string `gorm:"size:1024;not null;index" json:"path"`
	Line           int    `gorm:"not null" json:"line"`
	Side           string `gorm:"size:10;default:RIGHT" json:"side"`
	Severity       string `gorm:"size:20" json:"severity"`
	Category       string `gorm:"size:50" json:"category"`
	Title          string `gorm:"size:1024" json:"title"`
	Body           string `gorm:"type:text" json:"body"`
	Evidence       string `gorm:"type:text" json:"evidence"`
	SuggestedPatch string `gorm:"type:text" json:"suggested_patch,omitempty"`
	Confidence     string `gorm:"size:20" json:"confidence,omitempty"`
	RuleID         string `gorm:"size:255" json:"rule_id,omitempty"`
	RuleReason     string `gorm:"size:1024" json:"rule_reason,omitempty"`

	// ProviderCommentID is the forge-side inline comment id once posted.
	ProviderCommentID string `gorm:"size:64;index" json:"provider_comment_id,omitempty"`
}

// CommentKind distinguishes posted artifacts.
type CommentKind string

const (
	CommentKindInline  CommentKind = "inline"
	CommentKindSummary CommentKind = "summary"
)

// ReviewComment binds a posted forge artifact to a finding or the status slot.
type ReviewComment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PullRequestID     uint        `gorm:"not null;index" json:"pull_request_id"`
	FindingID         *uint       `gorm:"index" json:"finding_id,omitempty"`
	Kind              CommentKind `gorm:"size:20;not null" json:"kind"`
	ProviderCommentID string      `gorm:"size:64;index" json:"provider_comment_id"`
	Body              string      `gorm:"type:text" json:"body"`
	URL               string      `gorm:"size:1024" json:"url,omitempty"`
}

// FeedbackType distinguishes reviewer responses.
type FeedbackType string

const (
	FeedbackTypeReaction FeedbackType = "reaction"
	FeedbackTypeReply    FeedbackType = "reply"
)

// Feedback captures reviewer response to posted findings.
type Feedback struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ReviewRunID string       `gorm:"size:20;not null;index" json:"review_run_id"`
	Type        FeedbackType `gorm:"size:20;not null" json:"type"`
	Sentiment   string       `gorm:"size:50" json:"sentiment,omitempty"`
	Action      string       `gorm:"size:50" json:"action,omitempty"`
	CommentID   string       `gorm:"size:64;index" json:"comment_id"`
	Metadata    JSONMap      `gorm:"type:json" json:"metadata,omitempty"`
}

// FileIndex records one indexed file of a repository checkout.
// Path is unique per (repo, is_pattern).
type FileIndex struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RepoID      uint   `gorm:"not null;index;uniqueIndex:idx_file_repo_path,priority:1" json:"repo_id"`
	Path        string `gorm:"size:1024;not null;uniqueIndex:idx_file_repo_path,priority:2" json:"path"`
	IsPattern   bool   `gorm:"default:false;uniqueIndex:idx_file_repo_path,priority:3" json:"is_pattern"`
	Language    string `gorm:"size:50" json:"language"`
	ContentHash string `gorm:"size:32;not null" json:"content_hash"`
	Size        int64  `gorm:"not null" json:"size"`
}

// Symbol is a declaration extracted from an indexed file.
type Symbol struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RepoID    uint   `gorm:"not null;index" json:"repo_id"`
	FileID    uint   `gorm:"not null;index" json:"file_id"`
	Name      string `gorm:"size:512;not null;index" json:"name"`
	Kind      string `gorm:"size:50;not null" json:"kind"`
	StartLine int    `gorm:"not null" json:"start_line"`
	EndLine   int    `gorm:"not null" json:"end_line"`
	Signature string `gorm:"size:1024" json:"signature"`
	Hash      string `gorm:"size:32" json:"hash"`
}

// ReferenceKind classifies symbol references.
const (
	RefKindCall   = "call"
	RefKindImport = "import"
	RefKindExport = "export"
)

// SymbolReference is a call/import/export site extracted from a file.
type SymbolReference struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RepoID  uint   `gorm:"not null;index" json:"repo_id"`
	FileID  uint   `gorm:"not null;index" json:"file_id"`
	RefName string `gorm:"size:1024;not null" json:"ref_name"`
	Line    int    `gorm:"not null" json:"line"`
	Kind    string `gorm:"size:20;not null" json:"kind"`
}

// EmbeddingKind classifies embedding granularity.
const (
	EmbeddingKindFile   = "file"
	EmbeddingKindSymbol = "symbol"
	EmbeddingKindChunk  = "chunk"
)

// Embedding stores one vector for a file, symbol, or chunk.
type Embedding struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RepoID   uint   `gorm:"not null;index" json:"repo_id"`
	FileID   *uint  `gorm:"index" json:"file_id,omitempty"`
	SymbolID *uint  `gorm:"index" json:"symbol_id,omitempty"`
	Kind     string `gorm:"size:20;not null;index" json:"kind"`
	Vector   Vector `gorm:"type:json;not null" json:"vector"`
	Text     string `gorm:"type:text" json:"text"`
}

// Graph node types.
const (
	NodeTypeFile      = "file"
	NodeTypeSymbol    = "symbol"
	NodeTypeDirectory = "directory"
	NodeTypeModule    = "module"
	NodeTypeExternal  = "external"
)

// GraphNode is one node of the derived code graph.
type GraphNode struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RepoID   uint    `gorm:"not null;index;uniqueIndex:idx_node_repo_type_key,priority:1" json:"repo_id"`
	Type     string  `gorm:"size:20;not null;uniqueIndex:idx_node_repo_type_key,priority:2" json:"type"`
	Key      string  `gorm:"size:1024;not null;uniqueIndex:idx_node_repo_type_key,priority:3" json:"key"`
	FileID   *uint   `gorm:"index" json:"file_id,omitempty"`
	SymbolID *uint   `gorm:"index" json:"symbol_id,omitempty"`
	Data     JSONMap `gorm:"type:json" json:"data,omitempty"`
}

// GraphEdge is one aggregated typed edge of the derived code graph.
// Duplicate (from, to, type) edges are collapsed into one row carrying weight
// and up to five examples.
type GraphEdge struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RepoID     uint        `gorm:"not null;index" json:"repo_id"`
	FromNodeID uint        `gorm:"not null;index" json:"from_node_id"`
	ToNodeID   uint        `gorm:"not null;index" json:"to_node_id"`
	Type       string      `gorm:"size:50;not null" json:"type"`
	Weight     int         `gorm:"default:1" json:"weight"`
	Examples   StringArray `gorm:"type:json" json:"examples,omitempty"`
	Source     string      `gorm:"size:20" json:"source,omitempty"` // "" or "inferred"
}

// RunStat stores per-run analytics aggregates (findings by severity/category).
type RunStat struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ReviewRunID    string  `gorm:"size:20;not null;uniqueIndex" json:"review_run_id"`
	RepoID         uint    `gorm:"not null;index" json:"repo_id"`
	NewFindings    int     `gorm:"default:0" json:"new_findings"`
	OpenFindings   int     `gorm:"default:0" json:"open_findings"`
	FixedFindings  int     `gorm:"default:0" json:"fixed_findings"`
	BySeverity     JSONMap `gorm:"type:json" json:"by_severity,omitempty"`
	ByCategory     JSONMap `gorm:"type:json" json:"by_category,omitempty"`
	DurationMillis int64   `gorm:"default:0" json:"duration_millis"`
}

// AllModels returns all models for auto-migration
func AllModels() []interface{} {
	return []interface{}{
		&Provider{},
		&Installation{},
		&RepoInstallation{},
		&Repo{},
		&User{},
		&PullRequest{},
		&ReviewRun{},
		&Finding{},
		&ReviewComment{},
		&Feedback{},
		&FileIndex{},
		&Symbol{},
		&SymbolReference{},
		&Embedding{},
		&GraphNode{},
		&GraphEdge{},
		&RunStat{},
	}
}
