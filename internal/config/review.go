package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/grepiku/grepiku/consts"
)

// RepoConfigFile is the per-repository override file, read from the
// repository root at review time.
const RepoConfigFile = ".grepiku.yaml"

// repoConfigFallbacks are alternate file names tolerated for the repo config.
var repoConfigFallbacks = []string{".grepiku.yml"}

// Strictness controls how aggressively low-confidence findings are filtered.
type Strictness string

const (
	StrictnessLow    Strictness = "low"
	StrictnessMedium Strictness = "medium"
	StrictnessHigh   Strictness = "high"
)

// Destination selects where review output lands.
type Destination string

const (
	DestinationComment Destination = "comment"
	DestinationPRBody  Destination = "pr_body"
	DestinationBoth    Destination = "both"
)

// RetrievalConfig tunes hybrid retrieval.
type RetrievalConfig struct {
	TopK               int     `yaml:"top_k" json:"top_k"`
	MaxPerPath         int     `yaml:"max_per_path" json:"max_per_path"`
	SemanticWeight     float64 `yaml:"semantic_weight" json:"semantic_weight"`
	LexicalWeight      float64 `yaml:"lexical_weight" json:"lexical_weight"`
	RRFWeight          float64 `yaml:"rrf_weight" json:"rrf_weight"`
	ChangedPathBoost   float64 `yaml:"changed_path_boost" json:"changed_path_boost"`
	SameDirectoryBoost float64 `yaml:"same_directory_boost" json:"same_directory_boost"`
	PatternBoost       float64 `yaml:"pattern_boost" json:"pattern_boost"`
	SymbolBoost        float64 `yaml:"symbol_boost" json:"symbol_boost"`
	ChunkBoost         float64 `yaml:"chunk_boost" json:"chunk_boost"`
}

// GraphTraversalConfig tunes the budgeted graph walk.
type GraphTraversalConfig struct {
	MaxDepth         int     `yaml:"max_depth" json:"max_depth"`
	MinScore         float64 `yaml:"min_score" json:"min_score"`
	MaxRelatedFiles  int     `yaml:"max_related_files" json:"max_related_files"`
	MaxGraphLinks    int     `yaml:"max_graph_links" json:"max_graph_links"`
	HardIncludeFiles int     `yaml:"hard_include_files" json:"hard_include_files"`
	MaxNodesVisited  int     `yaml:"max_nodes_visited" json:"max_nodes_visited"`
}

// GraphConfig groups graph traversal with seed exclusions.
type GraphConfig struct {
	Traversal   GraphTraversalConfig `yaml:"traversal" json:"traversal"`
	ExcludeDirs []string             `yaml:"exclude_dirs" json:"exclude_dirs"`
}

// LimitsConfig caps output volume.
type LimitsConfig struct {
	MaxInlineComments int `yaml:"max_inline_comments" json:"max_inline_comments"`
	MaxKeyConcerns    int `yaml:"max_key_concerns" json:"max_key_concerns"`
}

// OutputConfig selects output destinations.
type OutputConfig struct {
	Destination Destination `yaml:"destination" json:"destination"`
	SummaryOnly bool        `yaml:"summary_only" json:"summary_only"`
}

// TriggersConfig gates which PRs get reviewed.
type TriggersConfig struct {
	// ManualOnly disables automatic review; only comment commands trigger.
	ManualOnly bool `yaml:"manual_only" json:"manual_only"`
	// ReviewDrafts enables review of draft PRs.
	ReviewDrafts bool `yaml:"review_drafts" json:"review_drafts"`
	// Branch patterns use doublestar globs against the base branch.
	Branches        []string `yaml:"branches" json:"branches"`
	ExcludeBranches []string `yaml:"exclude_branches" json:"exclude_branches"`
	Labels          []string `yaml:"labels" json:"labels"`
	ExcludeLabels   []string `yaml:"exclude_labels" json:"exclude_labels"`
	Authors         []string `yaml:"authors" json:"authors"`
	ExcludeAuthors  []string `yaml:"exclude_authors" json:"exclude_authors"`
	// Keywords in the PR title suppress review (e.g. "WIP").
	ExcludeKeywords []string `yaml:"exclude_keywords" json:"exclude_keywords"`
	// CommentTriggers are command patterns recognized in comments.
	CommentTriggers []string `yaml:"comment_triggers" json:"comment_triggers"`
}

// StatusChecksConfig controls the forge status check.
type StatusChecksConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Name    string `yaml:"name" json:"name"`
	// Required makes blocking findings close the check with failure instead
	// of neutral.
	Required bool `yaml:"required" json:"required"`
}

// FeedbackPolicy tunes how reviewer feedback on past findings shapes
// filtering of new ones.
type FeedbackPolicy struct {
	// Enabled turns feedback-informed filtering on.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// DownvoteThreshold is the net-negative reaction count that mutes a
	// rule for the repo.
	DownvoteThreshold int `yaml:"downvote_threshold" json:"downvote_threshold"`
}

// ResolvedConfig is the effective per-run review configuration after
// layering.
type ResolvedConfig struct {
	Retrieval      RetrievalConfig    `yaml:"retrieval" json:"retrieval"`
	Graph          GraphConfig        `yaml:"graph" json:"graph"`
	Limits         LimitsConfig       `yaml:"limits" json:"limits"`
	Strictness     Strictness         `yaml:"strictness" json:"strictness"`
	CommentTypes   []string           `yaml:"comment_types" json:"comment_types"`
	Output         OutputConfig       `yaml:"output" json:"output"`
	Triggers       TriggersConfig     `yaml:"triggers" json:"triggers"`
	StatusChecks   StatusChecksConfig `yaml:"status_checks" json:"status_checks"`
	Feedback       FeedbackPolicy     `yaml:"feedback" json:"feedback"`
	// Rules are free-form instruction lines passed to the reviewer stage.
	Rules []string `yaml:"rules" json:"rules"`
}

// Default returns the resolved configuration with all defaults applied.
func Default() ResolvedConfig {
	return ResolvedConfig{
		Retrieval: RetrievalConfig{
			TopK:               18,
			MaxPerPath:         4,
			SemanticWeight:     0.62,
			LexicalWeight:      0.22,
			RRFWeight:          0.08,
			ChangedPathBoost:   0.16,
			SameDirectoryBoost: 0.08,
			PatternBoost:       0.03,
			SymbolBoost:        0.02,
			ChunkBoost:         0.03,
		},
		Graph: GraphConfig{
			Traversal: GraphTraversalConfig{
				MaxDepth:         5,
				MinScore:         0.07,
				MaxRelatedFiles:  28,
				MaxGraphLinks:    110,
				HardIncludeFiles: 8,
				MaxNodesVisited:  2600,
			},
			ExcludeDirs: []string{"internal_harness"},
		},
		Limits: LimitsConfig{
			MaxInlineComments: 20,
			MaxKeyConcerns:    5,
		},
		Strictness:   StrictnessMedium,
		CommentTypes: []string{"inline", "summary"},
		Output: OutputConfig{
			Destination: DestinationComment,
		},
		Triggers: TriggersConfig{
			CommentTriggers: []string{"/review", "@bot"},
		},
		StatusChecks: StatusChecksConfig{
			Enabled: true,
			Name:    consts.DefaultStatusCheckName,
		},
		Feedback: FeedbackPolicy{
			Enabled:           true,
			DownvoteThreshold: 2,
		},
	}
}

// Overlay is a sparse configuration layer; nil fields leave the lower
// layer untouched.
type Overlay struct {
	Retrieval *struct {
		TopK               *int     `yaml:"top_k" json:"top_k"`
		MaxPerPath         *int     `yaml:"max_per_path" json:"max_per_path"`
		SemanticWeight     *float64 `yaml:"semantic_weight" json:"semantic_weight"`
		LexicalWeight      *float64 `yaml:"lexical_weight" json:"lexical_weight"`
		RRFWeight          *float64 `yaml:"rrf_weight" json:"rrf_weight"`
		ChangedPathBoost   *float64 `yaml:"changed_path_boost" json:"changed_path_boost"`
		SameDirectoryBoost *float64 `yaml:"same_directory_boost" json:"same_directory_boost"`
		PatternBoost       *float64 `yaml:"pattern_boost" json:"pattern_boost"`
		SymbolBoost        *float64 `yaml:"symbol_boost" json:"symbol_boost"`
		ChunkBoost         *float64 `yaml:"chunk_boost" json:"chunk_boost"`
	} `yaml:"retrieval" json:"retrieval"`
	Graph *struct {
		Traversal *struct {
			MaxDepth         *int     `yaml:"max_depth" json:"max_depth"`
			MinScore         *float64 `yaml:"min_score" json:"min_score"`
			MaxRelatedFiles  *int     `yaml:"max_related_files" json:"max_related_files"`
			MaxGraphLinks    *int     `yaml:"max_graph_links" json:"max_graph_links"`
			HardIncludeFiles *int     `yaml:"hard_include_files" json:"hard_include_files"`
			MaxNodesVisited  *int     `yaml:"max_nodes_visited" json:"max_nodes_visited"`
		} `yaml:"traversal" json:"traversal"`
		ExcludeDirs []string `yaml:"exclude_dirs" json:"exclude_dirs"`
	} `yaml:"graph" json:"graph"`
	Limits *struct {
		MaxInlineComments *int `yaml:"max_inline_comments" json:"max_inline_comments"`
		MaxKeyConcerns    *int `yaml:"max_key_concerns" json:"max_key_concerns"`
	} `yaml:"limits" json:"limits"`
	Strictness   *Strictness `yaml:"strictness" json:"strictness"`
	CommentTypes []string    `yaml:"comment_types" json:"comment_types"`
	Output       *struct {
		Destination *Destination `yaml:"destination" json:"destination"`
		SummaryOnly *bool        `yaml:"summary_only" json:"summary_only"`
	} `yaml:"output" json:"output"`
	Triggers *struct {
		ManualOnly      *bool    `yaml:"manual_only" json:"manual_only"`
		ReviewDrafts    *bool    `yaml:"review_drafts" json:"review_drafts"`
		Branches        []string `yaml:"branches" json:"branches"`
		ExcludeBranches []string `yaml:"exclude_branches" json:"exclude_branches"`
		Labels          []string `yaml:"labels" json:"labels"`
		ExcludeLabels   []string `yaml:"exclude_labels" json:"exclude_labels"`
		Authors         []string `yaml:"authors" json:"authors"`
		ExcludeAuthors  []string `yaml:"exclude_authors" json:"exclude_authors"`
		ExcludeKeywords []string `yaml:"exclude_keywords" json:"exclude_keywords"`
		CommentTriggers []string `yaml:"comment_triggers" json:"comment_triggers"`
	} `yaml:"triggers" json:"triggers"`
	StatusChecks *struct {
		Enabled  *bool   `yaml:"enabled" json:"enabled"`
		Name     *string `yaml:"name" json:"name"`
		Required *bool   `yaml:"required" json:"required"`
	} `yaml:"status_checks" json:"status_checks"`
	Feedback *struct {
		Enabled           *bool `yaml:"enabled" json:"enabled"`
		DownvoteThreshold *int  `yaml:"downvote_threshold" json:"downvote_threshold"`
	} `yaml:"feedback" json:"feedback"`
	Rules []string `yaml:"rules" json:"rules"`
}

// Resolve layers overlays onto the defaults, lowest priority first.
// Later overlays win.
func Resolve(layers ...*Overlay) ResolvedConfig {
	cfg := Default()
	for _, layer := range layers {
		if layer != nil {
			layer.apply(&cfg)
		}
	}
	return cfg
}

func (o *Overlay) apply(cfg *ResolvedConfig) {
	if r := o.Retrieval; r != nil {
		setInt(&cfg.Retrieval.TopK, r.TopK)
		setInt(&cfg.Retrieval.MaxPerPath, r.MaxPerPath)
		setFloat(&cfg.Retrieval.SemanticWeight, r.SemanticWeight)
		setFloat(&cfg.Retrieval.LexicalWeight, r.LexicalWeight)
		setFloat(&cfg.Retrieval.RRFWeight, r.RRFWeight)
		setFloat(&cfg.Retrieval.ChangedPathBoost, r.ChangedPathBoost)
		setFloat(&cfg.Retrieval.SameDirectoryBoost, r.SameDirectoryBoost)
		setFloat(&cfg.Retrieval.PatternBoost, r.PatternBoost)
		setFloat(&cfg.Retrieval.SymbolBoost, r.SymbolBoost)
		setFloat(&cfg.Retrieval.ChunkBoost, r.ChunkBoost)
	}
	if g := o.Graph; g != nil {
		if t := g.Traversal; t != nil {
			setInt(&cfg.Graph.Traversal.MaxDepth, t.MaxDepth)
			setFloat(&cfg.Graph.Traversal.MinScore, t.MinScore)
			setInt(&cfg.Graph.Traversal.MaxRelatedFiles, t.MaxRelatedFiles)
			setInt(&cfg.Graph.Traversal.MaxGraphLinks, t.MaxGraphLinks)
			setInt(&cfg.Graph.Traversal.HardIncludeFiles, t.HardIncludeFiles)
			setInt(&cfg.Graph.Traversal.MaxNodesVisited, t.MaxNodesVisited)
		}
		if g.ExcludeDirs != nil {
			cfg.Graph.ExcludeDirs = g.ExcludeDirs
		}
	}
	if l := o.Limits; l != nil {
		setInt(&cfg.Limits.MaxInlineComments, l.MaxInlineComments)
		setInt(&cfg.Limits.MaxKeyConcerns, l.MaxKeyConcerns)
	}
	if o.Strictness != nil {
		cfg.Strictness = *o.Strictness
	}
	if o.CommentTypes != nil {
		cfg.CommentTypes = o.CommentTypes
	}
	if out := o.Output; out != nil {
		if out.Destination != nil {
			cfg.Output.Destination = *out.Destination
		}
		setBool(&cfg.Output.SummaryOnly, out.SummaryOnly)
	}
	if t := o.Triggers; t != nil {
		setBool(&cfg.Triggers.ManualOnly, t.ManualOnly)
		setBool(&cfg.Triggers.ReviewDrafts, t.ReviewDrafts)
		if t.Branches != nil {
			cfg.Triggers.Branches = t.Branches
		}
		if t.ExcludeBranches != nil {
			cfg.Triggers.ExcludeBranches = t.ExcludeBranches
		}
		if t.Labels != nil {
			cfg.Triggers.Labels = t.Labels
		}
		if t.ExcludeLabels != nil {
			cfg.Triggers.ExcludeLabels = t.ExcludeLabels
		}
		if t.Authors != nil {
			cfg.Triggers.Authors = t.Authors
		}
		if t.ExcludeAuthors != nil {
			cfg.Triggers.ExcludeAuthors = t.ExcludeAuthors
		}
		if t.ExcludeKeywords != nil {
			cfg.Triggers.ExcludeKeywords = t.ExcludeKeywords
		}
		if t.CommentTriggers != nil {
			cfg.Triggers.CommentTriggers = t.CommentTriggers
		}
	}
	if s := o.StatusChecks; s != nil {
		setBool(&cfg.StatusChecks.Enabled, s.Enabled)
		if s.Name != nil {
			cfg.StatusChecks.Name = *s.Name
		}
		setBool(&cfg.StatusChecks.Required, s.Required)
	}
	if f := o.Feedback; f != nil {
		setBool(&cfg.Feedback.Enabled, f.Enabled)
		setInt(&cfg.Feedback.DownvoteThreshold, f.DownvoteThreshold)
	}
	if o.Rules != nil {
		cfg.Rules = append(cfg.Rules, o.Rules...)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// LoadRepoOverlay reads the repository's config file from a checkout root.
// A missing file yields (nil, nil, nil); a malformed file yields a warning
// and no overlay, never an error, so a bad config cannot block review.
func LoadRepoOverlay(root string) (*Overlay, []string, error) {
	names := append([]string{RepoConfigFile}, repoConfigFallbacks...)
	for _, name := range names {
		path := filepath.Join(root, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", name, err)
		}
		var overlay Overlay
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, []string{fmt.Sprintf("ignoring malformed %s: %v", name, err)}, nil
		}
		return &overlay, nil, nil
	}
	return nil, nil, nil
}
