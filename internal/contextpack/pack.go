// Package contextpack assembles the evidence bundle handed to the reviewer
// stage: hybrid retrieval over the embedding store, a budgeted walk of the
// code graph, and fusion with historical finding hotspots.
package contextpack

import "github.com/grepiku/grepiku/internal/diffindex"

// ContextPack is the assembled evidence for one review run.
type ContextPack struct {
	Query            string           `json:"query"`
	Retrieved        []RetrievedItem  `json:"retrieved"`
	RelatedFiles     []RelatedFile    `json:"relatedFiles"`
	ChangedFileStats []diffindex.Stat `json:"changedFileStats"`
	GraphLinks       []GraphLink      `json:"graphLinks"`
	GraphPaths       []string         `json:"graphPaths"`
	GraphDebug       GraphDebug       `json:"graphDebug"`
	Hotspots         []Hotspot        `json:"hotspots"`
	ReviewFocus      []string         `json:"reviewFocus"`
}

// RetrievedItem is one embedding selected by hybrid retrieval.
type RetrievedItem struct {
	Path     string  `json:"path"`
	Kind     string  `json:"kind"`
	Symbol   string  `json:"symbol,omitempty"`
	Score    float64 `json:"score"`
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
	Pattern  bool    `json:"pattern,omitempty"`
	Snippet  string  `json:"snippet,omitempty"`
}

// RelatedFile is one non-changed file judged relevant to the diff.
type RelatedFile struct {
	Path           string  `json:"path"`
	Score          float64 `json:"score"`
	GraphScore     float64 `json:"graphScore"`
	RetrievalScore float64 `json:"retrievalScore"`
	Depth          int     `json:"depth"`
	HardIncluded   bool    `json:"hardIncluded,omitempty"`
}

// GraphLink is one file-dependency edge surfaced to the reviewer.
type GraphLink struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Type     string   `json:"type"`
	Weight   int      `json:"weight"`
	Score    float64  `json:"score"`
	Examples []string `json:"examples,omitempty"`
}

// GraphDebug carries traversal statistics for diagnostics.
type GraphDebug struct {
	SeededNodes  int `json:"seededNodes"`
	VisitedNodes int `json:"visitedNodes"`
	RankedFiles  int `json:"rankedFiles"`
}

// Hotspot is a path with elevated historical finding density.
type Hotspot struct {
	Path               string   `json:"path"`
	OpenFindings       int      `json:"openFindings"`
	HistoricalFindings int      `json:"historicalFindings"`
	TopCategories      []string `json:"topCategories,omitempty"`
}
