// Package project defines the durable state of one authoring pipeline run
// and its persistence contract. The orchestrator is the only writer; every
// other component reads snapshots.
package project

import (
	"fmt"
	"sort"
	"time"
)

// Phase enumerates the pipeline stages.
type Phase string

const (
	PhasePlanning      Phase = "PLANNING"
	PhasePlanCritique  Phase = "PLAN_CRITIQUE"
	PhaseWriting       Phase = "WRITING"
	PhaseWriteCritique Phase = "WRITE_CRITIQUE"
	PhaseComplete      Phase = "COMPLETE"
)

// Valid reports whether p names a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlanning, PhasePlanCritique, PhaseWriting, PhaseWriteCritique, PhaseComplete:
		return true
	}
	return false
}

// ApprovalKind labels what a pending approval gates.
type ApprovalKind string

const (
	ApprovalPlan    ApprovalKind = "PLAN"
	ApprovalChapter ApprovalKind = "CHAPTER"
)

// PendingApproval records an outstanding human decision.
type PendingApproval struct {
	Kind       ApprovalKind `json:"kind"`
	PayloadRef string       `json:"payload_ref"`
}

// TokenUsage snapshots the active context budget.
type TokenUsage struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// State is the single mutable root for one project run.
type State struct {
	ProjectID         string           `json:"project_id"`
	Phase             Phase            `json:"phase"`
	Paused            bool             `json:"paused"`
	CurrentChapter    int              `json:"current_chapter"`
	TotalChapters     int              `json:"total_chapters"`
	ChaptersCompleted []int            `json:"chapters_completed"`
	PlanIteration     int              `json:"plan_iteration"`
	ChapterIteration  int              `json:"chapter_iteration"`
	PendingApproval   *PendingApproval `json:"pending_approval,omitempty"`
	TokenUsage        TokenUsage       `json:"token_usage"`
	WordCounts        map[int]int      `json:"word_counts,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewState builds the initial state for a fresh project.
func NewState(projectID string, totalChapters, tokenLimit int) State {
	return State{
		ProjectID:     projectID,
		Phase:         PhasePlanning,
		TotalChapters: totalChapters,
		TokenUsage:    TokenUsage{Limit: tokenLimit},
	}
}

// Validate checks structural invariants after a load.
func (s State) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("project: state missing project id")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("project: unknown phase %q", s.Phase)
	}
	if s.TotalChapters < 1 {
		return fmt.Errorf("project: total chapters must be >= 1")
	}
	if s.CurrentChapter > s.TotalChapters {
		return fmt.Errorf("project: current chapter %d exceeds total %d", s.CurrentChapter, s.TotalChapters)
	}
	return nil
}

// ChapterCompleted reports whether chapter n has been approved.
func (s State) ChapterCompleted(n int) bool {
	for _, done := range s.ChaptersCompleted {
		if done == n {
			return true
		}
	}
	return false
}

// MarkChapterCompleted adds n to the completed set, keeping it sorted.
func (s *State) MarkChapterCompleted(n int) {
	if s.ChapterCompleted(n) {
		return
	}
	s.ChaptersCompleted = append(s.ChaptersCompleted, n)
	sort.Ints(s.ChaptersCompleted)
}

// Clone returns a deep copy safe to hand to observers.
func (s State) Clone() State {
	out := s
	out.ChaptersCompleted = cloneInts(s.ChaptersCompleted)
	if s.PendingApproval != nil {
		approval := *s.PendingApproval
		out.PendingApproval = &approval
	}
	if len(s.WordCounts) > 0 {
		counts := make(map[int]int, len(s.WordCounts))
		for k, v := range s.WordCounts {
			counts[k] = v
		}
		out.WordCounts = counts
	}
	return out
}

// Progress returns completion as a percentage. Planning stages account for
// 20 points; chapters share the remaining 80 evenly.
func (s State) Progress() float64 {
	switch s.Phase {
	case PhasePlanning:
		return 5
	case PhasePlanCritique:
		return 12
	case PhaseComplete:
		return 100
	}
	if s.TotalChapters == 0 {
		return 20
	}
	return 20 + 80*float64(len(s.ChaptersCompleted))/float64(s.TotalChapters)
}

// TotalWords sums the recorded per-chapter word counts.
func (s State) TotalWords() int {
	total := 0
	for _, words := range s.WordCounts {
		total += words
	}
	return total
}

// RecordWords stores the word count for a chapter.
func (s *State) RecordWords(chapter, words int) {
	if s.WordCounts == nil {
		s.WordCounts = map[int]int{}
	}
	s.WordCounts[chapter] = words
}

func cloneInts(values []int) []int {
	if len(values) == 0 {
		return nil
	}
	out := make([]int, len(values))
	copy(out, values)
	return out
}
