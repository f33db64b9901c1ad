package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/tercanobre/reidpanel/pkg/models"
)

// CommitFunc sends the final selected-id set of a review batch to the backend.
type CommitFunc func(ctx context.Context, ids []string) (*models.ReviewAck, error)

// ReviewFilter controls candidate visibility. It never changes selection.
type ReviewFilter struct {
	MinScore float64  `json:"min_score"`
	Tags     []string `json:"tags"`
}

// ReviewSession is the panel-local curation state of one review batch. All
// candidates start selected. Filters only hide candidates; bulk selection
// touches only visible ones; Confirm sends every selected id, hidden or not.
type ReviewSession struct {
	kind    models.JobKind
	athlete string
	commit  CommitFunc

	mu         sync.Mutex
	candidates []models.ReviewCandidate
	index      map[string]int
	minScore   float64
	tags       map[string]struct{}
	committing bool
	closed     bool
	ack        *models.ReviewAck
	committed  []string
}

// NewReviewSession builds a session over batch with every candidate selected.
func NewReviewSession(kind models.JobKind, athlete string, candidates []models.ReviewCandidate, commit CommitFunc) *ReviewSession {
	rs := &ReviewSession{
		kind:       kind,
		athlete:    athlete,
		commit:     commit,
		candidates: make([]models.ReviewCandidate, 0, len(candidates)),
		index:      make(map[string]int, len(candidates)),
	}
	for _, c := range candidates {
		if _, dup := rs.index[c.ID]; dup || c.ID == "" {
			continue
		}
		c.Selected = true
		rs.index[c.ID] = len(rs.candidates)
		rs.candidates = append(rs.candidates, c)
	}
	return rs
}

// Athlete returns the athlete the batch belongs to.
func (rs *ReviewSession) Athlete() string { return rs.athlete }

// SetFilter replaces both visibility predicates. An empty tag list shows every
// candidate; otherwise a candidate is visible when it carries any listed tag.
func (rs *ReviewSession) SetFilter(f ReviewFilter) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.minScore = f.MinScore
	if len(f.Tags) == 0 {
		rs.tags = nil
		return
	}
	rs.tags = make(map[string]struct{}, len(f.Tags))
	for _, t := range f.Tags {
		rs.tags[t] = struct{}{}
	}
}

// ClearFilter shows every candidate again.
func (rs *ReviewSession) ClearFilter() {
	rs.SetFilter(ReviewFilter{})
}

func (rs *ReviewSession) visible(c models.ReviewCandidate) bool {
	return c.Score >= rs.minScore && c.HasAnyTag(rs.tags)
}

// Toggle flips the selection of one candidate, visible or not.
func (rs *ReviewSession) Toggle(id string) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return false, ErrReviewClosed
	}
	i, ok := rs.index[id]
	if !ok {
		return false, ErrUnknownID
	}
	rs.candidates[i].Selected = !rs.candidates[i].Selected
	return rs.candidates[i].Selected, nil
}

// SetVisible selects or deselects every currently visible candidate and
// returns how many changed.
func (rs *ReviewSession) SetVisible(selected bool) (int, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return 0, ErrReviewClosed
	}
	n := 0
	for i := range rs.candidates {
		if rs.visible(rs.candidates[i]) && rs.candidates[i].Selected != selected {
			rs.candidates[i].Selected = selected
			n++
		}
	}
	return n, nil
}

// SelectedIDs returns every selected id in batch order, including hidden ones.
func (rs *ReviewSession) SelectedIDs() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.selectedLocked()
}

func (rs *ReviewSession) selectedLocked() []string {
	ids := make([]string, 0, len(rs.candidates))
	for _, c := range rs.candidates {
		if c.Selected {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Confirm commits the selected-id set. A second call while one is in flight
// gets ErrReviewInFlight; a failed commit re-enables the controls.
func (rs *ReviewSession) Confirm(ctx context.Context) (*models.ReviewAck, error) {
	ids, err := rs.begin(false)
	if err != nil {
		return nil, err
	}
	return rs.finish(ctx, ids)
}

// Discard rejects the whole batch by committing an empty id list.
func (rs *ReviewSession) Discard(ctx context.Context) (*models.ReviewAck, error) {
	ids, err := rs.begin(true)
	if err != nil {
		return nil, err
	}
	return rs.finish(ctx, ids)
}

func (rs *ReviewSession) begin(discard bool) ([]string, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return nil, ErrReviewClosed
	}
	if rs.committing {
		return nil, ErrReviewInFlight
	}
	rs.committing = true
	if discard {
		return []string{}, nil
	}
	return rs.selectedLocked(), nil
}

func (rs *ReviewSession) finish(ctx context.Context, ids []string) (*models.ReviewAck, error) {
	ack, err := rs.commit(ctx, ids)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.committing = false
	if err != nil {
		return nil, err
	}
	rs.closed = true
	rs.ack = ack
	rs.committed = ids
	return ack, nil
}

// Committed returns the id list the batch was resolved with.
func (rs *ReviewSession) Committed() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.committed
}

// Committing reports whether a decision is in flight.
func (rs *ReviewSession) Committing() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.committing
}

// Closed reports whether the batch was resolved.
func (rs *ReviewSession) Closed() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.closed
}

// ReviewView is the rendered state of a review session.
type ReviewView struct {
	Kind       models.JobKind           `json:"kind"`
	Athlete    string                   `json:"athlete"`
	Filter     ReviewFilter             `json:"filter"`
	Candidates []models.ReviewCandidate `json:"candidates"`
	Tags       []string                 `json:"tags"`
	Selected   int                      `json:"selected"`
	Visible    int                      `json:"visible"`
	Total      int                      `json:"total"`
	Committing bool                     `json:"committing"`
}

// ReviewSummary is the review part of a job View.
type ReviewSummary struct {
	Athlete    string `json:"athlete"`
	Selected   int    `json:"selected"`
	Visible    int    `json:"visible"`
	Total      int    `json:"total"`
	Committing bool   `json:"committing"`
}

// View returns the visible candidates plus selection counts.
func (rs *ReviewSession) View() ReviewView {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	v := ReviewView{
		Kind:       rs.kind,
		Athlete:    rs.athlete,
		Filter:     ReviewFilter{MinScore: rs.minScore, Tags: sortedKeys(rs.tags)},
		Candidates: make([]models.ReviewCandidate, 0, len(rs.candidates)),
		Total:      len(rs.candidates),
		Committing: rs.committing,
	}
	all := make(map[string]struct{})
	for _, c := range rs.candidates {
		for t := range c.Tags {
			all[t] = struct{}{}
		}
		if c.Selected {
			v.Selected++
		}
		if rs.visible(c) {
			v.Visible++
			v.Candidates = append(v.Candidates, c)
		}
	}
	v.Tags = sortedKeys(all)
	if v.Filter.Tags == nil {
		v.Filter.Tags = []string{}
	}
	return v
}

// Summary returns the counts shown alongside the job view.
func (rs *ReviewSession) Summary() *ReviewSummary {
	v := rs.View()
	return &ReviewSummary{
		Athlete:    v.Athlete,
		Selected:   v.Selected,
		Visible:    v.Visible,
		Total:      v.Total,
		Committing: v.Committing,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
