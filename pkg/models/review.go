package models

import "time"

// ReviewCandidate is one crop produced by a capture job that waits for an
// operator decision. Selected is panel-local until the batch is confirmed.
type ReviewCandidate struct {
	ID        string             `json:"id"`
	Score     float64            `json:"score"`
	Tags      map[string]float64 `json:"tags,omitempty"`
	Thumbnail string             `json:"thumbnail,omitempty"`
	Timestamp float64            `json:"timestamp,omitempty"`
	Selected  bool               `json:"selected"`
}

// HasAnyTag reports whether the candidate carries at least one tag in set.
// An empty set matches every candidate.
func (c ReviewCandidate) HasAnyTag(set map[string]struct{}) bool {
	if len(set) == 0 {
		return true
	}
	for t := range c.Tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// ReviewBatch is the backend answer of get-review-batch.
type ReviewBatch struct {
	Kind       JobKind           `json:"kind"`
	Athlete    string            `json:"athlete,omitempty"`
	Candidates []ReviewCandidate `json:"candidates"`
	FetchedAt  time.Time         `json:"fetched_at"`
}

// ReviewAck is the backend acknowledgement of confirm-review.
type ReviewAck struct {
	Success bool   `json:"success"`
	Saved   int    `json:"saved"`
	Total   int    `json:"n_total"`
	Error   string `json:"error,omitempty"`
}
