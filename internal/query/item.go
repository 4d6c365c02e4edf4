package query

import "sync"

// Item is a single retrieved document: URL, its serialised structured
// data, a display name, and the site it came from. SchemaJSON holds the
// serialised structured document as retrieved; when the same URL is seen
// from multiple backends the aggregator rewrites it to a JSON array of
// the individual documents.
type Item struct {
	URL        string
	SchemaJSON string
	Name       string
	Site       string
}

// Ranking is the LLM-produced score and rationale for one item.
type Ranking struct {
	Score       int
	Description string
}

// Answer is a ranked candidate answer. Sent is guarded by the owning
// AnswerSet's mutex; an answer is emitted on the send channel at most once.
type Answer struct {
	URL          string
	Site         string
	Name         string
	SchemaObject string
	Ranking      Ranking
	sent         bool
}

// Sent reports whether this answer has already been emitted.
func (a *Answer) Sent() bool { return a.sent }

// AnswerSet is the mutex-guarded collection of ranked answers accumulated
// during a single request.
type AnswerSet struct {
	mu      sync.Mutex
	answers []*Answer
}

// NewAnswerSet constructs an empty answer set.
func NewAnswerSet() *AnswerSet {
	return &AnswerSet{}
}

// Append adds a as a candidate, not yet sent.
func (s *AnswerSet) Append(a *Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, a)
}

// TryMarkSent marks a as sent if it has not already been sent, returning
// whether the caller won the race and should emit it.
func (s *AnswerSet) TryMarkSent(a *Answer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.sent {
		return false
	}
	a.sent = true
	return true
}

// All returns a snapshot of every accumulated answer, sent or not.
func (s *AnswerSet) All() []*Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Answer, len(s.answers))
	copy(out, s.answers)
	return out
}

// Unsent returns the subset of answers not yet emitted, sorted by the
// caller as needed.
func (s *AnswerSet) Unsent() []*Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Answer
	for _, a := range s.answers {
		if !a.sent {
			out = append(out, a)
		}
	}
	return out
}

// CountSent returns how many answers have been emitted so far.
func (s *AnswerSet) CountSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.answers {
		if a.sent {
			n++
		}
	}
	return n
}
