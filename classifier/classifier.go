package classifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"merchant/storage"
	"merchant/utils"
)

const (
	// TopCandidates is how many ranked nouns are put to the decider.
	TopCandidates = 20
	// MaxInvalidAnswers bounds re-prompts for one candidate.
	MaxInvalidAnswers = 5
)

// ErrInvalidDecision is returned when a candidate gets MaxInvalidAnswers
// unusable answers in a row.
var ErrInvalidDecision = errors.New("invalid decision")

// Candidate is a noun and how often it was tagged across titles.
type Candidate struct {
	Name  string
	Count int
}

// Classifier proposes new items from listing titles.
type Classifier struct {
	tagger Tagger
	store  storage.ItemStore
	logger *utils.Logger
}

// New creates a Classifier committing accepted items to store.
func New(tagger Tagger, store storage.ItemStore, logger *utils.Logger) *Classifier {
	return &Classifier{tagger: tagger, store: store, logger: logger}
}

// Candidates ranks the nouns of titles by descending frequency, ties in
// first-seen order, and keeps the top TopCandidates.
func (c *Classifier) Candidates(titles []string) ([]Candidate, error) {
	counts := make(map[string]int)
	var order []string

	for _, title := range titles {
		tokens, err := c.tagger.Tag(strings.ToLower(title))
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", title, err)
		}
		for _, tok := range tokens {
			if tok.Tag != NounTag {
				continue
			}
			name := strings.TrimSpace(tok.Text)
			if name == "" {
				continue
			}
			if _, seen := counts[name]; !seen {
				order = append(order, name)
			}
			counts[name]++
		}
	}

	ranked := make([]Candidate, len(order))
	for i, name := range order {
		ranked[i] = Candidate{Name: name, Count: counts[name]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})

	if len(ranked) > TopCandidates {
		ranked = ranked[:TopCandidates]
	}
	return ranked, nil
}

// ProposeItems ranks candidate nouns, asks decider about each and commits
// the accepted names in one transaction. Names already in the taxonomy are
// left as they are. It returns the accepted names in ranking order.
func (c *Classifier) ProposeItems(ctx context.Context, titles []string, decider Decider) ([]string, error) {
	candidates, err := c.Candidates(titles)
	if err != nil {
		return nil, err
	}
	c.logger.Info("[classifier] %d titles, %d candidate nouns", len(titles), len(candidates))

	var accepted []string
	for _, cand := range candidates {
		ok, err := c.decide(ctx, cand.Name, decider)
		if err != nil {
			return nil, err
		}
		if ok {
			accepted = append(accepted, cand.Name)
		}
	}

	if len(accepted) == 0 {
		c.logger.Info("[classifier] No items accepted")
		return nil, nil
	}

	inserted, err := c.store.InsertItems(ctx, accepted)
	if err != nil {
		return nil, fmt.Errorf("commit items: %w", err)
	}
	c.logger.Info("[classifier] Accepted %d items, %d new", len(accepted), inserted)
	return accepted, nil
}

func (c *Classifier) decide(ctx context.Context, candidate string, decider Decider) (bool, error) {
	for attempt := 0; attempt < MaxInvalidAnswers; attempt++ {
		answer, err := decider.Decide(ctx, candidate, attempt)
		if err != nil {
			return false, fmt.Errorf("decide %q: %w", candidate, err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		c.logger.Debug("[classifier] Invalid answer %q for %q", answer, candidate)
	}
	return false, fmt.Errorf("%w: %d unusable answers for %q", ErrInvalidDecision, MaxInvalidAnswers, candidate)
}
