package services

import (
	"context"
	"fmt"

	"merchant/classifier"
	"merchant/storage"
	"merchant/utils"
)

// LinkResult counts how listings were assigned by one Link pass.
type LinkResult struct {
	Matched    int
	NoGroup    int
	MultiGroup int
	// Changed is the number of rows whose item actually moved.
	Changed int
}

// Linker assigns every listing to the item its title names.
type Linker struct {
	store  storage.LinkStore
	logger *utils.Logger
}

// NewLinker creates a Linker over store.
func NewLinker(store storage.LinkStore, logger *utils.Logger) *Linker {
	return &Linker{store: store, logger: logger}
}

// Link recomputes the item of every listing: a title naming exactly one
// item goes to that item, none to "no group", several to "multi group".
// Only changed rows are written, in one transaction.
func (l *Linker) Link(ctx context.Context) (LinkResult, error) {
	var res LinkResult

	items, err := l.store.Items(ctx)
	if err != nil {
		return res, fmt.Errorf("load items: %w", err)
	}
	noGroup, multiGroup, err := l.store.SentinelIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("load sentinels: %w", err)
	}
	titles, err := l.store.ListingTitles(ctx)
	if err != nil {
		return res, fmt.Errorf("load titles: %w", err)
	}

	matcher := classifier.NewMatcher(items)
	assignments := make(map[int64]int64)

	for _, t := range titles {
		var target int64
		switch matches := matcher.Match(t.Title); len(matches) {
		case 0:
			target = noGroup
			res.NoGroup++
		case 1:
			target = matches[0].ID
			res.Matched++
		default:
			target = multiGroup
			res.MultiGroup++
		}
		if target != t.ItemID {
			assignments[t.CID] = target
		}
	}

	if len(assignments) > 0 {
		changed, err := l.store.AssignItems(ctx, assignments)
		if err != nil {
			return res, err
		}
		res.Changed = changed
	}

	l.logger.Info("[linker] %d listings: %d matched, %d no group, %d multi group, %d changed",
		len(titles), res.Matched, res.NoGroup, res.MultiGroup, res.Changed)
	return res, nil
}
