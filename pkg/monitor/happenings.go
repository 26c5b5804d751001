package monitor

import (
	"context"

	"github.com/sw33tLie/nstg/pkg/providers"
)

// Happenings reports the nations mentioned in the world activity feed, most
// recent first. It never exhausts.
type Happenings struct {
	reader        providers.Reader
	delegatesOnly bool
}

func NewHappenings(reader providers.Reader, delegatesOnly bool) *Happenings {
	return &Happenings{reader: reader, delegatesOnly: delegatesOnly}
}

func (h *Happenings) Refresh(ctx context.Context) ([]string, bool, error) {
	events, err := h.reader.Happenings(ctx)
	if err != nil {
		return nil, false, err
	}

	var keep map[string]bool
	if h.delegatesOnly {
		delegates, err := h.reader.Delegates(ctx)
		if err != nil {
			return nil, false, err
		}
		keep = toSet(delegates)
	}

	seen := make(map[string]bool)
	var names []string
	for _, ev := range events {
		for _, n := range ev.Nations {
			if seen[n] {
				continue
			}
			seen[n] = true
			if keep != nil && !keep[n] {
				continue
			}
			names = append(names, n)
		}
	}
	return names, false, nil
}
