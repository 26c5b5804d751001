package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/sw33tLie/nstg/pkg/providers"
)

// Direction selects which side of a region's border a Movement monitor watches.
type Direction int

const (
	Into Direction = iota
	OutOf
)

func (d Direction) String() string {
	if d == OutOf {
		return "outof"
	}
	return "into"
}

// ParseDirection accepts "into" or "outof".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "into":
		return Into, nil
	case "outof":
		return OutOf, nil
	}
	return 0, fmt.Errorf("unknown movement direction %q (want into or outof)", s)
}

// Movement diffs consecutive snapshots of a region's roster. The first
// refresh only records a baseline, so the snapshot is empty until the
// second one.
type Movement struct {
	reader    providers.Reader
	region    string
	direction Direction

	previous []string
	baseline bool
}

func NewMovement(reader providers.Reader, region string, direction Direction) *Movement {
	return &Movement{reader: reader, region: region, direction: direction}
}

func (m *Movement) Refresh(ctx context.Context) ([]string, bool, error) {
	current, err := m.reader.RegionNations(ctx, m.region)
	if err != nil {
		return nil, false, err
	}
	if !m.baseline {
		m.baseline = true
		m.previous = current
		return nil, false, nil
	}

	var moved []string
	if m.direction == Into {
		moved = diff(current, m.previous)
	} else {
		moved = diff(m.previous, current)
	}
	m.previous = current
	return moved, false, nil
}
