package monitor

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sw33tLie/nstg/pkg/providers"
)

// Constructor builds a monitor from a stateful token's arguments.
type Constructor func(args []string) (Monitor, error)

// Registry maps stateful kind names to constructors and memoizes the
// monitors it builds, so repeated tokens share one monitor.
type Registry struct {
	mu        sync.Mutex
	ctors     map[string]Constructor
	instances map[string]Monitor
}

func NewRegistry() *Registry {
	return &Registry{
		ctors:     make(map[string]Constructor),
		instances: make(map[string]Monitor),
	}
}

// Register binds kind to c, replacing any earlier constructor.
func (r *Registry) Register(kind string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[kind] = c
}

// Kinds lists the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Get returns the monitor for kind and args, building it on first use.
func (r *Registry) Get(kind string, args []string) (Monitor, error) {
	key := kind + ":" + strings.Join(args, ";")

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.instances[key]; ok {
		return m, nil
	}
	ctor, ok := r.ctors[kind]
	if !ok {
		return nil, fmt.Errorf("no monitor registered for %q", kind)
	}
	m, err := ctor(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	r.instances[key] = m
	return m, nil
}

// Close stops every monitor built by the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, m := range r.instances {
		if s, ok := m.(interface{ Stop() }); ok {
			s.Stop()
		}
		delete(r.instances, key)
	}
}

func wantArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

// NewDefaultRegistry registers the four stateful kinds against reader.
// Every monitor is polled by sched with opts; MinSpacing defaults to the
// reader's own.
func NewDefaultRegistry(reader providers.Reader, sched *Scheduler, opts Options) *Registry {
	if opts.MinSpacing == 0 {
		opts.MinSpacing = reader.MinInterval()
	}
	r := NewRegistry()

	r.Register("_happenings", func(args []string) (Monitor, error) {
		if err := wantArgs(args, 1); err != nil {
			return nil, err
		}
		var delegatesOnly bool
		switch args[0] {
		case "all":
		case "delegates":
			delegatesOnly = true
		default:
			return nil, fmt.Errorf("unknown happenings filter %q (want all or delegates)", args[0])
		}
		return NewUpdating("_happenings:"+args[0], NewHappenings(reader, delegatesOnly), sched, opts)
	})

	r.Register("_movement", func(args []string) (Monitor, error) {
		if err := wantArgs(args, 2); err != nil {
			return nil, err
		}
		dir, err := ParseDirection(args[0])
		if err != nil {
			return nil, err
		}
		return NewUpdating("_movement:"+strings.Join(args, ";"), NewMovement(reader, args[1], dir), sched, opts)
	})

	r.Register("_voting", func(args []string) (Monitor, error) {
		if len(args) != 2 && len(args) != 3 {
			return nil, fmt.Errorf("expected 2 or 3 arguments, got %d", len(args))
		}
		chamber, err := providers.ParseChamber(args[0])
		if err != nil {
			return nil, err
		}
		side, err := providers.ParseSide(args[1])
		if err != nil {
			return nil, err
		}
		var vopts VotingOptions
		if len(args) == 3 {
			vopts.Regions = strings.Split(args[2], ",")
		}
		return NewUpdating("_voting:"+strings.Join(args, ";"), NewVoting(reader, chamber, side, vopts), sched, opts)
	})

	r.Register("_approvals", func(args []string) (Monitor, error) {
		if err := wantArgs(args, 2); err != nil {
			return nil, err
		}
		if args[0] != "removed" {
			return nil, fmt.Errorf("unknown approval action %q (want removed)", args[0])
		}
		return NewUpdating("_approvals:"+strings.Join(args, ";"), NewApprovalRaid(reader, 0, args[1]), sched, opts)
	})

	return r
}
