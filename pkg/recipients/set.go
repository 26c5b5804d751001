package recipients

// Set is an insertion-ordered set of canonical names.
type Set struct {
	names []string
	index map[string]struct{}
}

func NewSet(names ...string) *Set {
	s := &Set{index: make(map[string]struct{}, len(names))}
	s.Add(names...)
	return s
}

// Add appends names not already present, keeping their order.
func (s *Set) Add(names ...string) {
	for _, n := range names {
		if _, ok := s.index[n]; ok {
			continue
		}
		s.index[n] = struct{}{}
		s.names = append(s.names, n)
	}
}

func (s *Set) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *Set) Len() int { return len(s.names) }

// Names returns a copy of the members in insertion order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Filter returns a new set holding the members for which keep is true.
func (s *Set) Filter(keep func(string) bool) *Set {
	out := NewSet()
	for _, n := range s.names {
		if keep(n) {
			out.Add(n)
		}
	}
	return out
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	return NewSet(s.names...)
}
