package wire

// Terminator is the byte sequence that ends one pipelined request's
// header block.
const Terminator = "\r\n\r\n"

// TerminatorMatcher incrementally matches a fixed literal byte sequence.
// A mismatched byte re-anchors the matcher to the start of the pattern;
// the mismatched byte itself is not reconsidered. That is safe for
// "\r\n\r\n" because no proper prefix of it is also a suffix of a
// partial match that could restart mid-pattern.
type TerminatorMatcher struct {
	pattern string
	idx     int
	matched bool
}

// NewTerminatorMatcher returns a matcher for pattern. An empty pattern
// defaults to Terminator.
func NewTerminatorMatcher(pattern string) *TerminatorMatcher {
	if pattern == "" {
		pattern = Terminator
	}
	return &TerminatorMatcher{pattern: pattern}
}

// Reset returns the matcher to its freshly constructed state.
func (m *TerminatorMatcher) Reset() {
	m.idx = 0
	m.matched = false
}

// Matched reports whether the full pattern has been seen.
func (m *TerminatorMatcher) Matched() bool { return m.matched }

// Feed advances the matcher by one byte and reports whether the byte
// completed the pattern. Feeding after a match resets first, so each
// occurrence is reported exactly once.
func (m *TerminatorMatcher) Feed(c byte) bool {
	if m.matched {
		m.Reset()
	}
	if c != m.pattern[m.idx] {
		m.Reset()
		return false
	}
	m.idx++
	m.matched = m.idx == len(m.pattern)
	return m.matched
}
