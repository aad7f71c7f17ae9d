package system

// Token identifies a staged commit.
type Token uint64

type staged struct {
	tok  Token
	name string
	fn   func()
}

// Stage registers fn to run on the next Flush. Commands stage work that must
// happen only after their response has reached the host, such as the reset
// that reloads freshly written option bytes.
func (s *System) Stage(name string, fn func()) Token {
	s.nextTok++
	s.staged = append(s.staged, staged{tok: s.nextTok, name: name, fn: fn})
	s.Log(ComponentSystem).Debug("commit staged", "name", name, "token", uint64(s.nextTok))
	return s.nextTok
}

// Cancel drops a staged commit. It reports whether tok was pending.
func (s *System) Cancel(tok Token) bool {
	for i, st := range s.staged {
		if st.tok == tok {
			s.staged = append(s.staged[:i], s.staged[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the number of staged commits.
func (s *System) Pending() int {
	return len(s.staged)
}

// Flush runs staged commits in order. The queue is cleared before the first
// callback so a commit that resets the device leaves nothing behind.
func (s *System) Flush() {
	if len(s.staged) == 0 {
		return
	}
	pending := s.staged
	s.staged = nil
	for _, st := range pending {
		s.Log(ComponentSystem).Debug("commit", "name", st.name)
		st.fn()
	}
}
