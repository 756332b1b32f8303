package state

// State identifies a dialog step.
type State string

// StateIdle means no dialog is in progress.
const StateIdle State = "idle"

// Session is a snapshot of one conversation. Data is a private copy.
type Session struct {
	State State
	Data  map[string]string
}

// Idle reports whether no dialog is in progress.
func (s Session) Idle() bool {
	return s.State == "" || s.State == StateIdle
}

// Value returns Data[key].
func (s Session) Value(key string) (string, bool) {
	v, ok := s.Data[key]
	return v, ok
}

func (s Session) clone() Session {
	out := Session{State: s.State, Data: make(map[string]string, len(s.Data))}
	for k, v := range s.Data {
		out.Data[k] = v
	}
	return out
}
