package types

// Invocation is a fully assembled ffmpeg command for one job. It is built fresh
// for every dispatch and never mutated afterwards.
type Invocation struct {
	JobID               string
	Args                []string
	EstimatedDurationMs int64
	OutputPath          string
}

// ArgsCopy returns a copy of the argument vector so callers cannot mutate the invocation.
func (inv *Invocation) ArgsCopy() []string {
	out := make([]string, len(inv.Args))
	copy(out, inv.Args)
	return out
}
