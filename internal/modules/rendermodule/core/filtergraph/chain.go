package filtergraph

import "strings"

// chain collects filter stages in order. Stages are only appended when their
// predicate holds, so the joined result never contains identity stages.
type chain struct {
	stages []string
}

func (c *chain) add(stage ...string) {
	c.stages = append(c.stages, stage...)
}

func (c *chain) addIf(ok bool, stage func() string) {
	if ok {
		c.stages = append(c.stages, stage())
	}
}

func (c *chain) String() string {
	return strings.Join(c.stages, ",")
}
