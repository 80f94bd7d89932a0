package session

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out process-unique session IDs.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns "<channel>-sess-<n>"; n is shared across channels.
func (g *Generator) Next(channel string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-sess-%d", channel, n)
}
