package rig

import (
	"context"
	"strings"
	"time"

	"github.com/dougsko/rigd/pkg/logging"
)

type depthKey struct{}

// Depth is how many generic operations the call chain is nested in.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// enter logs entry into an operation and returns the context for nested
// calls plus a function that logs the result.
func (s *Session) enter(ctx context.Context, req Request) (context.Context, func(error)) {
	depth := Depth(ctx) + 1
	ctx = context.WithValue(ctx, depthKey{}, depth)
	if !s.log.Enabled(logging.LevelDebug) {
		return ctx, func(error) {}
	}

	indent := strings.Repeat(" ", depth-1)
	s.log.Debugf("trace", "%s%d:%s: entered", indent, depth, req)
	start := time.Now()
	return ctx, func(err error) {
		if err != nil {
			s.log.Debugf("trace", "%s%d:%s: returning error after %s: %v", indent, depth, req, time.Since(start), err)
			return
		}
		s.log.Debugf("trace", "%s%d:%s: returning ok after %s", indent, depth, req, time.Since(start))
	}
}
