package llmclient

import "context"

type phaseKey struct{}

// WithPhase tags the context with the orchestration phase issuing the
// call ("theme", "architecture", "component"). Used by logging
// middleware and by the fake client to pick its canned output.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey{}, phase)
}

// PhaseFrom returns the phase tag, or "" when untagged.
func PhaseFrom(ctx context.Context) string {
	if v, ok := ctx.Value(phaseKey{}).(string); ok {
		return v
	}
	return ""
}
