package health

import "context"

// Ping builds a check from a probe; a failing probe reports failStatus
func Ping(okDesc string, failStatus Status, probe func(ctx context.Context) error) Check {
	return func(ctx context.Context) (Status, string, error) {
		if err := probe(ctx); err != nil {
			return failStatus, "Probe failed", err
		}
		return StatusUp, okDesc, nil
	}
}

// Configured reports up when ok, degraded otherwise
func Configured(ok func() bool, upDesc, degradedDesc string) Check {
	return func(context.Context) (Status, string, error) {
		if ok() {
			return StatusUp, upDesc, nil
		}
		return StatusDegraded, degradedDesc, nil
	}
}
