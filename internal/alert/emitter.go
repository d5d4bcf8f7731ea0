package alert

import "context"

// Emitter receives alerts produced by background components such as the
// health probes and the metric aggregator.
type Emitter func(ctx context.Context, a Alert)
