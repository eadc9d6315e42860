package narrate

import (
	"context"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/pipeline"
)

// Narrator turns finished reports into a short prose summary.
type Narrator interface {
	Summarize(ctx context.Context, reports pipeline.Reports) (string, error)
}
