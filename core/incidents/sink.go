package incidents

import (
	"context"

	"incident-engine/core/utils"
)

// Sink is what producers need from the engine.
type Sink interface {
	Register(ctx context.Context, occ Occurrence) (Summary, error)
}

// RegisterBestEffort never lets incident bookkeeping break the caller: errors
// and panics are logged and a zero Summary is returned.
func RegisterBestEffort(ctx context.Context, sink Sink, occ Occurrence, logger *utils.Logger) (summary Summary) {
	if sink == nil {
		return Summary{}
	}
	defer func() {
		if rec := recover(); rec != nil {
			if logger != nil {
				logger.Errorf("incidents.register panic type=%s stage=%s: %v", occ.ErrorType, occ.Stage, rec)
			}
			summary = Summary{}
		}
	}()
	res, err := sink.Register(ctx, occ)
	if err != nil {
		if logger != nil {
			logger.Errorf("incidents.register failed type=%s stage=%s: %v", occ.ErrorType, occ.Stage, err)
		}
		return Summary{}
	}
	return res
}
