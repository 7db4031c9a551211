package lifecycle

import "errors"

// Sentinel errors for the lifecycle service layer.
var (
	ErrJobRunning     = errors.New("a lifecycle job is already running")
	ErrClientRequired = errors.New("client mode requires a client_id")
	ErrNoCampaign     = errors.New("no qualifying campaign for client")
	ErrNotFound       = errors.New("prospect not found")
)
