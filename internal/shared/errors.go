package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrForbidden        = fmt.Errorf("forbidden")

	// API and service errors
	ErrAPIRequest           = fmt.Errorf("API request failed")
	ErrServiceUnavailable   = fmt.Errorf("service unavailable")
	ErrImportPollExhausted  = fmt.Errorf("import still pending after poll budget")
	ErrQueueUnavailable     = fmt.Errorf("queue unavailable")
	ErrArtifactStoreMissing = fmt.Errorf("artifact store not configured")
	ErrArtifactNotFound     = fmt.Errorf("artifact not found")

	// Ledger errors
	ErrDatasetNotFound   = fmt.Errorf("dataset not found")
	ErrTaskNotFound      = fmt.Errorf("task not found")
	ErrJobNotFound       = fmt.Errorf("job not found")
	ErrInvalidTransition = fmt.Errorf("invalid status transition")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
