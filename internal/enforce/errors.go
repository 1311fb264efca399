package enforce

import (
	"errors"

	"enforce/internal/environment"
	"enforce/internal/reporting"
)

var (
	// ErrNotConfigured is logged when an operation runs before Configure.
	ErrNotConfigured = errors.New("enforce not configured")
	// ErrMissingPresentationData means a surface was enabled without the
	// config or text it needs.
	ErrMissingPresentationData = errors.New("missing presentation data")
	// ErrSuperseded is returned by SetEnvironment when Configure replaced
	// the configuration while the new environment was being fetched.
	ErrSuperseded = errors.New("configuration superseded")

	ErrFetchFailed  = environment.ErrFetchFailed
	ErrDecodeFailed = environment.ErrDecodeFailed
	ErrBuildFailed  = reporting.ErrBuildFailed
)
