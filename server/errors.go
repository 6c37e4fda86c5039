package server

import "github.com/gear6io/gharp/pkg/errors"

// Server error codes
var (
	ErrServiceInitFailed  = errors.MustNewCode("server.init_failed")
	ErrServiceStartFailed = errors.MustNewCode("server.start_failed")
	ErrShutdownFailed     = errors.MustNewCode("server.shutdown_failed")
)
