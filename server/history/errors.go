package history

import "github.com/gear6io/gharp/pkg/errors"

// History error codes
var (
	ErrHistoryAppend = errors.MustNewCode("history.append_failed")
	ErrHistoryRead   = errors.MustNewCode("history.read_failed")
	ErrInvalidEntry  = errors.MustNewCode("history.invalid_entry")
)
