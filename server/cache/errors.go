package cache

import "github.com/gear6io/gharp/pkg/errors"

// Result cache error codes
var (
	ErrCacheRead  = errors.MustNewCode("cache.read_failed")
	ErrCacheWrite = errors.MustNewCode("cache.write_failed")
	ErrCacheSweep = errors.MustNewCode("cache.sweep_failed")
)
