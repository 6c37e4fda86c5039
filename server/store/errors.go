package store

import "github.com/gear6io/gharp/pkg/errors"

// Store error codes
var (
	ErrStoreOpenFailed        = errors.MustNewCode("store.open_failed")
	ErrStorePingFailed        = errors.MustNewCode("store.ping_failed")
	ErrStoreConfigureFailed   = errors.MustNewCode("store.configure_failed")
	ErrStoreClosed            = errors.MustNewCode("store.closed")
	ErrStoreExecFailed        = errors.MustNewCode("store.exec_failed")
	ErrStoreQueryFailed       = errors.MustNewCode("store.query_failed")
	ErrStoreScanFailed        = errors.MustNewCode("store.scan_failed")
	ErrStoreTransactionFailed = errors.MustNewCode("store.transaction_failed")
	ErrStoreMigrationFailed   = errors.MustNewCode("store.migration_failed")
	ErrStoreRetryExhausted    = errors.MustNewCode("store.retry_exhausted")
	ErrStoreTableNotFound     = errors.MustNewCode("store.table_not_found")
	ErrStoreCloseFailed       = errors.MustNewCode("store.close_failed")
)
