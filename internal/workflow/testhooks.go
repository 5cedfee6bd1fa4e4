package workflow

var beforeBatchRetry func(documentID int64)

// SetBatchRetryHookForTests runs fn before each document of RetryAllFailed is
// retried.
func SetBatchRetryHookForTests(fn func(documentID int64)) func() {
	previous := beforeBatchRetry
	beforeBatchRetry = fn
	return func() {
		beforeBatchRetry = previous
	}
}
