package main

import (
	"github.com/avast/retry-go/v4"
)

var (
	infiniteAttempts = retry.Attempts(0)
)

// rpcRetryOptions bounds read retries; transactions are never resent.
func rpcRetryOptions(conf *RPCConf) []retry.Option {
	return []retry.Option{
		retry.Attempts(conf.RetryAttempts),
		retry.Delay(conf.retryDelay()),
		retry.LastErrorOnly(true),
	}
}
