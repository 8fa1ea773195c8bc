// Package providers contains dependency injection providers for the PromptShelf server.
package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second
)

// JobSource labels job runs started by this process ("api" or "cli").
type JobSource string
