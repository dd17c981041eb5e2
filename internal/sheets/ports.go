package sheets

import (
	"context"

	"fintrack/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionExporter appends one posted transaction to an external
	// ledger copy and returns a reference to the written row.
	TransactionExporter interface {
		Append(ctx context.Context, t core.TransactionPosted) (rowRef string, err error)
	}
)
