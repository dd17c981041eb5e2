package worker

import (
	"context"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/sheets"
)

// ExportWorker appends posted transactions to an external sheet.
type ExportWorker struct {
	exporter sheets.TransactionExporter
	logger   *log.Logger
}

func NewExportWorker(exporter sheets.TransactionExporter, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ExportWorker{
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentExport),
	}
}

// Handle is an amqp.Handler. Events other than transaction.posted are acked
// and ignored.
func (w *ExportWorker) Handle(ctx context.Context, msg *amqp.EventMessage) error {
	if msg.Type != core.EventTransactionPosted {
		w.logger.DebugContext(ctx, "Skipping event",
			log.FieldEventID, msg.EventID,
			log.FieldEventType, msg.Type)
		return nil
	}

	var posted core.TransactionPosted
	if err := msg.Decode(&posted); err != nil {
		return fmt.Errorf("decode event %s: %v: %w", msg.EventID, err, amqp.ErrUnprocessable)
	}
	if posted.TransactionID <= 0 {
		return fmt.Errorf("event %s has no transaction id: %w", msg.EventID, amqp.ErrUnprocessable)
	}

	ref, err := w.exporter.Append(ctx, posted)
	if err != nil {
		return fmt.Errorf("export transaction %d: %w", posted.TransactionID, err)
	}

	w.logger.InfoContext(ctx, "Exported transaction",
		log.FieldEventID, msg.EventID,
		log.FieldTransactionID, posted.TransactionID,
		log.FieldKind, string(posted.Kind),
		log.FieldSheetsRef, ref)
	return nil
}

// Handler returns Handle as an amqp.Handler.
func (w *ExportWorker) Handler() amqp.Handler {
	return w.Handle
}
