package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// InvoiceReconcileJobName is the scheduler name of the reconciliation sweep
const InvoiceReconcileJobName = "invoice_reconcile"

// InvoiceReconciler re-reads open mirrors from the processor and applies any missed transitions
type InvoiceReconciler interface {
	ReconcileOpenInvoices(ctx context.Context) (checked int, changed int, err error)
}

// InvoiceReconcileJob covers webhooks that never arrived
type InvoiceReconcileJob struct {
	reconciler InvoiceReconciler
	logger     *zap.Logger
	timeout    time.Duration
}

func NewInvoiceReconcileJob(reconciler InvoiceReconciler, logger *zap.Logger, timeout time.Duration) *InvoiceReconcileJob {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &InvoiceReconcileJob{
		reconciler: reconciler,
		logger:     logger,
		timeout:    timeout,
	}
}

// Run executes one sweep. Called by the scheduler.
func (j *InvoiceReconcileJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	checked, changed, err := j.reconciler.ReconcileOpenInvoices(ctx)
	if err != nil {
		j.logger.Error("invoice reconciliation failed",
			zap.Error(err),
			zap.Int("checked", checked),
			zap.Duration("duration", time.Since(start)))
		return
	}

	j.logger.Info("invoice reconciliation completed",
		zap.Int("checked", checked),
		zap.Int("changed", changed),
		zap.Duration("duration", time.Since(start)))
}

// RegisterInvoiceReconcileJob adds the sweep to the scheduler
func RegisterInvoiceReconcileJob(scheduler *Scheduler, reconciler InvoiceReconciler, logger *zap.Logger, cronExpr string, timeout time.Duration) error {
	job := NewInvoiceReconcileJob(reconciler, logger, timeout)
	return scheduler.AddJob(InvoiceReconcileJobName, cronExpr, job.Run)
}
