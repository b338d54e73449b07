package service

import (
	"context"

	"go.uber.org/zap"

	alertdomain "github.com/voxmeter/voxmeter/internal/alerts/domain"
)

// logNotifier is the default delivery channel. Real channels (email,
// webhooks) plug in by providing their own Notifier.
type logNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) alertdomain.Notifier {
	return &logNotifier{log: log.Named("alerts.notifier")}
}

func (n *logNotifier) Notify(_ context.Context, alert alertdomain.UsageAlert) {
	n.log.Info("usage alert",
		zap.String("user_id", alert.UserID.String()),
		zap.String("billing_month", alert.BillingMonth),
		zap.String("level", string(alert.Level)),
		zap.String("plan", alert.Plan),
		zap.String("message", alert.Message),
	)
}
