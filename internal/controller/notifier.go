package controller

import (
	"time"

	"go.uber.org/zap"
)

// Notifier receives the controller's outward-facing events: progress after
// each processed page, countdowns before waits, challenge alerts, completion
// and halts. The transport is an implementation detail; the controller only
// emits.
type Notifier interface {
	Progress(filterID string, page, batchSize, totalRecords int)
	WaitCountdown(d time.Duration)
	ChallengeAlert(location string)
	FilterSwitched(fromID, toID string)
	Completed(totalRecords int)
	Halted(reason string)
}

// LogNotifier renders notifications as structured log lines. It is the
// default sink when no richer surface is attached.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notification sink.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Progress(filterID string, page, batchSize, totalRecords int) {
	n.logger.Info("Page processed",
		zap.String("filter", filterID),
		zap.Int("page", page),
		zap.Int("new_records", batchSize),
		zap.Int("total_records", totalRecords))
}

func (n *LogNotifier) WaitCountdown(d time.Duration) {
	n.logger.Info("Waiting before next page", zap.Duration("delay", d))
}

func (n *LogNotifier) ChallengeAlert(location string) {
	n.logger.Warn("Anti-automation challenge on screen, pausing until it clears",
		zap.String("url", location))
}

func (n *LogNotifier) FilterSwitched(fromID, toID string) {
	n.logger.Info("Switching star filter", zap.String("from", fromID), zap.String("to", toID))
}

func (n *LogNotifier) Completed(totalRecords int) {
	n.logger.Info("All filter partitions exhausted, scrape complete",
		zap.Int("total_records", totalRecords))
}

func (n *LogNotifier) Halted(reason string) {
	n.logger.Error("Scrape halted, restart required", zap.String("reason", reason))
}
