package turn

import "go.uber.org/zap"

// Notifier is the user-visible notification channel (toast/log). The core
// never assumes a rendering surface; the UI layer adapts this interface.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// LogNotifier routes notifications to a zap logger. It is the default when
// no UI-backed notifier is wired.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a logger-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Info logs an informational notice.
func (n *LogNotifier) Info(msg string) {
	n.logger.Info(msg)
}

// Error logs a user-visible error.
func (n *LogNotifier) Error(msg string) {
	n.logger.Error(msg)
}

// estimateTokens approximates a token count when the provider omits usage
// data. Roughly four characters per token, matching common BPE vocabularies
// closely enough for accounting.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
