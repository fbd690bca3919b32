package meter

import (
	"log/slog"

	"github.com/ineyio/chatgate"
)

// LogMeter logs admission and generation events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ chatgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAdmit(e chatgate.AdmitEvent) {
	if e.Outcome == chatgate.OutcomeAdmitted {
		m.Logger.Info("admit",
			"identity", e.Identity,
			"tier", e.Tier,
			"used", e.Used,
			"limit", e.Limit,
			"provisioned", e.Provisioned,
			"estimated_tokens", e.EstimatedIn,
		)
		return
	}
	m.Logger.Warn("admit_rejected",
		"identity", e.Identity,
		"tier", e.Tier,
		"outcome", e.Outcome,
		"used", e.Used,
		"limit", e.Limit,
	)
}

func (m *LogMeter) OnResult(e chatgate.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"identity", e.Identity,
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"input_tokens", e.Usage.InputTokens,
			"output_tokens", e.Usage.OutputTokens,
			"cost_usd", e.Cost.String(),
			"accounted", e.Accounted,
		)
	} else {
		m.Logger.Warn("result_error",
			"identity", e.Identity,
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
