package nlu

import (
	"context"

	"go.uber.org/zap"

	"respira-triage/internal/triage"
)

// Service runs the model-backed extractor and degrades to the keyword rules
// when the model is unreachable or returns garbage. The conversation keeps
// moving either way.
type Service struct {
	provider Provider
	logger   *zap.Logger
}

func NewService(provider Provider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provider: provider, logger: logger}
}

// Analyze extracts signals for one turn. The returned analysis always carries
// a reply the gateway can send; ErrProviderUnavailable is returned only when
// neither the model nor the rules produced anything usable.
func (s *Service) Analyze(ctx context.Context, req Request) (Analysis, error) {
	if s.provider != nil {
		analysis, err := s.provider.Analyze(ctx, req)
		if err == nil && !analysis.Empty() {
			return analysis, nil
		}
		if err != nil {
			s.logger.Warn("symptom extraction provider failed, using keyword rules",
				zap.Error(err))
		}
	}

	analysis := HeuristicExtract(req)
	analysis.FallbackUsed = true
	if analysis.Reply == "" {
		analysis.Reply = fallbackReply(req, analysis)
	}
	if analysis.Empty() {
		return analysis, ErrProviderUnavailable
	}
	return analysis, nil
}

// fallbackReply keeps the questionnaire moving when the rules resolved
// nothing: re-ask the pending question or the first missing one.
func fallbackReply(req Request, analysis Analysis) string {
	merged := mergeKnown(req.Known, analysis.Fields)
	if req.AskingField != "" && !merged.Has(req.AskingField) {
		return triage.FieldPrompt(req.AskingField)
	}
	if next := nextMissing(merged); next != "" {
		return triage.FieldPrompt(next)
	}
	return ""
}
