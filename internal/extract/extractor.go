package extract

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/browser"
	"github.com/fortuna/flowscrape/internal/participant"
	"github.com/fortuna/flowscrape/internal/reconciliation"
)

// ErrExtractionMismatch is returned when a rendered panel yields nothing
// under every strategy.
var ErrExtractionMismatch = errors.New("no fields extracted from rendered panel")

// Extractor runs the three strategies against one open panel.
type Extractor struct {
	engine *reconciliation.Engine
	logger *zap.Logger
}

// NewExtractor creates an Extractor that merges through engine.
func NewExtractor(engine *reconciliation.Engine, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = reconciliation.NewEngine(logger)
	}
	return &Extractor{engine: engine, logger: logger}
}

// Engine exposes the merge engine for metrics.
func (e *Extractor) Engine() *reconciliation.Engine {
	return e.engine
}

// Extract reads the panel for pid. panelHTML is the panel's serialized
// markup captured after it rendered. The markup parse is primary, the
// live walk fills its gaps, and the positional pass over the whole page
// runs only when both came back empty.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, pid, panelHTML string) (participant.Extraction, error) {
	primary, err := SiblingPair(panelHTML)
	if err != nil {
		e.logger.Warn("  ⚠️  Markup parse failed", zap.String("pid", pid), zap.Error(err))
		primary = participant.NewExtraction()
	}

	secondary, err := e.walk(ctx, page, pid, panelHTML)
	if err != nil {
		if errors.Is(err, browser.ErrSessionLost) || ctx.Err() != nil {
			return participant.Extraction{}, err
		}
		e.logger.Warn("  ⚠️  Panel walk failed", zap.String("pid", pid), zap.Error(err))
		secondary = participant.NewExtraction()
	}

	merged := e.engine.Merge(primary, secondary)
	if !merged.Empty() {
		return merged, nil
	}

	e.engine.RecordFallback()
	source, err := page.PageSource(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrSessionLost) || ctx.Err() != nil {
			return participant.Extraction{}, err
		}
		e.logger.Warn("  ⚠️  Page source unavailable for positional pass", zap.String("pid", pid), zap.Error(err))
	} else if fallback, err := Positional(source, pid); err == nil && !fallback.Empty() {
		e.logger.Debug("  Positional pass recovered panel", zap.String("pid", pid))
		return fallback, nil
	}

	e.engine.RecordMismatch()
	return participant.Extraction{}, fmt.Errorf("pid %s: %w", pid, ErrExtractionMismatch)
}

// walk runs the in-page walk, falling back to walking the captured markup
// when the script cannot run.
func (e *Extractor) walk(ctx context.Context, page browser.Page, pid, panelHTML string) (participant.Extraction, error) {
	var tokens []Token
	err := page.ExecuteScript(ctx, WalkScript, &tokens, pid)
	if err == nil && tokens != nil {
		return AssembleWalk(tokens), nil
	}
	if err != nil && (errors.Is(err, browser.ErrSessionLost) || ctx.Err() != nil) {
		return participant.Extraction{}, err
	}

	tokens, perr := TokensFromMarkup(panelHTML)
	if perr != nil {
		if err != nil {
			return participant.Extraction{}, err
		}
		return participant.Extraction{}, perr
	}
	return AssembleWalk(tokens), nil
}
