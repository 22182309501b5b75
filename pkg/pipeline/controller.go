package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/detector"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
	"github.com/dtnitsch/llm-web-search/pkg/metrics"
)

// LanguageDetector identifies the language of the raw query.
type LanguageDetector interface {
	Detect(text string) (detector.Language, bool)
}

// Controller sequences the stages of one turn.
type Controller struct {
	cfg       models.PipelineConfig
	logger    *slog.Logger
	detector  LanguageDetector
	optimizer *Optimizer
	aggregate *Aggregator
	processor *Processor
	answer    *Synthesizer
	followUp  *FollowUpGenerator
	caps      Capabilities
}

type ControllerOption func(*Controller)

// WithLanguageDetector replaces the lingua based detector.
func WithLanguageDetector(d LanguageDetector) ControllerOption {
	return func(c *Controller) { c.detector = d }
}

func NewController(caps Capabilities, cfg models.PipelineConfig, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Controller{
		cfg:       cfg,
		logger:    logger,
		caps:      caps,
		detector:  detector.New(10),
		optimizer: NewOptimizer(caps, cfg.WebQueryCount, cfg.ImageQueryCount, logger),
		aggregate: NewAggregator(caps, cfg.WebResultCap, cfg.ImageResultCap, cfg.ExactURLs, logger),
		processor: NewProcessor(caps, cfg, logger),
		answer:    NewSynthesizer(caps, logger),
		followUp:  NewFollowUpGenerator(caps, cfg.FollowUpCount, logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// milestones maps one sub-pipeline's progress onto the turn fields it owns.
type milestones struct {
	queries   func([]string) models.TurnPatch
	results   func([]models.SearchResult) models.TurnPatch
	searched  models.TurnPatch
	finalized func([]models.SourceStatus) models.TurnPatch
	source    func(models.SourceStatus) models.TurnPatch
	processed models.TurnPatch
}

var webMilestones = milestones{
	queries: func(q []string) models.TurnPatch {
		return models.TurnPatch{SearchQueries: q, DoneSearchQueries: true}
	},
	results: func(r []models.SearchResult) models.TurnPatch {
		return models.TurnPatch{SearchResults: r}
	},
	searched: models.TurnPatch{DoneSearch: true},
	finalized: func(s []models.SourceStatus) models.TurnPatch {
		return models.TurnPatch{ProcessedSearchResults: s}
	},
	source: func(s models.SourceStatus) models.TurnPatch {
		return models.TurnPatch{WebSource: &s}
	},
	processed: models.TurnPatch{DoneProcessingSearch: true},
}

var imageMilestones = milestones{
	queries: func(q []string) models.TurnPatch {
		return models.TurnPatch{ImageSearchQueries: q}
	},
	results: func(r []models.SearchResult) models.TurnPatch {
		return models.TurnPatch{ImageSearchResults: r}
	},
	searched: models.TurnPatch{DoneImageSearch: true},
	finalized: func(s []models.SourceStatus) models.TurnPatch {
		return models.TurnPatch{ProcessedImageSearchResults: s}
	},
	source: func(s models.SourceStatus) models.TurnPatch {
		return models.TurnPatch{ImageSource: &s}
	},
	processed: models.TurnPatch{DoneProcessingImages: true},
}

type laneResult struct {
	queries []string
	sources []models.Source
	err     error
}

// Run executes the turn and emits every intermediate state. It returns nil when
// the turn completed, gateway.ErrCancelled when ctx was cancelled, and the
// synthesis error when the answer failed. The final status is always emitted.
func (c *Controller) Run(ctx context.Context, turnID, query string, emit Emitter) error {
	started := time.Now()
	logger := c.logger.With("turn_id", turnID)
	logger.Info("turn started", "query", query)

	err := c.run(ctx, logger, query, emit)

	status := models.TurnCompleted
	patch := models.TurnPatch{}
	switch {
	case gateway.IsCancellation(err):
		status = models.TurnCancelled
		err = gateway.ErrCancelled
	case err != nil:
		status = models.TurnFailed
		patch.Error = err.Error()
	}
	patch.Status = status
	emit(patch)

	metrics.TurnsCompleted.WithLabelValues(string(status)).Inc()
	metrics.TurnDuration.Observe(time.Since(started).Seconds())
	logger.Info("turn finished", "status", status, "duration_ms", time.Since(started).Milliseconds())
	return err
}

func (c *Controller) run(ctx context.Context, logger *slog.Logger, query string, emit Emitter) error {
	var lang detector.Language
	if l, ok := c.detector.Detect(query); ok {
		lang = l
		emit(models.TurnPatch{Language: l.Code})
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}

	var (
		wg         sync.WaitGroup
		web, image laneResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		web = c.lane(ctx, logger, query, lang.Code, models.KindWeb, webMilestones, emit)
	}()
	go func() {
		defer wg.Done()
		image = c.imageLane(ctx, logger, query, lang.Code, emit)
	}()
	wg.Wait()

	if gateway.IsCancellation(web.err) || gateway.IsCancellation(image.err) {
		return gateway.ErrCancelled
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}
	if web.err != nil {
		logger.Warn("web sources failed", "error", web.err)
	}
	if image.err != nil {
		logger.Warn("image sources failed", "error", image.err)
	}

	if len(web.sources) == 0 {
		logger.Info("no usable web sources")
		emit(models.TurnPatch{FinalAnswer: models.NoInformationAnswer, DoneAnswer: true})
		return nil
	}

	answer, err := c.answer.Synthesize(ctx, gateway.AnswerRequest{
		Query:        query,
		Language:     lang.Name,
		Sources:      web.sources,
		ImageSources: image.sources,
	}, func(delta string) {
		emit(models.TurnPatch{AnswerDelta: delta})
	})
	if err != nil {
		return err
	}
	done := models.TurnPatch{DoneAnswer: true}
	if c.cfg.ValidateCitation {
		if invalid := ValidateCitations(answer, web.sources); len(invalid) > 0 {
			logger.Warn("answer cites unknown sources", "source_numbers", invalid)
			done.InvalidCitations = invalid
		}
	}
	emit(done)

	followUps, err := c.followUp.Generate(ctx, web.queries, answer)
	if err != nil {
		return err
	}
	if len(followUps) > 0 {
		emit(models.TurnPatch{FollowUpSearchQueries: followUps})
	}
	return nil
}

// imageLane runs the image sub-pipeline when enabled and the gate agrees.
func (c *Controller) imageLane(ctx context.Context, logger *slog.Logger, query, lang string, emit Emitter) laneResult {
	skip := func() laneResult {
		emit(models.TurnPatch{DoneImageSearch: true, DoneProcessingImages: true})
		return laneResult{}
	}
	if !c.cfg.ImageSearch {
		return skip()
	}
	constraint := c.cfg.ImageConstraint
	if constraint == "" {
		constraint = models.DefaultImageConstraint
	}
	wanted, err := c.caps.Decide(ctx, query, constraint)
	if isCancelled(ctx, err) {
		return laneResult{err: gateway.ErrCancelled}
	}
	if err != nil || !wanted {
		logger.Debug("image search not needed", "error", err)
		return skip()
	}
	return c.lane(ctx, logger, query, lang, models.KindImage, imageMilestones, emit)
}

// lane runs optimize, search and processing for one kind and returns the
// successful sources. Stage failures other than cancellation yield no sources.
func (c *Controller) lane(ctx context.Context, logger *slog.Logger, query, lang string, kind models.SearchKind, m milestones, emit Emitter) laneResult {
	opt, err := c.optimizer.Optimize(ctx, query, kind)
	if err != nil {
		return laneResult{err: err}
	}
	if opt == nil {
		emit(mergePatches(m.queries(nil), m.searched, m.processed))
		return laneResult{err: errors.New("query optimization failed")}
	}
	emit(m.queries(opt.Queries))
	if err := checkpoint(ctx); err != nil {
		return laneResult{queries: opt.Queries, err: err}
	}

	results, err := c.aggregate.Aggregate(ctx, opt.Queries, kind, lang, func(r []models.SearchResult) {
		emit(m.results(r))
	})
	if err != nil {
		return laneResult{queries: opt.Queries, err: err}
	}
	emit(m.searched)
	logger.Debug("search complete", "kind", kind, "results", len(results))

	statuses := Finalize(results)
	emit(m.finalized(statuses))
	statuses, err = c.processor.Run(ctx, query, statuses, func(s models.SourceStatus) {
		emit(m.source(s))
	})
	if err != nil {
		return laneResult{queries: opt.Queries, err: err}
	}
	emit(m.processed)
	return laneResult{queries: opt.Queries, sources: models.Successful(statuses)}
}

// mergePatches folds milestone-only patches into one.
func mergePatches(patches ...models.TurnPatch) models.TurnPatch {
	var out models.TurnPatch
	for _, p := range patches {
		out.DoneSearchQueries = out.DoneSearchQueries || p.DoneSearchQueries
		out.DoneSearch = out.DoneSearch || p.DoneSearch
		out.DoneProcessingSearch = out.DoneProcessingSearch || p.DoneProcessingSearch
		out.DoneImageSearch = out.DoneImageSearch || p.DoneImageSearch
		out.DoneProcessingImages = out.DoneProcessingImages || p.DoneProcessingImages
	}
	return out
}
