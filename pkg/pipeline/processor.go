package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
	"github.com/dtnitsch/llm-web-search/pkg/metrics"
)

// Processor fetches and summarizes accepted results with a bounded worker pool.
type Processor struct {
	caps   Capabilities
	cfg    models.PipelineConfig
	logger *slog.Logger
}

func NewProcessor(caps Capabilities, cfg models.PipelineConfig, logger *slog.Logger) *Processor {
	return &Processor{caps: caps, cfg: cfg, logger: logger}
}

// Finalize freezes the result set into not-started entries numbered 1..N in order.
func Finalize(results []models.SearchResult) []models.SourceStatus {
	out := make([]models.SourceStatus, 0, len(results))
	for i, r := range results {
		out = append(out, models.NewSourceStatus(r, i+1))
	}
	return out
}

type job struct {
	index  int
	status models.SourceStatus
}

type result struct {
	index  int
	status models.SourceStatus
}

// Run processes every non-terminal entry concurrently. Entries already in a
// terminal state are left untouched. Item failures are recorded on the item;
// only cancellation fails the run. onUpdate may be called concurrently.
func (p *Processor) Run(ctx context.Context, query string, statuses []models.SourceStatus, onUpdate func(models.SourceStatus)) ([]models.SourceStatus, error) {
	out := slices.Clone(statuses)
	if err := checkpoint(ctx); err != nil {
		return out, err
	}

	pending := 0
	for _, s := range out {
		if !s.Status.IsTerminal() {
			pending++
		}
	}
	if pending == 0 {
		return out, nil
	}

	workers := p.cfg.Workers
	if workers <= 0 || workers > pending {
		workers = pending
	}

	var wg sync.WaitGroup
	jobs := make(chan job, pending)
	results := make(chan result, pending)

	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go p.worker(ctx, w, query, &wg, jobs, results, onUpdate)
	}
	for i, s := range out {
		if s.Status.IsTerminal() {
			continue
		}
		jobs <- job{index: i, status: s}
	}
	close(jobs)

	wg.Wait()
	close(results)

	for r := range results {
		out[r.index] = r.status
	}
	if err := checkpoint(ctx); err != nil {
		return out, err
	}
	return out, nil
}

func (p *Processor) worker(ctx context.Context, id int, query string, wg *sync.WaitGroup, jobs <-chan job, results chan<- result, onUpdate func(models.SourceStatus)) {
	defer wg.Done()
	for j := range jobs {
		results <- result{index: j.index, status: p.process(ctx, id, query, j.status, onUpdate)}
	}
}

func (p *Processor) process(ctx context.Context, id int, query string, s models.SourceStatus, onUpdate func(models.SourceStatus)) models.SourceStatus {
	if checkpoint(ctx) != nil {
		return s
	}
	url := s.Source.URL
	if s.Source.Kind == models.KindImage {
		url = s.Source.ImageURL
	}
	logger := p.logger.With("worker_id", id, "source", s.Source.SourceNumber, "url", url)

	s.Status = models.StatusInProgress
	if onUpdate != nil {
		onUpdate(s)
	}
	logger.Debug("processing source")

	var (
		summary string
		err     error
	)
	if s.Source.Kind == models.KindImage {
		summary, err = p.describeImage(ctx, s.Source)
	} else {
		summary, err = p.summarizePage(ctx, query, s.Source)
	}
	if isCancelled(ctx, err) {
		logger.Debug("source processing cancelled")
		return s
	}

	if err != nil {
		s.Status = models.StatusError
		s.Error = err.Error()
		logger.Warn("source processing failed", "error", err)
	} else {
		s.Status = models.StatusSuccess
		s.Source.Summary = summary
		logger.Debug("source processed", "summary_chars", len(summary))
	}
	metrics.SourcesProcessed.WithLabelValues(string(s.Source.Kind), string(s.Status)).Inc()
	if onUpdate != nil {
		onUpdate(s)
	}
	return s
}

// summarizePage fetches the page, summarizes up to MaxChunks chunks concurrently
// and combines them in a second pass. Both passes share SummarizeTimeout.
func (p *Processor) summarizePage(ctx context.Context, query string, src models.Source) (string, error) {
	text, err := p.caps.FetchText(ctx, src.URL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}
	chunks := chunkText(text, p.cfg.ChunkSize, p.cfg.MaxChunks)
	if len(chunks) == 0 {
		return "", errors.New("page has no text")
	}

	sctx, cancel := withTimeout(ctx, p.cfg.SummarizeTimeout)
	defer cancel()

	partials := make([]string, len(chunks))
	errs := make([]error, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			partials[i], errs[i] = p.caps.Summarize(sctx, gateway.SummarizeRequest{
				Query:     query,
				Text:      chunk,
				Pass:      gateway.PassChunk,
				MaxTokens: p.cfg.ChunkTokens,
			})
		}(i, chunk)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return "", p.timeoutError(ctx, sctx, "summarization", p.cfg.SummarizeTimeout, err)
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	summary, err := p.caps.Summarize(sctx, gateway.SummarizeRequest{
		Query:     query,
		Text:      strings.Join(partials, "\n\n"),
		Pass:      gateway.PassCombine,
		MaxTokens: p.cfg.SummaryTokens,
	})
	if err != nil {
		return "", p.timeoutError(ctx, sctx, "summarization", p.cfg.SummarizeTimeout, err)
	}
	if summary = strings.TrimSpace(summary); summary == "" {
		return "", errors.New("summary is empty")
	}
	return summary, nil
}

func (p *Processor) describeImage(ctx context.Context, src models.Source) (string, error) {
	data, mime, err := p.caps.FetchImageBytes(ctx, src.ImageURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	dctx, cancel := withTimeout(ctx, p.cfg.DescribeTimeout)
	defer cancel()
	desc, err := p.caps.DescribeImage(dctx, src.Title, data, mime)
	if err != nil {
		return "", p.timeoutError(ctx, dctx, "image description", p.cfg.DescribeTimeout, err)
	}
	if desc = strings.TrimSpace(desc); desc == "" {
		return "", errors.New("image description is empty")
	}
	return desc, nil
}

// timeoutError rewrites failures caused by the stage deadline. Turn cancellation
// passes through unchanged.
func (p *Processor) timeoutError(parent, stage context.Context, what string, d time.Duration, err error) error {
	if checkpoint(parent) != nil {
		return gateway.ErrCancelled
	}
	if errors.Is(stage.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", what, d)
	}
	return fmt.Errorf("%s failed: %w", what, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// chunkText splits text into chunks of at most size runes and keeps the first limit.
func chunkText(text string, size, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		if limit > 0 && len(chunks) == limit {
			break
		}
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
