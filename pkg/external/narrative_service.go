package external

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Narrative is the prose explanation and where it came from.
type Narrative struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// NarrativeService turns a NarrativeSummary into prose. Generator and cache
// are optional; without a generator every call uses the template.
type NarrativeService struct {
	generator TextGenerator
	cache     NarrativeCache
	model     string
	timeout   time.Duration
	cacheTTL  time.Duration
	logger    *logrus.Logger
}

// NarrativeOptions configures a NarrativeService
type NarrativeOptions struct {
	Model    string
	Timeout  time.Duration
	CacheTTL time.Duration
	Logger   *logrus.Logger
}

// NewNarrativeService creates a narrative service
func NewNarrativeService(generator TextGenerator, cache NarrativeCache, opts NarrativeOptions) *NarrativeService {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &NarrativeService{
		generator: generator,
		cache:     cache,
		model:     opts.Model,
		timeout:   opts.Timeout,
		cacheTTL:  opts.CacheTTL,
		logger:    opts.Logger,
	}
}

// Generate never fails: generator errors, timeouts and an open breaker
// all degrade to FallbackNarrative.
func (s *NarrativeService) Generate(ctx context.Context, summary NarrativeSummary) Narrative {
	if s == nil || s.generator == nil || len(summary.Conditions) == 0 {
		return Narrative{Text: FallbackNarrative(summary), Source: SourceTemplate}
	}

	prompt := BuildPrompt(summary)
	key := NarrativeKey(s.model, prompt)

	if s.cache != nil {
		text, found, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.WithError(err).Debug("Narrative cache lookup failed")
		} else if found {
			return Narrative{Text: text, Source: SourceCache}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.generator.Generate(callCtx, prompt)
	if err != nil {
		s.logger.WithError(err).WithField("timeout", s.timeout.String()).Warn("Narrative generation failed, using template")
		return Narrative{Text: FallbackNarrative(summary), Source: SourceTemplate}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, text, s.cacheTTL); err != nil {
			s.logger.WithError(err).Debug("Failed to cache narrative")
		}
	}
	return Narrative{Text: text, Source: SourceLLM}
}
