package external

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTextGenerator is a mock implementation of the TextGenerator interface
type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]string)}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key, text string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = text
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestNarrativeService_Generate(t *testing.T) {
	summary := elderlySummary(t)
	prompt := BuildPrompt(summary)

	t.Run("generator success is cached", func(t *testing.T) {
		gen := new(MockTextGenerator)
		gen.On("Generate", mock.Anything, prompt).Return("Plain words.", nil).Once()

		svc := NewNarrativeService(gen, newMemoryCache(), NarrativeOptions{Model: "m", Logger: quietLogger()})

		first := svc.Generate(context.Background(), summary)
		assert.Equal(t, Narrative{Text: "Plain words.", Source: SourceLLM}, first)

		second := svc.Generate(context.Background(), summary)
		assert.Equal(t, Narrative{Text: "Plain words.", Source: SourceCache}, second)

		gen.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("generator failure falls back to template", func(t *testing.T) {
		gen := new(MockTextGenerator)
		gen.On("Generate", mock.Anything, prompt).Return("", errors.New("connection refused"))

		svc := NewNarrativeService(gen, nil, NarrativeOptions{Logger: quietLogger()})

		got := svc.Generate(context.Background(), summary)
		assert.Equal(t, SourceTemplate, got.Source)
		assert.Equal(t, FallbackNarrative(summary), got.Text)
	})

	t.Run("slow generator is cut off by timeout", func(t *testing.T) {
		gen := new(MockTextGenerator)
		gen.On("Generate", mock.Anything, prompt).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return("", context.DeadlineExceeded)

		svc := NewNarrativeService(gen, nil, NarrativeOptions{Timeout: 20 * time.Millisecond, Logger: quietLogger()})

		start := time.Now()
		got := svc.Generate(context.Background(), summary)
		assert.Equal(t, SourceTemplate, got.Source)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("no generator configured", func(t *testing.T) {
		svc := NewNarrativeService(nil, nil, NarrativeOptions{})
		got := svc.Generate(context.Background(), summary)
		assert.Equal(t, SourceTemplate, got.Source)
	})

	t.Run("nil service", func(t *testing.T) {
		var svc *NarrativeService
		assert.Equal(t, SourceTemplate, svc.Generate(context.Background(), summary).Source)
	})
}

func TestResilientTextGenerator_OpensAfterFailures(t *testing.T) {
	gen := new(MockTextGenerator)
	gen.On("Generate", mock.Anything, "p").Return("", errors.New("503"))

	resilient := NewResilientTextGenerator(gen, CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute}, quietLogger())

	for i := 0; i < 2; i++ {
		_, err := resilient.Generate(context.Background(), "p")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrGeneratorUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, resilient.State())

	_, err := resilient.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)
	gen.AssertNumberOfCalls(t, "Generate", 2)
}

func TestResilientTextGenerator_PassesThrough(t *testing.T) {
	gen := new(MockTextGenerator)
	gen.On("Generate", mock.Anything, "p").Return("ok", nil)

	resilient := NewResilientTextGenerator(gen, CircuitBreakerConfig{}, nil)

	text, err := resilient.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, uint32(1), resilient.Counts().TotalSuccesses)
}

func TestNarrativeKey(t *testing.T) {
	a := NarrativeKey("model-a", "prompt")
	assert.Equal(t, a, NarrativeKey("model-a", "prompt"))
	assert.NotEqual(t, a, NarrativeKey("model-b", "prompt"))
	assert.NotEqual(t, a, NarrativeKey("model-a", "prompt2"))
	assert.Len(t, a, len("narrative:")+64)
}
