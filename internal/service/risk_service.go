package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/health-risk-engine/internal/domain"
	"github.com/health-risk-engine/internal/history"
	"github.com/health-risk-engine/internal/metrics"
	"github.com/health-risk-engine/pkg/external"
	"github.com/health-risk-engine/pkg/riskmodel"
	"github.com/health-risk-engine/pkg/simulation"
)

// ErrDataSource marks failures of the patient data store itself, as
// opposed to missing records.
var ErrDataSource = errors.New("patient data source unavailable")

// Narrator turns an explanation summary into prose. It must not fail.
type Narrator interface {
	Generate(ctx context.Context, summary external.NarrativeSummary) external.Narrative
}

// RiskService orchestrates data access, the risk engine and its
// collaborators for one patient at a time.
type RiskService struct {
	repo     domain.PatientRepository
	model    *riskmodel.ModelConfig
	engine   domain.EngineConfig
	narrator Narrator
	history  history.Store
	metrics  *metrics.Metrics
	catalog  []simulation.Intervention
	logger   *logrus.Logger
}

// Options holds the optional collaborators of a RiskService.
type Options struct {
	Narrator Narrator
	History  history.Store
	Metrics  *metrics.Metrics
	Catalog  []simulation.Intervention
}

// NewRiskService creates a risk service
func NewRiskService(
	logger *logrus.Logger,
	repo domain.PatientRepository,
	model *riskmodel.ModelConfig,
	engine domain.EngineConfig,
	opts Options,
) *RiskService {
	catalog := opts.Catalog
	if catalog == nil {
		catalog = simulation.DefaultInterventions()
	}
	return &RiskService{
		repo:     repo,
		model:    model,
		engine:   engine,
		narrator: opts.Narrator,
		history:  opts.History,
		metrics:  opts.Metrics,
		catalog:  catalog,
		logger:   logger,
	}
}

// ExplainResult is the full explainability payload for one patient.
type ExplainResult struct {
	PatientID        string                                                    `json:"patient_id"`
	Features         riskmodel.PatientFeatures                                 `json:"features"`
	Conditions       []riskmodel.ConditionExplanation                          `json:"conditions"`
	GlobalImportance map[riskmodel.Condition][]riskmodel.GlobalImportanceEntry `json:"global_importance"`
	Narrative        external.Narrative                                        `json:"narrative"`
	IgnoredOverrides []string                                                  `json:"ignored_overrides,omitempty"`
	WaterfallMode    riskmodel.WaterfallMode                                   `json:"waterfall_mode"`
	GeneratedAt      time.Time                                                 `json:"generated_at"`
}

// patientData is what the repository knows about a patient. Any part
// may be nil or empty.
type patientData struct {
	profile *riskmodel.Profile
	vitals  *riskmodel.VitalSigns
	history []riskmodel.VitalSigns
}

// loadPatient issues the repository reads concurrently. Missing records are
// logged and left nil.
func (s *RiskService) loadPatient(ctx context.Context, patientID string, withHistory bool) (*patientData, error) {
	data := &patientData{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		profile, err := s.repo.GetProfile(gctx, patientID)
		if err != nil {
			return s.tolerateMissing(err, patientID, "profile")
		}
		data.profile = profile
		return nil
	})

	if withHistory {
		g.Go(func() error {
			readings, err := s.repo.GetVitalHistory(gctx, patientID, s.engine.VitalHistory)
			if err != nil {
				return s.tolerateMissing(err, patientID, "vital history")
			}
			data.history = readings
			if len(readings) > 0 {
				latest := readings[0]
				data.vitals = &latest
			}
			return nil
		})
	} else {
		g.Go(func() error {
			vitals, err := s.repo.GetLatestVitals(gctx, patientID)
			if err != nil {
				return s.tolerateMissing(err, patientID, "vital signs")
			}
			data.vitals = vitals
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *RiskService) tolerateMissing(err error, patientID, what string) error {
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithFields(logrus.Fields{
			"patient_id": patientID,
			"record":     what,
		}).Warn("Patient record missing, using population defaults")
		return nil
	}
	return fmt.Errorf("%w: loading %s: %v", ErrDataSource, what, err)
}

// Explain scores every condition for the patient, optionally after merging
// what-if overrides, and attaches attributions, the narrative and the
// global importance table.
func (s *RiskService) Explain(ctx context.Context, patientID string, overrides map[string]float64) (*ExplainResult, error) {
	start := time.Now()
	defer s.metrics.ObserveSince("explain", start)

	data, err := s.loadPatient(ctx, patientID, false)
	if err != nil {
		return nil, err
	}

	features := riskmodel.BuildFeatures(s.model, data.profile, data.vitals)
	features, ignored, err := riskmodel.ApplyOverrides(features, overrides)
	if err != nil {
		return nil, domain.NewValidationError("what_if", err.Error(), nil)
	}
	if len(ignored) > 0 {
		s.logger.WithFields(logrus.Fields{
			"patient_id": patientID,
			"ignored":    ignored,
		}).Debug("Ignoring unknown what-if keys")
	}

	explanations := s.explainConditions(features)

	narrative := s.narrate(ctx, explanations)

	result := &ExplainResult{
		PatientID:        patientID,
		Features:         features,
		Conditions:       explanations,
		GlobalImportance: riskmodel.GlobalImportanceTable(s.model),
		Narrative:        narrative,
		IgnoredOverrides: ignored,
		WaterfallMode:    s.model.WaterfallMode,
		GeneratedAt:      time.Now().UTC(),
	}

	// Only unmodified assessments go into the history.
	if len(overrides) == 0 {
		s.recordHistory(ctx, patientID, narrative.Source, explanations)
	}

	fields := logrus.Fields{"patient_id": patientID, "duration": time.Since(start).String()}
	for _, e := range explanations {
		fields[string(e.Risk.Condition)] = e.Risk.RiskPercentage
		if s.metrics != nil {
			s.metrics.Assessments.WithLabelValues(string(e.Risk.Condition), e.Risk.RiskLevel.String()).Inc()
		}
	}
	s.logger.WithFields(fields).Info("Risk explanation completed")

	return result, nil
}

// explainConditions runs each condition model concurrently. Output order
// follows the model configuration.
func (s *RiskService) explainConditions(features riskmodel.PatientFeatures) []riskmodel.ConditionExplanation {
	out := make([]riskmodel.ConditionExplanation, len(s.model.Conditions))
	var g errgroup.Group
	for i := range s.model.Conditions {
		g.Go(func() error {
			out[i] = riskmodel.ExplainCondition(s.model, &s.model.Conditions[i], features)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *RiskService) narrate(ctx context.Context, explanations []riskmodel.ConditionExplanation) external.Narrative {
	summary := external.Summarize(s.model, explanations)

	var narrative external.Narrative
	if s.narrator != nil {
		narrative = s.narrator.Generate(ctx, summary)
	} else {
		narrative = external.Narrative{Text: external.FallbackNarrative(summary), Source: external.SourceTemplate}
	}

	if s.metrics != nil {
		s.metrics.NarrativeSources.WithLabelValues(narrative.Source).Inc()
	}
	return narrative
}

func (s *RiskService) recordHistory(ctx context.Context, patientID, source string, explanations []riskmodel.ConditionExplanation) {
	if s.history == nil {
		return
	}
	for _, r := range history.RecordsFromExplanations(patientID, source, explanations) {
		if err := s.history.Save(ctx, r); err != nil {
			s.logger.WithError(err).WithField("patient_id", patientID).Warn("Failed to store assessment history")
			if s.metrics != nil {
				s.metrics.HistoryErrors.Inc()
			}
			return
		}
	}
}

// GlobalImportance returns the static population-level importance table.
func (s *RiskService) GlobalImportance() map[riskmodel.Condition][]riskmodel.GlobalImportanceEntry {
	return riskmodel.GlobalImportanceTable(s.model)
}

// History returns stored assessments for the patient, newest first. It is
// empty when history is disabled.
func (s *RiskService) History(ctx context.Context, patientID string, limit int) ([]*history.Record, error) {
	if s.history == nil {
		return []*history.Record{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	records, err := s.history.ListByPatient(ctx, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing history: %v", ErrDataSource, err)
	}
	if records == nil {
		records = []*history.Record{}
	}
	return records, nil
}
