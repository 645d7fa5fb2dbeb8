package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/health-risk-engine/internal/domain"
	"github.com/health-risk-engine/pkg/riskmodel"
	"github.com/health-risk-engine/pkg/simulation"
)

// SimulationParams are the caller-tunable knobs of a simulation. Zero values
// select the engine defaults. A nil Seed draws a fresh one, which is reported
// back in the result.
type SimulationParams struct {
	Months int
	Paths  int
	Seed   *uint64
}

// VitalTrajectory is the projection of one vital sign.
type VitalTrajectory struct {
	Feature    riskmodel.Feature            `json:"feature"`
	Label      string                       `json:"label"`
	Current    float64                      `json:"current"`
	Signal     simulation.TemporalSignal    `json:"signal"`
	Trajectory []simulation.TrajectoryPoint `json:"trajectory"`
}

// RiskTrajectory is the projection of one condition's risk percentage.
type RiskTrajectory struct {
	Condition   riskmodel.Condition          `json:"condition"`
	DisplayName string                       `json:"display_name"`
	CurrentRisk float64                      `json:"current_risk"`
	Signal      simulation.TemporalSignal    `json:"signal"`
	Trajectory  []simulation.TrajectoryPoint `json:"trajectory"`
}

// SimulationResult is the longitudinal payload for one patient.
type SimulationResult struct {
	PatientID     string                       `json:"patient_id"`
	Months        int                          `json:"months"`
	Paths         int                          `json:"paths"`
	Seed          uint64                       `json:"seed"`
	Vitals        []VitalTrajectory            `json:"vitals"`
	Risks         []RiskTrajectory             `json:"risks"`
	Interventions []simulation.TreatmentOption `json:"interventions"`
	GeneratedAt   time.Time                    `json:"generated_at"`
}

// simulatedVitals are the measured series the simulator projects.
var simulatedVitals = []riskmodel.Feature{
	riskmodel.FeatureSystolicBP,
	riskmodel.FeatureDiastolicBP,
	riskmodel.FeatureHeartRate,
	riskmodel.FeatureBloodGlucose,
	riskmodel.FeatureOxygenSaturation,
}

func (s *RiskService) simulationParams(p SimulationParams) (months, paths int, seed uint64, err error) {
	months = p.Months
	if months == 0 {
		months = s.engine.DefaultMonths
	}
	if months < 1 || (s.engine.MaxMonths > 0 && months > s.engine.MaxMonths) {
		return 0, 0, 0, domain.NewValidationError("months",
			fmt.Sprintf("must be between 1 and %d", s.engine.MaxMonths), p.Months)
	}

	paths = p.Paths
	if paths == 0 {
		paths = s.engine.DefaultPaths
	}
	if paths < 1 || (s.engine.MaxPaths > 0 && paths > s.engine.MaxPaths) {
		return 0, 0, 0, domain.NewValidationError("paths",
			fmt.Sprintf("must be between 1 and %d", s.engine.MaxPaths), p.Paths)
	}

	if p.Seed != nil {
		seed = *p.Seed
	} else {
		seed = rand.Uint64()
	}
	return months, paths, seed, nil
}

// Simulate projects the patient's vitals and condition risks over the
// requested horizon and ranks interventions against the current risks.
// Each projection gets its own simulator derived from the seed, so results
// are reproducible for a given seed and history.
func (s *RiskService) Simulate(ctx context.Context, patientID string, params SimulationParams) (*SimulationResult, error) {
	start := time.Now()
	defer s.metrics.ObserveSince("simulate", start)

	months, paths, seed, err := s.simulationParams(params)
	if err != nil {
		return nil, err
	}

	data, err := s.loadPatient(ctx, patientID, true)
	if err != nil {
		return nil, err
	}

	features := riskmodel.BuildFeatures(s.model, data.profile, data.vitals)
	stream := seed

	vitals := make([]VitalTrajectory, 0, len(simulatedVitals))
	for _, f := range simulatedVitals {
		series := vitalSeries(data.history, f)
		signal := simulation.AnalyzeSeries(series)
		current := features.Value(f)

		sim := simulation.NewSeededSimulator(stream, paths)
		stream++

		vitals = append(vitals, VitalTrajectory{
			Feature:    f,
			Label:      f.Label(),
			Current:    current,
			Signal:     signal,
			Trajectory: sim.Project(current, signal.Trend, signal.Volatility, months),
		})
	}

	current := make(map[riskmodel.Condition]float64, len(s.model.Conditions))
	risks := make([]RiskTrajectory, 0, len(s.model.Conditions))
	for i := range s.model.Conditions {
		m := &s.model.Conditions[i]
		risk := riskmodel.ScoreCondition(s.model, m, features)
		current[m.Condition] = risk

		signal := simulation.AnalyzeSeries(s.riskSeries(m, data))

		sim := simulation.NewSeededSimulator(stream, paths)
		stream++

		risks = append(risks, RiskTrajectory{
			Condition:   m.Condition,
			DisplayName: m.DisplayName,
			CurrentRisk: risk,
			Signal:      signal,
			Trajectory:  sim.ProjectRisk(risk, signal.Trend, signal.Volatility, months),
		})
	}

	result := &SimulationResult{
		PatientID:     patientID,
		Months:        months,
		Paths:         paths,
		Seed:          seed,
		Vitals:        vitals,
		Risks:         risks,
		Interventions: simulation.RankInterventions(current, s.catalog),
		GeneratedAt:   time.Now().UTC(),
	}

	if s.metrics != nil {
		s.metrics.Simulations.Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"patient_id": patientID,
		"months":     months,
		"paths":      paths,
		"seed":       seed,
		"readings":   len(data.history),
		"duration":   time.Since(start).String(),
	}).Info("Risk simulation completed")

	return result, nil
}

// vitalSeries extracts the recorded values of one vital, keeping the
// most-recent-first order and skipping readings where it was not measured or
// holds a value the model cannot use.
func vitalSeries(readings []riskmodel.VitalSigns, f riskmodel.Feature) []float64 {
	series := make([]float64, 0, len(readings))
	for _, r := range readings {
		var v *float64
		switch f {
		case riskmodel.FeatureSystolicBP:
			v = r.SystolicBP
		case riskmodel.FeatureDiastolicBP:
			v = r.DiastolicBP
		case riskmodel.FeatureHeartRate:
			v = r.HeartRate
		case riskmodel.FeatureBloodGlucose:
			v = r.BloodGlucose
		case riskmodel.FeatureOxygenSaturation:
			v = r.OxygenSaturation
		}
		if riskmodel.Usable(v) {
			series = append(series, *v)
		}
	}
	return series
}

// riskSeries scores the condition at every historical reading, so the risk
// trend reflects how the vitals have moved.
func (s *RiskService) riskSeries(m *riskmodel.ConditionModel, data *patientData) []float64 {
	series := make([]float64, 0, len(data.history))
	for i := range data.history {
		features := riskmodel.BuildFeatures(s.model, data.profile, &data.history[i])
		series = append(series, riskmodel.ScoreCondition(s.model, m, features))
	}
	return series
}
