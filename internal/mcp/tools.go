package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/health-risk-engine/internal/history"
	"github.com/health-risk-engine/pkg/external"
	"github.com/health-risk-engine/pkg/riskmodel"
	"github.com/health-risk-engine/pkg/simulation"
)

const (
	defaultMonths       = 12
	maxMonths           = 60
	maxPaths            = 10000
	maxTrend            = 10
	maxVolatility       = 10
	defaultHistoryLimit = 20
)

// errInvalidParams marks caller mistakes, as opposed to internal failures.
var errInvalidParams = errors.New("invalid parameters")

func invalidParams(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidParams, fmt.Sprintf(format, args...))
}

// toolFunc is the body of a tool: raw JSON arguments in, a JSON-encodable
// result out.
type toolFunc func(ctx context.Context, args json.RawMessage) (any, error)

type toolDefinition struct {
	tool *mcp.Tool
	run  toolFunc
}

func (s *Server) toolDefinitions() []toolDefinition {
	return []toolDefinition{
		{
			tool: &mcp.Tool{
				Name:        "assess_health_risk",
				Description: "Score cardiovascular and diabetes risk from a patient profile and vitals, with feature attributions, sensitivity curves, counterfactuals, a waterfall and a plain-language narrative. Optional what_if overrides run a hypothetical scenario.",
				InputSchema: assessSchema(),
			},
			run: s.assessHealthRisk,
		},
		{
			tool: &mcp.Tool{
				Name:        "simulate_trajectory",
				Description: "Monte Carlo projection of a vital sign or risk percentage over the coming months. Trend and volatility come from a history series (most recent first) unless given explicitly.",
				InputSchema: simulateSchema(),
			},
			run: s.simulateTrajectory,
		},
		{
			tool: &mcp.Tool{
				Name:        "rank_interventions",
				Description: "Rank lifestyle interventions by expected benefit for the given risk percentages per condition.",
				InputSchema: rankSchema(),
			},
			run: s.rankInterventions,
		},
		{
			tool: &mcp.Tool{
				Name:        "assessment_history",
				Description: "List stored risk assessments for a patient, most recent first.",
				InputSchema: historySchema(),
			},
			run: s.assessmentHistory,
		},
	}
}

// registerTools registers every tool with the MCP SDK.
func (s *Server) registerTools() {
	definitions := s.toolDefinitions()
	for _, def := range definitions {
		s.mcpServer.AddTool(def.tool, s.toolHandler(def.tool.Name, def.run))
		s.logger.WithField("tool_name", def.tool.Name).Debug("Registered MCP tool")
	}
	s.logger.WithField("tool_count", len(definitions)).Info("Successfully registered all tools")
}

func (s *Server) toolHandler(name string, run toolFunc) func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		return s.invoke(ctx, name, run, args), nil
	}
}

// invoke runs a tool and converts its outcome into a call result. Failures
// are reported in-band with IsError so the client can show them.
func (s *Server) invoke(ctx context.Context, name string, run toolFunc, args json.RawMessage) *mcp.CallToolResult {
	start := time.Now()
	logger := s.logger.WithField("tool_name", name)

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := run(ctx, args)
	if err != nil {
		if errors.Is(err, errInvalidParams) {
			logger.WithError(err).Warn("Tool called with invalid parameters")
		} else {
			logger.WithError(err).Error("Tool execution failed")
		}
		return createErrorResult(err.Error())
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.WithError(err).Error("Failed to marshal tool result")
		return createErrorResult(fmt.Sprintf("failed to marshal result: %v", err))
	}

	logger.WithField("duration", time.Since(start).String()).Debug("Tool call completed")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// createErrorResult creates an error result.
func createErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %s", message)}},
		IsError: true,
	}
}

func decodeArgs(args json.RawMessage, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(args))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

type assessParams struct {
	PatientID string                `json:"patient_id,omitempty"`
	Age       *float64              `json:"age,omitempty"`
	Profile   *riskmodel.Profile    `json:"profile,omitempty"`
	Vitals    *riskmodel.VitalSigns `json:"vitals,omitempty"`
	WhatIf    map[string]float64    `json:"what_if,omitempty"`
}

type assessResult struct {
	PatientID        string                           `json:"patient_id,omitempty"`
	Features         riskmodel.PatientFeatures        `json:"features"`
	Conditions       []riskmodel.ConditionExplanation `json:"conditions"`
	Narrative        external.Narrative               `json:"narrative"`
	IgnoredOverrides []string                         `json:"ignored_overrides,omitempty"`
	WaterfallMode    riskmodel.WaterfallMode          `json:"waterfall_mode"`
	Recorded         bool                             `json:"recorded"`
	GeneratedAt      time.Time                        `json:"generated_at"`
}

func (s *Server) assessHealthRisk(ctx context.Context, args json.RawMessage) (any, error) {
	var params assessParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	features := riskmodel.BuildFeatures(s.model, params.Profile, params.Vitals)
	if params.Age != nil {
		if !finite(*params.Age) || *params.Age < 0 {
			return nil, invalidParams("age must be a non-negative number")
		}
		features = features.With(riskmodel.FeatureAge, *params.Age)
	}

	features, ignored, err := riskmodel.ApplyOverrides(features, params.WhatIf)
	if err != nil {
		return nil, invalidParams("what_if: %v", err)
	}

	explanations := riskmodel.Explain(s.model, features)
	narrative := s.narrator.Generate(ctx, external.Summarize(s.model, explanations))

	result := &assessResult{
		PatientID:        params.PatientID,
		Features:         features,
		Conditions:       explanations,
		Narrative:        narrative,
		IgnoredOverrides: ignored,
		WaterfallMode:    s.model.WaterfallMode,
		GeneratedAt:      time.Now().UTC(),
	}

	// Hypothetical scenarios and anonymous calls are not kept.
	if params.PatientID != "" && len(params.WhatIf) == 0 {
		result.Recorded = s.recordHistory(ctx, params.PatientID, narrative.Source, explanations)
	}

	fields := logrus.Fields{"patient_id": params.PatientID}
	for _, e := range explanations {
		fields[string(e.Risk.Condition)] = e.Risk.RiskPercentage
	}
	s.logger.WithFields(fields).Info("Risk assessment completed")

	return result, nil
}

// recordHistory stores one record per condition. A failing store only
// costs the history entry.
func (s *Server) recordHistory(ctx context.Context, patientID, source string, explanations []riskmodel.ConditionExplanation) bool {
	for _, record := range history.RecordsFromExplanations(patientID, source, explanations) {
		if err := s.history.Save(ctx, record); err != nil {
			s.logger.WithError(err).WithField("patient_id", patientID).Warn("Failed to record assessment history")
			return false
		}
	}
	return true
}

type simulateParams struct {
	Kind       string    `json:"kind,omitempty"`
	Current    *float64  `json:"current,omitempty"`
	Series     []float64 `json:"series,omitempty"`
	Trend      *float64  `json:"trend,omitempty"`
	Volatility *float64  `json:"volatility,omitempty"`
	Months     int       `json:"months,omitempty"`
	Paths      int       `json:"paths,omitempty"`
	Seed       *uint64   `json:"seed,omitempty"`
}

type simulateResult struct {
	Kind       string                       `json:"kind"`
	Current    float64                      `json:"current"`
	Signal     simulation.TemporalSignal    `json:"signal"`
	Months     int                          `json:"months"`
	Paths      int                          `json:"paths"`
	Seed       uint64                       `json:"seed"`
	Trajectory []simulation.TrajectoryPoint `json:"trajectory"`
}

const (
	kindVital = "vital"
	kindRisk  = "risk"
)

func (s *Server) simulateTrajectory(_ context.Context, args json.RawMessage) (any, error) {
	var params simulateParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	kind := strings.ToLower(strings.TrimSpace(params.Kind))
	if kind == "" {
		kind = kindVital
	}
	if kind != kindVital && kind != kindRisk {
		return nil, invalidParams("kind must be %q or %q", kindVital, kindRisk)
	}

	for _, v := range params.Series {
		if !finite(v) {
			return nil, invalidParams("series values must be finite")
		}
	}

	var current float64
	switch {
	case params.Current != nil:
		current = *params.Current
	case len(params.Series) > 0:
		current = params.Series[0]
	default:
		return nil, invalidParams("current or series is required")
	}
	if !finite(current) || current < 0 {
		return nil, invalidParams("current must be a non-negative number")
	}
	if kind == kindRisk && current > 100 {
		return nil, invalidParams("risk must be a percentage between 0 and 100")
	}

	signal := simulation.AnalyzeSeries(params.Series)
	if params.Trend != nil {
		signal.Trend = *params.Trend
	}
	if params.Volatility != nil {
		signal.Volatility = *params.Volatility
	}
	// Checked after the overrides so a series-derived signal is bounded too.
	if !finite(signal.Trend) || math.Abs(signal.Trend) > maxTrend {
		return nil, invalidParams("trend must be between -%d and %d", maxTrend, maxTrend)
	}
	if !finite(signal.Volatility) || signal.Volatility < 0 || signal.Volatility > maxVolatility {
		return nil, invalidParams("volatility must be between 0 and %d", maxVolatility)
	}

	months := params.Months
	if months == 0 {
		months = defaultMonths
	}
	if months < 1 || months > maxMonths {
		return nil, invalidParams("months must be between 1 and %d", maxMonths)
	}

	paths := params.Paths
	if paths == 0 {
		paths = s.config.SimulationPaths
	}
	if paths < 1 || paths > maxPaths {
		return nil, invalidParams("paths must be between 1 and %d", maxPaths)
	}

	seed := rand.Uint64()
	if params.Seed != nil {
		seed = *params.Seed
	}

	simulator := simulation.NewSeededSimulator(seed, paths)
	var trajectory []simulation.TrajectoryPoint
	if kind == kindRisk {
		trajectory = simulator.ProjectRisk(current, signal.Trend, signal.Volatility, months)
	} else {
		trajectory = simulator.Project(current, signal.Trend, signal.Volatility, months)
	}

	s.logger.WithFields(logrus.Fields{
		"kind":   kind,
		"months": months,
		"paths":  paths,
		"seed":   seed,
	}).Info("Trajectory simulation completed")

	return &simulateResult{
		Kind:       kind,
		Current:    current,
		Signal:     signal,
		Months:     months,
		Paths:      simulator.Paths(),
		Seed:       seed,
		Trajectory: trajectory,
	}, nil
}

type rankParams struct {
	Risks map[string]float64 `json:"risks"`
}

type rankResult struct {
	Options []simulation.TreatmentOption `json:"options"`
}

func (s *Server) rankInterventions(_ context.Context, args json.RawMessage) (any, error) {
	var params rankParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if len(params.Risks) == 0 {
		return nil, invalidParams("risks is required")
	}

	risks := make(map[riskmodel.Condition]float64, len(params.Risks))
	for name, value := range params.Risks {
		condition := riskmodel.Condition(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := s.model.Model(condition); !ok {
			return nil, invalidParams("unknown condition %q", name)
		}
		if !finite(value) || value < 0 || value > 100 {
			return nil, invalidParams("risk for %s must be between 0 and 100", name)
		}
		risks[condition] = value
	}

	return &rankResult{Options: simulation.RankInterventions(risks, s.catalog)}, nil
}

type historyParams struct {
	PatientID string `json:"patient_id"`
	Limit     int    `json:"limit,omitempty"`
}

type historyResult struct {
	PatientID string            `json:"patient_id"`
	Records   []*history.Record `json:"records"`
}

func (s *Server) assessmentHistory(ctx context.Context, args json.RawMessage) (any, error) {
	var params historyParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.PatientID) == "" {
		return nil, invalidParams("patient_id is required")
	}
	if params.Limit < 0 {
		return nil, invalidParams("limit must not be negative")
	}
	limit := params.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	records, err := s.history.ListByPatient(ctx, params.PatientID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if records == nil {
		records = []*history.Record{}
	}
	return &historyResult{PatientID: params.PatientID, Records: records}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func assessSchema() *jsonschema.Schema {
	number := func(description string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "number", Description: description}
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"patient_id": {Type: "string", Description: "Identifier to store the assessment under. Omit for an anonymous assessment."},
			"age":        number("Age in years; takes precedence over profile.date_of_birth"),
			"profile": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"date_of_birth": {Type: "string", Description: "RFC 3339 timestamp"},
					"height_cm":     number("Height in centimetres"),
					"weight_kg":     number("Weight in kilograms"),
					"gender":        {Type: "string"},
					"smoker":        {Type: "boolean"},
				},
			},
			"vitals": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"recorded_at":       {Type: "string", Description: "RFC 3339 timestamp"},
					"systolic_bp":       number("mmHg"),
					"diastolic_bp":      number("mmHg"),
					"heart_rate":        number("bpm"),
					"blood_glucose":     number("mg/dL"),
					"oxygen_saturation": number("%"),
				},
			},
			"what_if": {
				Type:                 "object",
				Description:          "Feature overrides such as {\"systolic_bp\": 120, \"smoking\": 0}. Unknown keys are ignored.",
				AdditionalProperties: &jsonschema.Schema{Type: "number"},
			},
		},
	}
}

func simulateSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"kind":       {Type: "string", Enum: []any{kindVital, kindRisk}, Description: "vital (default) or risk percentage"},
			"current":    {Type: "number", Description: "Current value; defaults to the first series entry"},
			"series":     {Type: "array", Items: &jsonschema.Schema{Type: "number"}, Description: "Historical values, most recent first"},
			"trend":      {Type: "number", Description: fmt.Sprintf("Relative trend over the horizon, -%d to %d; overrides the series", maxTrend, maxTrend)},
			"volatility": {Type: "number", Description: fmt.Sprintf("Coefficient of variation, 0-%d; overrides the series", maxVolatility)},
			"months":     {Type: "integer", Description: fmt.Sprintf("Horizon in months, 1-%d (default %d)", maxMonths, defaultMonths)},
			"paths":      {Type: "integer", Description: fmt.Sprintf("Monte Carlo paths, 1-%d", maxPaths)},
			"seed":       {Type: "integer", Description: "Seed for a reproducible run"},
		},
	}
}

func rankSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"risks": {
				Type:                 "object",
				Description:          "Risk percentage per condition, e.g. {\"cardiovascular\": 42, \"diabetes\": 18}",
				AdditionalProperties: &jsonschema.Schema{Type: "number"},
			},
		},
		Required: []string{"risks"},
	}
}

func historySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"patient_id": {Type: "string"},
			"limit":      {Type: "integer", Description: fmt.Sprintf("Maximum records (default %d)", defaultHistoryLimit)},
		},
		Required: []string{"patient_id"},
	}
}
