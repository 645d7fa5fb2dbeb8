package riskmodel

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Profile is the demographic part of a patient record. Nil pointers mean the
// value was never recorded.
type Profile struct {
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	HeightCm    *float64   `json:"height_cm,omitempty"`
	WeightKg    *float64   `json:"weight_kg,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	Smoker      *bool      `json:"smoker,omitempty"`
}

// VitalSigns is the latest measured set of vitals.
type VitalSigns struct {
	RecordedAt       time.Time `json:"recorded_at"`
	SystolicBP       *float64  `json:"systolic_bp,omitempty"`
	DiastolicBP      *float64  `json:"diastolic_bp,omitempty"`
	HeartRate        *float64  `json:"heart_rate,omitempty"`
	BloodGlucose     *float64  `json:"blood_glucose,omitempty"`
	OxygenSaturation *float64  `json:"oxygen_saturation,omitempty"`
}

// PatientFeatures is the complete, gap-filled model input.
type PatientFeatures struct {
	Age              float64 `json:"age"`
	BMI              float64 `json:"bmi"`
	SystolicBP       float64 `json:"systolic_bp"`
	DiastolicBP      float64 `json:"diastolic_bp"`
	HeartRate        float64 `json:"heart_rate"`
	BloodGlucose     float64 `json:"blood_glucose"`
	Weight           float64 `json:"weight"`
	Height           float64 `json:"height"`
	Smoking          float64 `json:"smoking"`
	OxygenSaturation float64 `json:"oxygen_saturation"`
	Gender           string  `json:"gender,omitempty"`
}

// PopulationFeatures returns the feature vector made only of population means.
func PopulationFeatures(cfg *ModelConfig) PatientFeatures {
	return PatientFeatures{
		Age:              cfg.Mean(FeatureAge),
		BMI:              cfg.Mean(FeatureBMI),
		SystolicBP:       cfg.Mean(FeatureSystolicBP),
		DiastolicBP:      cfg.Mean(FeatureDiastolicBP),
		HeartRate:        cfg.Mean(FeatureHeartRate),
		BloodGlucose:     cfg.Mean(FeatureBloodGlucose),
		Weight:           cfg.Mean(FeatureWeight),
		Height:           cfg.Mean(FeatureHeight),
		Smoking:          cfg.Mean(FeatureSmoking),
		OxygenSaturation: cfg.Mean(FeatureOxygenSaturation),
	}
}

// BuildFeatures builds features against the current date.
func BuildFeatures(cfg *ModelConfig, profile *Profile, vitals *VitalSigns) PatientFeatures {
	return BuildFeaturesAt(time.Now(), cfg, profile, vitals)
}

// BuildFeaturesAt converts raw records into a complete feature vector. It
// never fails: every missing source value takes its population mean.
//
// Age is the plain difference of calendar years between now and the date of
// birth. Month and day are not taken into account.
func BuildFeaturesAt(now time.Time, cfg *ModelConfig, profile *Profile, vitals *VitalSigns) PatientFeatures {
	f := PopulationFeatures(cfg)

	if profile != nil {
		if profile.DateOfBirth != nil {
			f.Age = float64(now.Year() - profile.DateOfBirth.Year())
		}
		if Usable(profile.WeightKg) {
			f.Weight = *profile.WeightKg
		}
		if Usable(profile.HeightCm) {
			f.Height = *profile.HeightCm
		}
		if Usable(profile.WeightKg) && Usable(profile.HeightCm) {
			if b := bmi(*profile.WeightKg, *profile.HeightCm); finite(b) {
				f.BMI = b
			}
		}
		if profile.Smoker != nil && *profile.Smoker {
			f.Smoking = 1
		} else if profile.Smoker != nil {
			f.Smoking = 0
		}
		f.Gender = profile.Gender
	}

	if vitals != nil {
		if Usable(vitals.SystolicBP) {
			f.SystolicBP = *vitals.SystolicBP
		}
		if Usable(vitals.DiastolicBP) {
			f.DiastolicBP = *vitals.DiastolicBP
		}
		if Usable(vitals.HeartRate) {
			f.HeartRate = *vitals.HeartRate
		}
		if Usable(vitals.BloodGlucose) {
			f.BloodGlucose = *vitals.BloodGlucose
		}
		if Usable(vitals.OxygenSaturation) {
			f.OxygenSaturation = *vitals.OxygenSaturation
		}
	}

	return f
}

// Usable reports whether a recorded measurement can feed the model: present,
// finite and positive.
func Usable(v *float64) bool {
	return v != nil && *v > 0 && finite(*v)
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func bmi(weightKg, heightCm float64) float64 {
	m := heightCm / 100
	return weightKg / (m * m)
}

// Value returns the value of a named feature.
func (p PatientFeatures) Value(f Feature) float64 {
	switch f {
	case FeatureAge:
		return p.Age
	case FeatureBMI:
		return p.BMI
	case FeatureSystolicBP:
		return p.SystolicBP
	case FeatureDiastolicBP:
		return p.DiastolicBP
	case FeatureHeartRate:
		return p.HeartRate
	case FeatureBloodGlucose:
		return p.BloodGlucose
	case FeatureWeight:
		return p.Weight
	case FeatureHeight:
		return p.Height
	case FeatureSmoking:
		return p.Smoking
	case FeatureOxygenSaturation:
		return p.OxygenSaturation
	default:
		return 0
	}
}

// With returns a copy with one feature replaced.
func (p PatientFeatures) With(f Feature, v float64) PatientFeatures {
	switch f {
	case FeatureAge:
		p.Age = v
	case FeatureBMI:
		p.BMI = v
	case FeatureSystolicBP:
		p.SystolicBP = v
	case FeatureDiastolicBP:
		p.DiastolicBP = v
	case FeatureHeartRate:
		p.HeartRate = v
	case FeatureBloodGlucose:
		p.BloodGlucose = v
	case FeatureWeight:
		p.Weight = v
	case FeatureHeight:
		p.Height = v
	case FeatureSmoking:
		p.Smoking = v
	case FeatureOxygenSaturation:
		p.OxygenSaturation = v
	}
	return p
}

// ApplyOverrides merges what-if values over the feature vector field by
// field. Keys that do not name a feature are returned sorted and otherwise
// ignored. Overriding weight or height recomputes BMI unless BMI itself is
// overridden. A non-finite value, or a body size whose BMI is not finite, is
// rejected.
func ApplyOverrides(p PatientFeatures, overrides map[string]float64) (PatientFeatures, []string, error) {
	var ignored []string
	_, bmiSet := overrides[string(FeatureBMI)]
	bodyChanged := false

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := overrides[key]
		f, ok := ParseFeature(key)
		if !ok {
			ignored = append(ignored, key)
			continue
		}
		if !finite(v) {
			return p, ignored, fmt.Errorf("override %s: value must be finite", key)
		}
		if f == FeatureSmoking {
			if v > 0 {
				v = 1
			} else {
				v = 0
			}
		}
		p = p.With(f, v)
		if f == FeatureWeight || f == FeatureHeight {
			bodyChanged = true
		}
	}

	if bodyChanged && !bmiSet && p.Weight > 0 && p.Height > 0 {
		b := bmi(p.Weight, p.Height)
		if !finite(b) {
			return p, ignored, fmt.Errorf("override weight/height: resulting BMI is not finite")
		}
		p.BMI = b
	}

	return p, ignored, nil
}
