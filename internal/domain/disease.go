package domain

import "sort"

// AgeGroupFeature is the derived age-band column shared by every disease model.
const AgeGroupFeature = "AgeGroup"

// AgeColumn is the numeric age column of the training data.
const AgeColumn = "Age"

// Disease is a screened condition and the ordered list of answers relevant to it.
// The feature order is the order attributions are reported in.
type Disease struct {
	Name     string   `json:"name"`
	Features []string `json:"features"`
}

// HasFeature reports whether the disease declares the feature.
func (d Disease) HasFeature(name string) bool {
	for _, f := range d.Features {
		if f == name {
			return true
		}
	}
	return false
}

// Catalog returns the screened diseases in report order.
func Catalog() []Disease {
	return []Disease{
		{Name: "Diabetes", Features: []string{"SugarLevel", "FrequentUrination", "ExcessiveThirst", "FamilyHistoryDiabetes", "WeightLoss", "Fatigue"}},
		{Name: "HeartDisease", Features: []string{"ChestPain", "BloodPressure", "Smoking", "FamilyHistoryHeart", "Alcohol"}},
		{Name: "Hypertension", Features: []string{"BloodPressure", "SaltIntake", "StressLevel", "Headache", "PhysicalActivity"}},
		{Name: "CKD", Features: []string{"SwellingAnkles", "FrequentUrination", "Fatigue", "BloodPressure", "PaleSkin"}},
		{Name: "Asthma", Features: []string{"Wheezing", "Breathlessness", "Cough", "Smoking", "Fatigue"}},
		{Name: "Dyslipidemia", Features: []string{"DietQuality", "PhysicalActivity", "Smoking", "Alcohol", "BloodPressure", "StressLevel"}},
		{Name: "Anemia", Features: []string{"PaleSkin", "Fatigue", "WeightLoss", "Dizziness", "LossOfAppetite"}},
	}
}

// FeatureNames returns the distinct features declared across diseases, sorted.
func FeatureNames(diseases []Disease) []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range diseases {
		for _, f := range d.Features {
			if !seen[f] {
				seen[f] = true
				names = append(names, f)
			}
		}
	}
	sort.Strings(names)
	return names
}

// DiseaseNames returns the disease names in catalog order.
func DiseaseNames(diseases []Disease) []string {
	names := make([]string, len(diseases))
	for i, d := range diseases {
		names[i] = d.Name
	}
	return names
}
