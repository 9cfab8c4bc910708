package models

// ModelInfo describes one warehouse ML model backing the predictive category.
type ModelInfo struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	Algorithm string            `json:"algorithm"`
	Purpose   string            `json:"purpose"`
	Features  []string          `json:"features"`
	Output    string            `json:"output"`
	Details   map[string]string `json:"details,omitempty"`
}

// DefaultModelCatalog returns the two models the predictive queries run against.
func DefaultModelCatalog() []ModelInfo {
	return []ModelInfo{
		{
			Name:      "anomaly_model",
			Kind:      "anomaly_detection",
			Algorithm: "K-Means clustering (unsupervised)",
			Purpose:   "Identifies source IPs whose authentication behaviour sits far from every learned cluster.",
			Features:  []string{"total_attempts", "failed_attempts", "unique_users", "brute_force_errors"},
			Output:    "nearest centroid id and distance (anomaly_score)",
			Details: map[string]string{
				"clusters": "3 (normal, suspicious, critical)",
				"distance": "euclidean",
			},
		},
		{
			Name:      "risk_model",
			Kind:      "risk_prediction",
			Algorithm: "Logistic regression (supervised)",
			Purpose:   "Predicts whether an (ip, principal) pair is high risk from its authentication pattern.",
			Features:  []string{"total_attempts", "failures", "failure_rate"},
			Output:    "predicted_high_risk label and probability (risk_score, 0.0-1.0)",
			Details: map[string]string{
				"label": "more than 10 failures marks a pair high risk in training data",
			},
		},
	}
}
