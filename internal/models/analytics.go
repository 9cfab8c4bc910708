package models

// AuthStatus is the outcome recorded on an authentication attempt.
type AuthStatus string

const (
	AuthStatusSuccess AuthStatus = "success"
	AuthStatusFailure AuthStatus = "failure"
)

// BruteForceErrorCode is the authentication error code counted as a brute-force
// signal by the diagnostic rollups and the ML feature queries.
const BruteForceErrorCode int64 = 50126

// AuthEvent is one authentication attempt as stored in the warehouse log table.
// The service never writes these.
type AuthEvent struct {
	Timestamp         Timestamp  `json:"timestamp"`
	IPAddress         string     `json:"ipAddress"`
	UserPrincipalName string     `json:"userPrincipalName"`
	Status            AuthStatus `json:"status"`
	ErrorCode         int64      `json:"errorCode"`
	LogType           string     `json:"logType"`
}

// Summary aggregates the whole log table.
type Summary struct {
	TotalEvents    int64   `json:"total_events"`
	TotalFailures  int64   `json:"total_failures"`
	TotalSuccesses int64   `json:"total_successes"`
	UniqueIPs      int64   `json:"unique_ips"`
	UniqueUsers    int64   `json:"unique_users"`
	FailureRate    float64 `json:"failure_rate"`
}

// FailedLogin is a repeated-failure source for a single principal.
type FailedLogin struct {
	IPAddress         string    `json:"ipAddress"`
	UserPrincipalName string    `json:"userPrincipalName"`
	FailedAttempts    int64     `json:"failed_attempts"`
	FirstSeen         Timestamp `json:"first_seen"`
	LastSeen          Timestamp `json:"last_seen"`
}

// TimelineBucket counts events within one hour.
type TimelineBucket struct {
	Hour        Timestamp `json:"hour"`
	TotalEvents int64     `json:"total_events"`
	Failures    int64     `json:"failures"`
	Successes   int64     `json:"successes"`
}

// DescriptiveResult is the merged payload of the descriptive category.
type DescriptiveResult struct {
	Summary   Summary          `json:"summary"`
	TopFailed []FailedLogin    `json:"topFailed"`
	Timeline  []TimelineBucket `json:"timeline"`
}

// DiagnosticRow attributes failures inside spike hours to a source pair.
type DiagnosticRow struct {
	IPAddress         string  `json:"ipAddress"`
	UserPrincipalName string  `json:"userPrincipalName"`
	FailureCount      int64   `json:"failure_count"`
	ErrorCodes        []int64 `json:"error_codes"`
	LogTypes          string  `json:"log_types"`
}

// Anomaly is a k-means inference result for one source IP. AnomalyScore is the
// distance to the nearest centroid and has no upper bound.
type Anomaly struct {
	IPAddress      string  `json:"ipAddress"`
	TotalAttempts  int64   `json:"total_attempts"`
	FailedAttempts int64   `json:"failed_attempts"`
	Cluster        int64   `json:"cluster"`
	AnomalyScore   float64 `json:"anomaly_score"`
}

// RiskPrediction is a logistic-regression inference result. RiskScore is a
// probability in [0, 1].
type RiskPrediction struct {
	IPAddress         string  `json:"ipAddress"`
	UserPrincipalName string  `json:"userPrincipalName"`
	TotalAttempts     int64   `json:"total_attempts"`
	Failures          int64   `json:"failures"`
	PredictedHighRisk bool    `json:"predicted_high_risk"`
	RiskScore         float64 `json:"risk_score"`
}

// PredictiveResult is the merged payload of the predictive category.
type PredictiveResult struct {
	Anomalies []Anomaly        `json:"anomalies"`
	Risks     []RiskPrediction `json:"risks"`
}

// ActivityRollup is the per (ip, principal) input to prescriptive scoring.
type ActivityRollup struct {
	IPAddress          string
	UserPrincipalName  string
	TotalEvents        int64
	AuthFailures       int64
	BruteForceAttempts int64
	LastActivity       Timestamp
}

// Recommendation is a scored prescriptive row. RiskScore is an integer 0-100,
// not the predictive probability.
type Recommendation struct {
	IPAddress              string    `json:"ipAddress"`
	UserPrincipalName      string    `json:"userPrincipalName"`
	TotalEvents            int64     `json:"total_events"`
	AuthFailures           int64     `json:"auth_failures"`
	BruteForceAttempts     int64     `json:"brute_force_attempts"`
	LastActivity           Timestamp `json:"last_activity"`
	RiskScore              int       `json:"risk_score"`
	RecommendedAction      string    `json:"recommended_action"`
	TriggerAutomatedAction bool      `json:"trigger_automated_action"`
}
