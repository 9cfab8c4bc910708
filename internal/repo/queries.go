package repo

import "fmt"

// Tables holds fully qualified, backtick-quoted warehouse object paths. Values
// come from validated configuration; everything else is bound as a parameter.
type Tables struct {
	AuthLogs     string
	AnomalyModel string
	RiskModel    string
}

// NewTables builds object paths for project.dataset.
func NewTables(project, dataset, table, anomalyModel, riskModel string) Tables {
	qualify := func(name string) string {
		return fmt.Sprintf("`%s.%s.%s`", project, dataset, name)
	}
	return Tables{
		AuthLogs:     qualify(table),
		AnomalyModel: qualify(anomalyModel),
		RiskModel:    qualify(riskModel),
	}
}

func summarySQL(t Tables) string {
	return fmt.Sprintf(`
SELECT
  COUNT(*) AS total_events,
  COUNTIF(status = @failure_status) AS total_failures,
  COUNTIF(status = @success_status) AS total_successes,
  COUNT(DISTINCT ipAddress) AS unique_ips,
  COUNT(DISTINCT userPrincipalName) AS unique_users,
  ROUND(SAFE_DIVIDE(COUNTIF(status = @failure_status), COUNT(*)) * 100, 2) AS failure_rate
FROM %s`, t.AuthLogs)
}

func topFailedLoginsSQL(t Tables) string {
	return fmt.Sprintf(`
SELECT
  ipAddress,
  userPrincipalName,
  COUNT(*) AS failed_attempts,
  MIN(timestamp) AS first_seen,
  MAX(timestamp) AS last_seen
FROM %s
WHERE status = @failure_status
GROUP BY ipAddress, userPrincipalName
HAVING failed_attempts > @min_failed_attempts
ORDER BY failed_attempts DESC
LIMIT @row_limit`, t.AuthLogs)
}

func timelineSQL(t Tables) string {
	return fmt.Sprintf(`
SELECT
  TIMESTAMP_TRUNC(timestamp, HOUR) AS hour,
  COUNT(*) AS total_events,
  COUNTIF(status = @failure_status) AS failures,
  COUNTIF(status = @success_status) AS successes
FROM %s
GROUP BY hour
ORDER BY hour DESC
LIMIT @row_limit`, t.AuthLogs)
}

func diagnosticSQL(t Tables) string {
	return fmt.Sprintf(`
WITH failure_spikes AS (
  SELECT
    TIMESTAMP_TRUNC(timestamp, HOUR) AS hour,
    COUNT(*) AS failures
  FROM %[1]s
  WHERE status = @failure_status
  GROUP BY hour
  HAVING failures > @spike_threshold
)
SELECT
  l.ipAddress,
  l.userPrincipalName,
  COUNT(*) AS failure_count,
  ARRAY_AGG(DISTINCT l.errorCode IGNORE NULLS) AS error_codes,
  STRING_AGG(DISTINCT l.logType, ', ' LIMIT 3) AS log_types
FROM %[1]s l
INNER JOIN failure_spikes s ON TIMESTAMP_TRUNC(l.timestamp, HOUR) = s.hour
WHERE l.status = @failure_status
GROUP BY l.ipAddress, l.userPrincipalName
ORDER BY failure_count DESC
LIMIT @row_limit`, t.AuthLogs)
}

func anomalySQL(t Tables) string {
	return fmt.Sprintf(`
SELECT
  ipAddress,
  total_attempts,
  failed_attempts,
  CENTROID_ID AS cluster,
  NEAREST_CENTROIDS_DISTANCE[OFFSET(0)].DISTANCE AS anomaly_score
FROM ML.PREDICT(
  MODEL %s,
  (
    SELECT
      ipAddress,
      COUNT(*) AS total_attempts,
      COUNTIF(status = @failure_status) AS failed_attempts,
      COUNT(DISTINCT userPrincipalName) AS unique_users,
      COUNTIF(errorCode = @brute_force_code) AS brute_force_errors
    FROM %s
    GROUP BY ipAddress
  )
)
ORDER BY anomaly_score DESC
LIMIT @row_limit`, t.AnomalyModel, t.AuthLogs)
}

func riskSQL(t Tables) string {
	return fmt.Sprintf(`
SELECT
  ipAddress,
  userPrincipalName,
  total_attempts,
  failures,
  predicted_high_risk,
  (SELECT p.prob FROM UNNEST(predicted_high_risk_probs) p WHERE p.label = TRUE) AS risk_score
FROM ML.PREDICT(
  MODEL %s,
  (
    SELECT
      ipAddress,
      userPrincipalName,
      COUNT(*) AS total_attempts,
      COUNTIF(status = @failure_status) AS failures,
      SAFE_DIVIDE(COUNTIF(status = @failure_status), COUNT(*)) AS failure_rate
    FROM %s
    GROUP BY ipAddress, userPrincipalName
  )
)
WHERE predicted_high_risk = TRUE
ORDER BY risk_score DESC
LIMIT @row_limit`, t.RiskModel, t.AuthLogs)
}

// activitySQL orders by auth_failures alone: the prescriptive tiers are
// monotonic in auth_failures, so this equals (risk_score DESC, auth_failures DESC).
func activitySQL(t Tables) string {
	return fmt.Sprintf(`
SELECT
  ipAddress,
  userPrincipalName,
  COUNT(*) AS total_events,
  COUNTIF(status = @failure_status) AS auth_failures,
  COUNTIF(errorCode = @brute_force_code) AS brute_force_attempts,
  MAX(timestamp) AS last_activity
FROM %s
GROUP BY ipAddress, userPrincipalName
HAVING auth_failures > 0
ORDER BY auth_failures DESC
LIMIT @row_limit`, t.AuthLogs)
}
