package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef names one counter.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricUserCheck, Name: "authgate_user_check_total", Help: "Username checks sent to the backend."},
	{ID: authgate.MetricUserNotFound, Name: "authgate_user_not_found_total", Help: "Usernames the backend reported as unknown."},
	{ID: authgate.MetricPasswordSet, Name: "authgate_password_set_total", Help: "Successful first-time password creations."},
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Successful logins."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Logins rejected for a wrong password."},
	{ID: authgate.MetricLockoutTriggered, Name: "authgate_lockout_triggered_total", Help: "Failed logins that started a lockout."},
	{ID: authgate.MetricLockoutRejected, Name: "authgate_lockout_rejected_total", Help: "Submits rejected locally during a lockout."},
	{ID: authgate.MetricLockoutExpired, Name: "authgate_lockout_expired_total", Help: "Lockouts cleared after their duration elapsed."},
	{ID: authgate.MetricLogout, Name: "authgate_logout_total", Help: "Logouts."},
	{ID: authgate.MetricPasswordResetRequest, Name: "authgate_password_reset_request_total", Help: "Accepted password reset requests."},
	{ID: authgate.MetricPasswordReset, Name: "authgate_password_reset_total", Help: "Completed password resets."},
	{ID: authgate.MetricValidationRejected, Name: "authgate_validation_rejected_total", Help: "Inputs rejected before any backend call."},
	{ID: authgate.MetricTransportError, Name: "authgate_transport_error_total", Help: "Backend transport failures."},
	{ID: authgate.MetricStoreWriteFailure, Name: "authgate_store_write_failure_total", Help: "Failed persistent store writes."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricBackendLatency, Name: "authgate_backend_latency_seconds", Help: "Credential backend call latency."},
}

// HistogramBounds are the Prometheus "le" labels matching the engine bucket layout.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix are the OTel instrument name suffixes for each bucket.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
