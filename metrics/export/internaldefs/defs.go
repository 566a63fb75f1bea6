// Package internaldefs holds the shared metric name table so the
// Prometheus and OpenTelemetry exporters render identical series.
package internaldefs

import (
	idcore "github.com/mkarlen/idcore"
)

type CounterDef struct {
	ID   idcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: idcore.MetricLoginSuccess, Name: "idcore_login_success_total", Help: "Successful login attempts."},
	{ID: idcore.MetricLoginFailure, Name: "idcore_login_failure_total", Help: "Failed login attempts."},
	{ID: idcore.MetricLoginLockout, Name: "idcore_login_lockout_total", Help: "Logins rejected by an active account lock, including the attempt that set it."},
	{ID: idcore.MetricLoginRateLimited, Name: "idcore_login_rate_limited_total", Help: "Logins rejected by the per-IP throttle."},
	{ID: idcore.MetricLogout, Name: "idcore_logout_total", Help: "Single-session logout operations."},
	{ID: idcore.MetricLogoutAll, Name: "idcore_logout_all_total", Help: "Bulk session revocations."},
	{ID: idcore.MetricSessionCreated, Name: "idcore_session_created_total", Help: "Created sessions."},
	{ID: idcore.MetricSessionRevoked, Name: "idcore_session_revoked_total", Help: "Revoked sessions."},
	{ID: idcore.MetricAccountCreated, Name: "idcore_account_created_total", Help: "Successful account registrations."},
	{ID: idcore.MetricAccountDeleted, Name: "idcore_account_deleted_total", Help: "Account deletions."},
	{ID: idcore.MetricAccountDuplicate, Name: "idcore_account_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: idcore.MetricVerificationSent, Name: "idcore_verification_sent_total", Help: "Verification emails handed to the sender."},
	{ID: idcore.MetricVerificationSendBlocked, Name: "idcore_verification_send_blocked_total", Help: "Verification sends silently dropped for suppressed addresses."},
	{ID: idcore.MetricVerificationConfirmed, Name: "idcore_verification_confirmed_total", Help: "Confirmed verification tokens."},
	{ID: idcore.MetricVerificationDeclined, Name: "idcore_verification_declined_total", Help: "Declined (not-me) verification tokens."},
	{ID: idcore.MetricVerificationFailed, Name: "idcore_verification_failed_total", Help: "Verification attempts that failed classification."},
	{ID: idcore.MetricSuppressionAdded, Name: "idcore_suppression_added_total", Help: "Addresses added to the suppression list."},
	{ID: idcore.MetricSuppressionRemoved, Name: "idcore_suppression_removed_total", Help: "Addresses removed from the suppression list."},
	{ID: idcore.MetricSuppressionBlocked, Name: "idcore_suppression_blocked_total", Help: "Send probes answered by an active suppression entry."},
}
