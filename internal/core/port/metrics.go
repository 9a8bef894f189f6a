package port

// AuthMetrics captures telemetry hooks for the authentication protocols.
type AuthMetrics interface {
	ObserveLogin(outcome string)
	ObserveRefresh(outcome string)
	IncReuseDetected()
	IncRateLimited()
	IncLogout()
	IncRevocationStoreFailure()
}
