//go:build attestdiag

package policy

// AllowUnverifiedSignatureForDiagnostics keeps the engine evaluating after a
// signature or chain failure so every failing check is reported. The result
// is still Invalid. Only compiled with -tags attestdiag.
func AllowUnverifiedSignatureForDiagnostics(p *Policy) {
	p.allowUnverifiedSignature = true
}
