// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cose

import "time"

// Code identifies one independently reported verification check.
type Code string

const (
	// CodeHashMismatch: the recomputed claim or asset hash does not
	// equal the recorded hash.
	CodeHashMismatch Code = "hash_mismatch"

	// CodeAssertionMismatch: an assertion's content does not match
	// the digest its claim reference binds it to.
	CodeAssertionMismatch Code = "assertion_mismatch"

	// CodeSignatureInvalid: the detached signature does not verify
	// against the claim bytes and the leaf certificate.
	CodeSignatureInvalid Code = "signature_invalid"

	// CodeTrustChainInvalid: the certificate chain does not reach a
	// configured trust anchor, or a validity window fails at the
	// claim's signing time.
	CodeTrustChainInvalid Code = "trust_chain_invalid"

	// CodeCertificateRevoked: the revocation-status response reports
	// the signing certificate revoked.
	CodeCertificateRevoked Code = "certificate_revoked"
)

// Status is the result of one check.
type Status string

const (
	// StatusPass: the check succeeded.
	StatusPass Status = "pass"

	// StatusFail: the check failed. Any failed check marks the
	// manifest invalid.
	StatusFail Status = "fail"

	// StatusInconclusive: the check could not be completed (fetch
	// timeout, unparseable revocation response). Not a failure unless
	// strict mode escalates it.
	StatusInconclusive Status = "inconclusive"

	// StatusSkipped: the check did not apply (no revocation response
	// supplied, prerequisite step failed).
	StatusSkipped Status = "skipped"
)

// Step is one check's result.
type Step struct {
	Code   Code   `json:"code"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Outcome aggregates the verification of one manifest. All checks are
// reported; a failure in one never suppresses the others.
type Outcome struct {
	// ManifestLabel identifies the verified manifest.
	ManifestLabel string `json:"manifest"`

	// SigningTime is the claim's recorded signing time, when the
	// envelope decoded.
	SigningTime *time.Time `json:"signing_time,omitempty"`

	// IssuerOrganization is the leaf certificate's issuer
	// organization, for report display.
	IssuerOrganization string `json:"issuer,omitempty"`

	// Steps holds every check's result in execution order.
	Steps []Step `json:"steps"`
}

// Valid reports whether no check failed. Inconclusive and skipped
// checks do not invalidate a manifest.
func (o *Outcome) Valid() bool {
	for _, step := range o.Steps {
		if step.Status == StatusFail {
			return false
		}
	}
	return true
}

// Failed reports whether the named check failed.
func (o *Outcome) Failed(code Code) bool {
	for _, step := range o.Steps {
		if step.Code == code && step.Status == StatusFail {
			return true
		}
	}
	return false
}

// StatusOf returns the named check's status, or StatusSkipped when
// the check was never recorded.
func (o *Outcome) StatusOf(code Code) Status {
	for _, step := range o.Steps {
		if step.Code == code {
			return step.Status
		}
	}
	return StatusSkipped
}

func (o *Outcome) add(code Code, status Status, reason string) {
	o.Steps = append(o.Steps, Step{Code: code, Status: status, Reason: reason})
}
