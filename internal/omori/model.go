// Package omori fits daily aftershock counts to the modified Omori law
//
//	n(t) = k / (c + t)^p
//
// using Levenberg-Marquardt nonlinear least squares, and reports the fit
// quality (R², Pearson correlation). The package is pure computation: it does
// no I/O and keeps no state between calls, so independent fits may run
// concurrently.
package omori

import (
	"fmt"
	"math"
)

// Params are the fitted amplitude k, time offset c and decay exponent p.
type Params struct {
	K float64
	C float64
	P float64
}

// String formats the parameters as the fitted law.
func (p Params) String() string {
	return fmt.Sprintf("n(t) = %.1f/(%.3f+t)^%.3f", p.K, p.C, p.P)
}

func (p Params) vector() []float64 {
	return []float64{p.K, p.C, p.P}
}

func paramsFrom(v []float64) Params {
	return Params{K: v[0], C: v[1], P: v[2]}
}

// Rate evaluates the Omori law at t.
func Rate(t float64, p Params) float64 {
	return p.K / math.Pow(p.C+t, p.P)
}

// gradient returns the partial derivatives of Rate with respect to k, c and p.
func gradient(t float64, p Params) (dk, dc, dp float64) {
	base := p.C + t
	dk = math.Pow(base, -p.P)
	dc = -p.P * p.K * math.Pow(base, -p.P-1)
	dp = -p.K * dk * math.Log(base)
	return dk, dc, dp
}

// Domain restricts the parameter region the optimizer may explore.
type Domain string

const (
	// DomainPositive keeps k, c and p strictly positive, where the law is physical.
	DomainPositive Domain = "positive"
	// DomainUnconstrained only rejects parameters that make the model undefined.
	DomainUnconstrained Domain = "unconstrained"
)

// ParseDomain converts a configuration string into a Domain.
func ParseDomain(s string) (Domain, error) {
	switch Domain(s) {
	case DomainPositive, "":
		return DomainPositive, nil
	case DomainUnconstrained:
		return DomainUnconstrained, nil
	default:
		return "", fmt.Errorf("unknown fit domain %q (want %q or %q)", s, DomainPositive, DomainUnconstrained)
	}
}

func (d Domain) admits(p Params, minT float64) bool {
	for _, v := range p.vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if d == DomainUnconstrained {
		return p.C+minT > 0
	}
	return p.K > 0 && p.C > 0 && p.P > 0
}
