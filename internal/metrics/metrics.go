// Package metrics holds the Prometheus collectors of the auth subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "telehealth"

// Auth groups authentication counters. A nil *Auth is a valid no-op.
type Auth struct {
	LoginTotal           *prometheus.CounterVec
	LockoutsTotal        prometheus.Counter
	OTPIssuedTotal       prometheus.Counter
	OTPVerifyTotal       *prometheus.CounterVec
	OTPDeliveryFailures  prometheus.Counter
	BiometricTotal       *prometheus.CounterVec
	TokensIssuedTotal    *prometheus.CounterVec
	AuthorizationDenials *prometheus.CounterVec
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewAuth creates and registers the auth collectors.
func NewAuth(reg prometheus.Registerer) *Auth {
	m := &Auth{
		LoginTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "login_total",
			Help: "Password login attempts by outcome",
		}, []string{"outcome"}),
		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "lockouts_total",
			Help: "Identities moved into the locked state",
		}),
		OTPIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "otp_issued_total",
			Help: "One-time passcode challenges issued",
		}),
		OTPVerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "otp_verify_total",
			Help: "One-time passcode verifications by outcome",
		}, []string{"outcome"}),
		OTPDeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "otp_delivery_failures_total",
			Help: "Passcode deliveries that failed at the provider",
		}),
		BiometricTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "biometric_total",
			Help: "Biometric verifications by outcome",
		}, []string{"outcome"}),
		TokensIssuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "tokens_issued_total",
			Help: "Session tokens issued by authentication method",
		}, []string{"method"}),
		AuthorizationDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "authorization_denials_total",
			Help: "Requests rejected by the authorization gate",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.LoginTotal,
		m.LockoutsTotal,
		m.OTPIssuedTotal,
		m.OTPVerifyTotal,
		m.OTPDeliveryFailures,
		m.BiometricTotal,
		m.TokensIssuedTotal,
		m.AuthorizationDenials,
	)
	return m
}

func (m *Auth) Login(outcome string) {
	if m != nil {
		m.LoginTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Auth) Lockout() {
	if m != nil {
		m.LockoutsTotal.Inc()
	}
}

func (m *Auth) OTPIssued() {
	if m != nil {
		m.OTPIssuedTotal.Inc()
	}
}

func (m *Auth) OTPVerified(outcome string) {
	if m != nil {
		m.OTPVerifyTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Auth) OTPDeliveryFailed() {
	if m != nil {
		m.OTPDeliveryFailures.Inc()
	}
}

func (m *Auth) Biometric(outcome string) {
	if m != nil {
		m.BiometricTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Auth) TokenIssued(method string) {
	if m != nil {
		m.TokensIssuedTotal.WithLabelValues(method).Inc()
	}
}

func (m *Auth) Denied(reason string) {
	if m != nil {
		m.AuthorizationDenials.WithLabelValues(reason).Inc()
	}
}
