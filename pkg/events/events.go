// Package events defines the audit event sink the flow engine emits to.
// The engine calls the sink but does not depend on its implementation.
package events

import "log"

// Type enumerates the audit events emitted by the OAuth flow.
type Type string

const (
	TypeLogon           Type = "logon"
	TypeLogoff          Type = "logoff"
	TypeTokenExchange   Type = "token_exchange"
	TypeTokenRefresh    Type = "token_refresh"
	TypeTokenRevoked    Type = "token_revoked"
	TypeAccessDenied    Type = "access_denied"
	TypeExchangeFailure Type = "exchange_failure"
)

// Event is one audit record.
type Event struct {
	Type     Type
	Provider string
	Subject  string
	Email    string
	Detail   string
}

// Sink consumes audit events.
type Sink interface {
	Emit(e Event)
}

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	log.Printf("audit: type=%s provider=%s sub=%s email=%s detail=%q",
		e.Type, e.Provider, e.Subject, e.Email, e.Detail)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(Event) {}
