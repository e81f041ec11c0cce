package authcore

import (
	"context"
	"errors"
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// AuditEvent is one security-relevant event. It never carries passwords, tokens, or
// refresh hashes.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a *slog.Logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink logging to logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

// Audit event types.
const (
	AuditSignupSuccess         = "signup_success"
	AuditSignupDuplicate       = "signup_duplicate"
	AuditSignupFailure         = "signup_failure"
	AuditLoginSuccess          = "login_success"
	AuditLoginFailure          = "login_failure"
	AuditLoginRateLimited      = "login_rate_limited"
	AuditRefreshSuccess        = "refresh_success"
	AuditRefreshInvalid        = "refresh_invalid"
	AuditRefreshReuseDetected  = "refresh_reuse_detected"
	AuditLogoutSession         = "logout_session"
	AuditLogoutAll             = "logout_all"
	AuditAccountDisabled       = "account_disabled"
	AuditPasswordChangeSuccess = "password_change_success"
	AuditPasswordChangeFailure = "password_change_failure"
	AuditSigningKeyRotated     = "signing_key_rotated"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	tenantID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	event.Error = auditErrorCode(err)

	e.audit.Emit(ctx, event)
}

// auditErrorCode renders err as a stable code: the Reason of its typed error when set,
// otherwise the Kind name.
func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(mapError("", err), &typed) {
		if typed.Reason != "" {
			return typed.Reason
		}
		return typed.Kind.String()
	}
	return KindInternal.String()
}
