// Package effects executes the side-effect descriptors produced by the
// engine. The engine itself never performs side-effect I/O; the
// dispatcher runs after a turn completes and the reply is already on
// its way to the user, so a failing effect can never break a turn.
package effects

import (
	"context"
	"time"

	"github.com/convoflow/convoflow/pkg/config"
	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/utils"
)

const defaultTicketTimeout = 10 * time.Second

// Dispatcher routes side effects to their executors.
type Dispatcher struct {
	email  *EmailSender
	http   *utils.HTTPClient
	ticket config.TicketConfig
	logger logging.Logger
}

// NewDispatcher creates a dispatcher. The email sender may be nil when
// SMTP is not configured.
func NewDispatcher(cfg config.EffectsConfig, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		email:  NewEmailSender(cfg.Email),
		http:   utils.NewHTTPClient(),
		ticket: cfg.Ticket,
		logger: logger,
	}
}

// Dispatch executes all effects in order. Failures are logged and do
// not stop later effects.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, sessionID string, effects []engine.SideEffect) {
	for _, effect := range effects {
		switch effect.Type {
		case engine.EffectSendEmail:
			d.dispatchEmail(tenantID, sessionID, effect)
		case engine.EffectCreateTicket:
			d.dispatchTicket(ctx, tenantID, sessionID, effect)
		case engine.EffectVariableSet:
			d.logger.Debug("variable set",
				logging.F("tenant_id", tenantID),
				logging.F("session_id", sessionID),
				logging.F("variable", stringData(effect, "variable")))
		case engine.EffectAPICallCompleted:
			d.logger.Debug("external call completed",
				logging.F("tenant_id", tenantID),
				logging.F("session_id", sessionID),
				logging.F("node_id", stringData(effect, "node_id")))
		case engine.EffectError:
			d.logger.Warn("turn reported error effect",
				logging.F("tenant_id", tenantID),
				logging.F("session_id", sessionID),
				logging.F("reason", stringData(effect, "reason")),
				logging.F("node_id", stringData(effect, "node_id")))
		default:
			d.logger.Debug("ignoring unhandled effect",
				logging.F("type", effect.Type))
		}
	}
}

func (d *Dispatcher) dispatchEmail(tenantID, sessionID string, effect engine.SideEffect) {
	to := stringData(effect, "to")
	subject := stringData(effect, "subject")
	body := stringData(effect, "body")

	if d.email == nil {
		d.logger.Warn("email effect dropped, SMTP not configured",
			logging.F("tenant_id", tenantID),
			logging.F("to", to))
		return
	}
	if err := d.email.Send(to, subject, body); err != nil {
		d.logger.Error("failed to send email",
			logging.F("tenant_id", tenantID),
			logging.F("session_id", sessionID),
			logging.F("error", err.Error()))
		return
	}
	d.logger.Info("email sent",
		logging.F("tenant_id", tenantID),
		logging.F("to", to))
}

func (d *Dispatcher) dispatchTicket(ctx context.Context, tenantID, sessionID string, effect engine.SideEffect) {
	if d.ticket.WebhookURL == "" {
		d.logger.Warn("ticket effect dropped, webhook not configured",
			logging.F("tenant_id", tenantID),
			logging.F("session_id", sessionID))
		return
	}

	timeout := defaultTicketTimeout
	if d.ticket.TimeoutSeconds > 0 {
		timeout = time.Duration(d.ticket.TimeoutSeconds) * time.Second
	}

	payload := map[string]interface{}{
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"queue":      stringData(effect, "queue"),
		"subject":    stringData(effect, "subject"),
		"body":       stringData(effect, "body"),
		"priority":   stringData(effect, "priority"),
	}
	headers := map[string]string{}
	if d.ticket.APIKey != "" {
		headers["Authorization"] = "Bearer " + d.ticket.APIKey
	}

	resp, err := d.http.Do(ctx, &utils.HTTPRequest{
		URL:     d.ticket.WebhookURL,
		Method:  "POST",
		Headers: headers,
		Body:    payload,
		Timeout: timeout,
	})
	if err != nil {
		d.logger.Error("failed to create ticket",
			logging.F("tenant_id", tenantID),
			logging.F("session_id", sessionID),
			logging.F("error", err.Error()))
		return
	}
	if resp.StatusCode >= 400 {
		d.logger.Error("ticket webhook rejected request",
			logging.F("tenant_id", tenantID),
			logging.F("status", resp.StatusCode))
		return
	}
	d.logger.Info("ticket created",
		logging.F("tenant_id", tenantID),
		logging.F("session_id", sessionID),
		logging.F("queue", stringData(effect, "queue")))
}

func stringData(effect engine.SideEffect, key string) string {
	if v, ok := effect.Data[key].(string); ok {
		return v
	}
	return ""
}
