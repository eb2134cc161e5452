// Package notifier delivers fired alerts through the in-app inbox and email.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

// ErrNoRecipient is returned when an owner has no email contact.
var ErrNoRecipient = errors.New("no email recipient for owner")

// NotificationWriter stores in-app notifications. Insert reports false when
// a notification for the same rule and source event already exists.
type NotificationWriter interface {
	Insert(ctx context.Context, n *models.Notification) (bool, error)
}

// ContactResolver looks up where an owner receives email.
type ContactResolver interface {
	OwnerEmail(ctx context.Context, ownerID string) (string, error)
}

// Publisher pushes new notifications to live subscribers.
type Publisher interface {
	Publish(n *models.Notification)
}

var _ alerting.Dispatcher = (*Dispatcher)(nil)

// Dispatcher delivers a fired rule through its configured channels.
// Each channel is attempted once; one channel failing never blocks the other.
type Dispatcher struct {
	notifications NotificationWriter
	contacts      ContactResolver
	email         EmailSender
	publisher     Publisher
	templates     *Templates
	sendTimeout   time.Duration
	storeTimeout  time.Duration
	logger        zerolog.Logger
}

// NewDispatcher creates a new dispatcher. email may be nil when email
// delivery is not configured; rules asking for email then report a failure.
func NewDispatcher(notifications NotificationWriter, contacts ContactResolver, email EmailSender) (*Dispatcher, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return &Dispatcher{
		notifications: notifications,
		contacts:      contacts,
		email:         email,
		templates:     templates,
		sendTimeout:   30 * time.Second,
		storeTimeout:  5 * time.Second,
		logger:        logging.WithComponent("dispatcher"),
	}, nil
}

// SetPublisher registers a publisher for newly written notifications.
func (d *Dispatcher) SetPublisher(p Publisher) {
	d.publisher = p
}

// SetSendTimeout bounds each email send.
func (d *Dispatcher) SetSendTimeout(timeout time.Duration) {
	d.sendTimeout = timeout
}

// SetStoreTimeout bounds each notification insert and contact lookup.
// Zero disables it.
func (d *Dispatcher) SetStoreTimeout(timeout time.Duration) {
	d.storeTimeout = timeout
}

func (d *Dispatcher) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.storeTimeout)
}

// Dispatch implements alerting.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *models.AlertRule, decision alerting.Decision) alerting.DispatchResult {
	result := alerting.DispatchResult{
		InApp: alerting.ChannelSkipped,
		Email: alerting.ChannelSkipped,
	}
	log := d.logger.With().Str("rule_id", rule.ID).Str("source_event_id", decision.SourceEventID).Logger()

	duplicate := false
	if rule.HasChannel(models.ChannelInApp) {
		id, inserted, err := d.writeNotification(ctx, rule, decision)
		switch {
		case err != nil:
			result.InApp = alerting.ChannelFailed
			result.Errors = append(result.Errors, err)
			metrics.NotificationsWrittenTotal.WithLabelValues("failed").Inc()
			log.Error().Err(err).Msg("failed to write notification")
		case !inserted:
			duplicate = true
			result.InApp = alerting.ChannelDuplicate
			metrics.NotificationsWrittenTotal.WithLabelValues("duplicate").Inc()
			log.Debug().Msg("notification already exists")
		default:
			result.InApp = alerting.ChannelSent
			result.NotificationID = id
			metrics.NotificationsWrittenTotal.WithLabelValues("created").Inc()
		}
	}

	if rule.HasChannel(models.ChannelEmail) {
		if duplicate {
			// Same trigger was already delivered.
			result.Email = alerting.ChannelDuplicate
			return result
		}
		if err := d.sendEmail(ctx, rule, decision); err != nil {
			result.Email = alerting.ChannelFailed
			result.Errors = append(result.Errors, err)
			label := "failed"
			if errors.Is(err, ErrRateLimited) {
				label = "rate_limited"
			}
			metrics.EmailsSentTotal.WithLabelValues(label).Inc()
			log.Error().Err(err).Msg("failed to send alert email")
		} else {
			result.Email = alerting.ChannelSent
			metrics.EmailsSentTotal.WithLabelValues("sent").Inc()
		}
	}

	return result
}

func (d *Dispatcher) writeNotification(ctx context.Context, rule *models.AlertRule, decision alerting.Decision) (string, bool, error) {
	if d.notifications == nil {
		return "", false, fmt.Errorf("%w: no notification store", alerting.ErrNotificationWriteFailed)
	}

	n := models.NewNotification(rule.OwnerID, rule.ID, decision.SourceEventID)
	n.Title = AlertTitle(rule)
	n.Message = AlertMessage(rule, decision)
	n.Severity = rule.Severity
	n.CreatedAt = decision.FiredAt

	ictx, cancel := d.storeContext(ctx)
	inserted, err := d.notifications.Insert(ictx, n)
	cancel()
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", alerting.ErrNotificationWriteFailed, err)
	}
	if inserted && d.publisher != nil {
		d.publisher.Publish(n)
	}
	return n.ID, inserted, nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, rule *models.AlertRule, decision alerting.Decision) error {
	if d.email == nil {
		return fmt.Errorf("%w: email delivery not configured", alerting.ErrEmailDeliveryFailed)
	}
	if d.contacts == nil {
		return fmt.Errorf("%w: %w", alerting.ErrEmailDeliveryFailed, ErrNoRecipient)
	}

	cctx, cancel := d.storeContext(ctx)
	to, err := d.contacts.OwnerEmail(cctx, rule.OwnerID)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: resolve recipient: %w", alerting.ErrEmailDeliveryFailed, err)
	}
	if to == "" {
		return fmt.Errorf("%w: %w", alerting.ErrEmailDeliveryFailed, ErrNoRecipient)
	}

	body, err := d.templates.RenderHTML(DecisionToTemplateData(rule, decision))
	if err != nil {
		return fmt.Errorf("%w: render template: %w", alerting.ErrEmailDeliveryFailed, err)
	}

	sctx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}
	if err := d.email.Send(sctx, to, AlertSubject(rule), body); err != nil {
		return fmt.Errorf("%w: %w", alerting.ErrEmailDeliveryFailed, err)
	}
	return nil
}

// LogSender is an EmailSender that only logs. It stands in when SMTP is not
// configured but email rules should still be observable.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a new LogSender.
func NewLogSender() *LogSender {
	return &LogSender{logger: logging.WithComponent("email")}
}

// Send logs the email instead of delivering it.
func (s *LogSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	s.logger.Info().Str("to", to).Str("subject", subject).Int("bytes", len(htmlBody)).Msg("email delivery disabled, message logged")
	return nil
}
