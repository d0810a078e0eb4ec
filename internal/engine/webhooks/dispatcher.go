package webhooks

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"bizdash/internal/pkg/metrics"
	"bizdash/internal/platform/models"
	"bizdash/internal/platform/repositories"
)

const (
	EventNotificationCreated = "notification.created"

	EventHeader    = "X-Webhook-Event"
	DeliveryHeader = "X-Webhook-Delivery"

	maxRetryDelay = 24 * time.Hour
)

type DispatcherOptions struct {
	// RetryInterval is the delay before the first stored retry; it doubles per attempt.
	RetryInterval time.Duration
	// MaxAttempts bounds the total attempts for a stored delivery before it is abandoned.
	MaxAttempts int
	// InitialBackoff is the first pause between inline attempts.
	InitialBackoff time.Duration
	Client         *http.Client
}

// Dispatcher forwards created notifications to the tenant's callback URLs.
// Inline attempts follow the tenant's retry settings; whatever still fails is
// stored and picked up by RetryDue.
type Dispatcher struct {
	settings   *repositories.WebhookSettingsRepository
	deliveries *repositories.DeliveryRepository
	client     *http.Client
	opts       DispatcherOptions
	breakers   sync.Map
	wg         sync.WaitGroup
	now        func() time.Time
}

func NewDispatcher(settings *repositories.WebhookSettingsRepository, deliveries *repositories.DeliveryRepository, opts DispatcherOptions) *Dispatcher {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		settings:   settings,
		deliveries: deliveries,
		client:     client,
		opts:       opts,
		now:        time.Now,
	}
}

// NotificationCreated sends notification.created to every callback URL in
// the background. It returns immediately.
func (d *Dispatcher) NotificationCreated(ctx context.Context, n *models.Notification) {
	settings, err := d.settings.Get(ctx, n.TenantID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", n.TenantID).Msg("Failed to load webhook settings for callback")
		return
	}
	if len(settings.CallbackURLs) == 0 {
		return
	}

	event := models.WebhookEvent{
		ID:        "evt_" + uuid.New().String(),
		Event:     EventNotificationCreated,
		Timestamp: d.now().UnixMilli(),
		TenantID:  n.TenantID,
		Data:      n,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", n.TenantID).Msg("Failed to encode callback event")
		return
	}

	// the request context ends with the webhook call that created n
	bg := context.WithoutCancel(ctx)
	for _, url := range settings.CallbackURLs {
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			d.deliverInline(bg, settings, url, event, payload)
		}(url)
	}
}

// Wait blocks until background deliveries started so far have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliverInline(ctx context.Context, s *models.WebhookSettings, url string, event models.WebhookEvent, payload []byte) {
	timeout := time.Duration(s.TimeoutMS) * time.Millisecond
	attempts, err := d.send(ctx, url, s.Secret, event.Event, event.ID, payload, s.RetryAttempts, timeout)
	if err == nil {
		metrics.CallbackDeliveries.WithLabelValues("delivered").Inc()
		return
	}

	metrics.CallbackDeliveries.WithLabelValues("failed").Inc()
	log.Warn().Err(err).Str("tenant_id", s.TenantID).Str("url", url).Int("attempts", attempts).Msg("Callback delivery failed, scheduling retry")

	dl := &models.WebhookDelivery{
		TenantID:      s.TenantID,
		EventID:       event.ID,
		URL:           url,
		Event:         event.Event,
		Payload:       string(payload),
		Status:        models.DeliveryFailed,
		Attempts:      attempts,
		LastError:     err.Error(),
		NextAttemptAt: d.now().Add(d.retryDelay(1)).UnixMilli(),
	}
	if err := d.deliveries.Create(ctx, dl); err != nil {
		log.Error().Err(err).Str("tenant_id", s.TenantID).Str("url", url).Msg("Failed to store callback delivery")
	}
}

// RetryDue makes one attempt for each stored delivery whose retry time has
// come and reports how many it processed.
func (d *Dispatcher) RetryDue(ctx context.Context, limit int) (int, error) {
	due, err := d.deliveries.Due(ctx, d.now().UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("listing due deliveries: %w", err)
	}

	for _, dl := range due {
		settings, err := d.settings.Get(ctx, dl.TenantID)
		if err != nil {
			return 0, fmt.Errorf("loading webhook settings: %w", err)
		}

		// signed with the current secret; a rotated secret replaces the old one
		timeout := time.Duration(settings.TimeoutMS) * time.Millisecond
		deliveryID := dl.EventID
		if deliveryID == "" {
			deliveryID = dl.ID
		}
		_, sendErr := d.send(ctx, dl.URL, settings.Secret, dl.Event, deliveryID, []byte(dl.Payload), 1, timeout)
		attempts := dl.Attempts + 1

		switch {
		case sendErr == nil:
			metrics.CallbackDeliveries.WithLabelValues("delivered").Inc()
			err = d.deliveries.MarkDelivered(ctx, dl.ID, attempts)
		case attempts >= d.opts.MaxAttempts:
			metrics.CallbackDeliveries.WithLabelValues("abandoned").Inc()
			log.Warn().Err(sendErr).Str("tenant_id", dl.TenantID).Str("delivery_id", dl.ID).Int("attempts", attempts).Msg("Callback delivery abandoned")
			err = d.deliveries.Abandon(ctx, dl.ID, attempts, sendErr.Error())
		default:
			metrics.CallbackDeliveries.WithLabelValues("failed").Inc()
			next := d.now().Add(d.retryDelay(attempts)).UnixMilli()
			err = d.deliveries.MarkFailed(ctx, dl.ID, attempts, sendErr.Error(), next)
		}
		if err != nil {
			return 0, fmt.Errorf("updating delivery %s: %w", dl.ID, err)
		}
	}
	return len(due), nil
}

// retryDelay doubles RetryInterval per stored attempt, capped at a day.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := d.opts.RetryInterval
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// send posts payload up to tries times and returns how many attempts were made.
func (d *Dispatcher) send(ctx context.Context, url, secret, eventName, deliveryID string, payload []byte, tries int, timeout time.Duration) (int, error) {
	if tries < 1 {
		tries = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.InitialBackoff

	cb := d.breaker(url)
	attempts := 0
	_, err := backoff.Retry(ctx, func() (int, error) {
		attempts++
		status, err := cb.Execute(func() (int, error) {
			return d.post(ctx, url, secret, eventName, deliveryID, payload, timeout)
		})
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, backoff.Permanent(err)
		}
		return status, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(tries)))
	return attempts, err
}

func (d *Dispatcher) post(ctx context.Context, url, secret, eventName, deliveryID string, payload []byte, timeout time.Duration) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventName)
	req.Header.Set(DeliveryHeader, deliveryID)
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return resp.StatusCode, backoff.Permanent(fmt.Errorf("callback rejected: HTTP %d", resp.StatusCode))
	default:
		return resp.StatusCode, fmt.Errorf("callback failed: HTTP %d", resp.StatusCode)
	}
}

func (d *Dispatcher) breaker(url string) *gobreaker.CircuitBreaker[int] {
	if cb, ok := d.breakers.Load(url); ok {
		return cb.(*gobreaker.CircuitBreaker[int])
	}
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a receiver rejecting a payload is up; only outages trip the breaker
		IsSuccessful: func(err error) bool {
			var rejected *backoff.PermanentError
			return err == nil || stderrors.As(err, &rejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("url", name).Str("from", from.String()).Str("to", to.String()).Msg("Callback circuit breaker state changed")
		},
	})
	actual, _ := d.breakers.LoadOrStore(url, cb)
	return actual.(*gobreaker.CircuitBreaker[int])
}
