// Package dispatch delivers a booked lead to storage and to the widget's
// notification channels. Every channel is isolated: a failure is logged and
// reported in the Outcome, and never stops the other channels.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/logging"
	"github.com/jkindrix/estimatebot/internal/metrics"
	"github.com/jkindrix/estimatebot/internal/sanitize"
)

var (
	tracer       = otel.Tracer("github.com/jkindrix/estimatebot/internal/dispatch")
	logSanitizer = sanitize.NewDefault()
)

// Channel names a lead destination.
type Channel string

const (
	ChannelStore         Channel = "store"
	ChannelCompanyEmail  Channel = "company_email"
	ChannelCustomerEmail Channel = "customer_email"
	ChannelWebhook       Channel = "webhook"
	ChannelSlack         Channel = "slack"
	ChannelLeadEvent     Channel = "lead_event"
)

// sideChannels run concurrently after the store, in reporting order.
var sideChannels = []Channel{ChannelCompanyEmail, ChannelCustomerEmail, ChannelWebhook, ChannelSlack, ChannelLeadEvent}

var (
	// ErrNoAPIKey is returned by mailers that need the widget's key when none is set.
	ErrNoAPIKey = errors.New("no email API key configured")
	errNoStore  = errors.New("no lead store configured")
)

// StatusError is a non-2xx response from a delivery endpoint.
type StatusError struct {
	Target     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Target, e.StatusCode)
}

// ChannelResult is the settled result of one channel.
type ChannelResult struct {
	Channel   Channel
	Attempted bool
	Err       error
	Duration  time.Duration
}

// OK reports whether the channel was attempted and succeeded.
func (r ChannelResult) OK() bool {
	return r.Attempted && r.Err == nil
}

// MarshalJSON renders the result for API responses.
func (r ChannelResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Channel    Channel `json:"channel"`
		Attempted  bool    `json:"attempted"`
		OK         bool    `json:"ok"`
		Error      string  `json:"error,omitempty"`
		DurationMS int64   `json:"duration_ms"`
	}{
		Channel:    r.Channel,
		Attempted:  r.Attempted,
		OK:         r.OK(),
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Outcome lists every channel's result, store first.
type Outcome struct {
	LeadID   uuid.UUID       `json:"lead_id"`
	Channels []ChannelResult `json:"channels"`
}

// Result returns the result for ch.
func (o Outcome) Result(ch Channel) (ChannelResult, bool) {
	for _, r := range o.Channels {
		if r.Channel == ch {
			return r, true
		}
	}
	return ChannelResult{}, false
}

// Delivered lists the channels that succeeded.
func (o Outcome) Delivered() []string {
	var out []string
	for _, r := range o.Channels {
		if r.OK() {
			out = append(out, string(r.Channel))
		}
	}
	return out
}

// Failed lists the channels that were attempted and failed.
func (o Outcome) Failed() []string {
	var out []string
	for _, r := range o.Channels {
		if r.Attempted && r.Err != nil {
			out = append(out, string(r.Channel))
		}
	}
	return out
}

// Input is one lead to dispatch.
type Input struct {
	WidgetID *uuid.UUID
	Lead     domain.LeadInfo
	Estimate *domain.EstimationResult
	Config   domain.BusinessConfig
}

// Config holds the Dispatcher's collaborators. Zero values disable the
// corresponding channel or use defaults.
type Config struct {
	Mailer    Mailer
	Publisher Publisher
	// HTTPClient posts webhooks and Slack messages.
	HTTPClient *http.Client
	// DefaultSender is the From display name when the widget sets none.
	DefaultSender string
	FromAddress   string
	// ChannelTimeout bounds each channel independently.
	ChannelTimeout time.Duration
	Clock          clock.Clock
	Metrics        *metrics.Metrics
	Events         *metrics.BusinessEventLogger
	ErrorRates     *metrics.ErrorRateTracker
}

// Dispatcher delivers leads.
type Dispatcher struct {
	leads         domain.LeadRepository
	mailer        Mailer
	publisher     Publisher
	httpClient    *http.Client
	defaultSender string
	fromAddress   string
	timeout       time.Duration
	clock         clock.Clock
	metrics       *metrics.Metrics
	events        *metrics.BusinessEventLogger
	errorRates    *metrics.ErrorRateTracker
	logger        *zap.Logger
}

// New creates a Dispatcher.
func New(leads domain.LeadRepository, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		leads:         leads,
		mailer:        cfg.Mailer,
		publisher:     cfg.Publisher,
		httpClient:    cfg.HTTPClient,
		defaultSender: cfg.DefaultSender,
		fromAddress:   cfg.FromAddress,
		timeout:       cfg.ChannelTimeout,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		events:        cfg.Events,
		errorRates:    cfg.ErrorRates,
		logger:        logger.Named("dispatch"),
	}
	if d.httpClient == nil {
		d.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if d.defaultSender == "" {
		d.defaultSender = "HandyBot"
	}
	if d.fromAddress == "" {
		d.fromAddress = "onboarding@resend.dev"
	}
	if d.timeout <= 0 {
		d.timeout = 15 * time.Second
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	return d
}

// From returns the From header for a widget's emails.
func (d *Dispatcher) From(cfg domain.BusinessConfig) string {
	name := cfg.LeadGenConfig.SenderName
	if name == "" {
		name = d.defaultSender
	}
	return fmt.Sprintf("%s <%s>", name, d.fromAddress)
}

// Dispatch stores the lead, then sends it to every configured side channel
// concurrently and waits for all of them. It never returns an error; each
// channel's result is in the Outcome. Delivery continues if ctx is
// canceled, since the customer has already booked.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) Outcome {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "dispatch.lead")
	defer span.End()

	now := d.clock.NowUTC()
	record, err := domain.NewLeadRecord(in.WidgetID, in.Lead, in.Estimate, now)
	if err != nil {
		// Only an unencodable estimate gets here; store the lead without it.
		d.logger.Error("failed to encode estimate", zap.Error(err))
		record, _ = domain.NewLeadRecord(in.WidgetID, in.Lead, nil, now)
	}
	span.SetAttributes(attribute.String("lead.id", record.ID.String()))
	if in.WidgetID != nil {
		span.SetAttributes(attribute.String("widget.id", in.WidgetID.String()))
	}
	d.logger.Debug("dispatching lead", append([]zap.Field{zap.String("lead_id", record.ID.String())},
		logging.Contact(in.Lead.Name, in.Lead.Email, in.Lead.Phone)...)...)

	outcome := Outcome{LeadID: record.ID, Channels: make([]ChannelResult, 0, 1+len(sideChannels))}
	outcome.Channels = append(outcome.Channels, d.run(ctx, ChannelStore, true, func(ctx context.Context) error {
		if d.leads == nil {
			return errNoStore
		}
		return d.leads.Create(ctx, record)
	}))

	side := d.plan(in, record)
	results := make([]ChannelResult, len(sideChannels))
	var wg sync.WaitGroup
	for i, ch := range sideChannels {
		task, ok := side[ch]
		if !ok {
			results[i] = d.run(ctx, ch, false, nil)
			continue
		}
		wg.Add(1)
		go func(i int, ch Channel, task func(context.Context) error) {
			defer wg.Done()
			results[i] = d.run(ctx, ch, true, task)
		}(i, ch, task)
	}
	wg.Wait()
	outcome.Channels = append(outcome.Channels, results...)

	if failed := outcome.Failed(); len(failed) > 0 {
		span.SetStatus(codes.Error, "channels failed")
		span.SetAttributes(attribute.StringSlice("dispatch.failed", failed))
	}
	d.events.LeadDispatched(ctx, record.ID, in.WidgetID, in.Lead.Email, outcome.Delivered(), outcome.Failed())
	return outcome
}

// plan returns the side channels to attempt for this lead.
func (d *Dispatcher) plan(in Input, record *domain.LeadRecord) map[Channel]func(context.Context) error {
	lg := in.Config.LeadGenConfig
	tasks := make(map[Channel]func(context.Context) error)
	year := d.clock.Now().Year()

	if d.canEmail(lg) {
		if lg.TargetEmail != "" {
			tasks[ChannelCompanyEmail] = func(ctx context.Context) error {
				html, err := CompanyEmailHTML(in, year)
				if err != nil {
					return err
				}
				return d.mailer.Send(ctx, Email{
					From:    d.From(in.Config),
					To:      lg.TargetEmail,
					Subject: CompanySubject(in),
					HTML:    html,
					APIKey:  lg.ResendAPIKey,
				})
			}
		}
		if in.Lead.Email != "" {
			tasks[ChannelCustomerEmail] = func(ctx context.Context) error {
				html, err := CustomerEmailHTML(in, year)
				if err != nil {
					return err
				}
				return d.mailer.Send(ctx, Email{
					From:    d.From(in.Config),
					To:      in.Lead.Email,
					Subject: CustomerSubject(in),
					HTML:    html,
					APIKey:  lg.ResendAPIKey,
				})
			}
		}
	}

	if urls := lg.LeadWebhookURLs(); len(urls) > 0 {
		tasks[ChannelWebhook] = func(ctx context.Context) error {
			payload := newWebhookPayload(in)
			var errs []error
			for _, url := range urls {
				if err := postJSON(ctx, d.httpClient, url, payload); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}
	}

	// Slack is opt-in through the destination selection.
	if lg.Wants(domain.DestinationSlack) && lg.SlackWebhookURL != "" {
		tasks[ChannelSlack] = func(ctx context.Context) error {
			return postJSON(ctx, d.httpClient, lg.SlackWebhookURL, map[string]string{"text": slackText(in)})
		}
	}

	if d.publisher != nil {
		tasks[ChannelLeadEvent] = func(ctx context.Context) error {
			p := newWebhookPayload(in)
			return d.publisher.Publish(ctx, LeadEvent{
				Type:        LeadEventType,
				LeadID:      record.ID,
				WidgetID:    in.WidgetID,
				Company:     p.Company,
				Name:        p.Name,
				Email:       p.Email,
				Phone:       p.Phone,
				Notes:       p.Notes,
				Date:        p.Date,
				Time:        p.Time,
				CostRange:   p.CostRange,
				BaseMinCost: p.BaseMinCost,
				BaseMaxCost: p.BaseMaxCost,
				CreatedAt:   record.CreatedAt,
			})
		}
	}
	return tasks
}

func (d *Dispatcher) canEmail(lg domain.LeadGenConfig) bool {
	if d.mailer == nil {
		return false
	}
	return lg.ResendAPIKey != "" || !d.mailer.UsesWidgetKey()
}

// run executes one channel with its own timeout, converting a panic into
// the channel's error.
func (d *Dispatcher) run(ctx context.Context, ch Channel, attempt bool, task func(context.Context) error) (res ChannelResult) {
	res.Channel = ch
	if !attempt {
		d.metrics.RecordDispatchChannel(string(ch), false, false, 0)
		return res
	}
	res.Attempted = true
	start := d.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic in %s channel: %v", ch, r)
		}
		res.Duration = d.clock.Since(start)
		d.metrics.RecordDispatchChannel(string(ch), true, res.Err == nil, res.Duration)
		if res.Err != nil {
			d.errorRates.RecordError(metrics.ErrorCategoryDispatch)
			d.logger.Warn("lead channel failed",
				zap.String("channel", string(ch)),
				zap.Duration("duration", res.Duration),
				zap.String("error", logSanitizer.Error(res.Err)),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res.Err = task(ctx)
	return res
}
