package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/metrics"
)

// captureServer records JSON bodies posted to it.
type captureServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []map[string]any
}

func newCaptureServer(t *testing.T, status int) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		cs.mu.Lock()
		cs.bodies = append(cs.bodies, body)
		cs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) Bodies() []map[string]any {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]map[string]any(nil), cs.bodies...)
}

func testInput(webhookURL, slackURL string) Input {
	cfg := domain.DefaultBusinessConfig()
	cfg.LeadGenConfig.ResendAPIKey = "re_test"
	cfg.LeadGenConfig.TargetEmail = "owner@swiftfix.example"
	cfg.LeadGenConfig.WebhookURL = webhookURL
	cfg.LeadGenConfig.SlackWebhookURL = slackURL
	widgetID := uuid.New()
	return Input{
		WidgetID: &widgetID,
		Lead: domain.LeadInfo{
			Name:  "Jane Doe",
			Email: "jane@example.com",
			Phone: "(555) 010-0100",
			Notes: "Leaky kitchen faucet",
			Date:  "2024-06-01",
		},
		Estimate: &domain.EstimationResult{
			EstimatedCostRange: "$150 - $250",
			BaseMinCost:        150,
			BaseMaxCost:        250,
			LaborEstimate:      "1-2 hours",
			Tasks:              []string{"Replace cartridge"},
		},
		Config: cfg,
	}
}

func newTestDispatcher(repo domain.LeadRepository, cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewMock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	}
	return New(repo, cfg, zap.NewNop())
}

func TestDispatch_AllChannels(t *testing.T) {
	webhook := newCaptureServer(t, http.StatusOK)
	slack := newCaptureServer(t, http.StatusOK)
	repo := &mockLeadRepository{}
	mailer := &mockMailer{}
	publisher := &mockPublisher{}
	in := testInput(webhook.URL, slack.URL)

	out := newTestDispatcher(repo, Config{Mailer: mailer, Publisher: publisher}).Dispatch(context.Background(), in)

	want := []Channel{ChannelStore, ChannelCompanyEmail, ChannelCustomerEmail, ChannelWebhook, ChannelSlack, ChannelLeadEvent}
	if len(out.Channels) != len(want) {
		t.Fatalf("channels = %+v", out.Channels)
	}
	for i, ch := range want {
		r := out.Channels[i]
		if r.Channel != ch {
			t.Errorf("channel %d = %s, want %s", i, r.Channel, ch)
		}
		if !r.OK() {
			t.Errorf("%s: attempted=%v err=%v", r.Channel, r.Attempted, r.Err)
		}
	}
	if len(out.Failed()) != 0 {
		t.Errorf("Failed() = %v", out.Failed())
	}

	if repo.Count() != 1 || repo.leads[0].ID != out.LeadID {
		t.Error("lead not stored under the outcome's id")
	}

	company, ok := mailer.SentTo("owner@swiftfix.example")
	if !ok {
		t.Fatal("company email not sent")
	}
	if company.Subject != "New Lead: Jane Doe - $150 - $250" {
		t.Errorf("company subject = %q", company.Subject)
	}
	if company.From != "HandyBot Estimator <onboarding@resend.dev>" {
		t.Errorf("from = %q", company.From)
	}
	if company.APIKey != "re_test" {
		t.Errorf("api key = %q", company.APIKey)
	}
	customer, ok := mailer.SentTo("jane@example.com")
	if !ok {
		t.Fatal("customer email not sent")
	}
	if customer.Subject != "Your Project Estimate from SwiftFix Handyman" {
		t.Errorf("customer subject = %q", customer.Subject)
	}

	bodies := webhook.Bodies()
	if len(bodies) != 1 {
		t.Fatalf("webhook calls = %d", len(bodies))
	}
	body := bodies[0]
	if body["name"] != "Jane Doe" || body["cost_range"] != "$150 - $250" || body["company"] != "SwiftFix Handyman" {
		t.Errorf("webhook body = %v", body)
	}
	if body["base_min_cost"] != "$150.00" {
		t.Errorf("base_min_cost = %v", body["base_min_cost"])
	}

	slackBodies := slack.Bodies()
	if len(slackBodies) != 1 || !strings.Contains(slackBodies[0]["text"].(string), "Jane Doe") {
		t.Errorf("slack body = %v", slackBodies)
	}

	if len(publisher.events) != 1 || publisher.events[0].LeadID != out.LeadID || publisher.events[0].Type != LeadEventType {
		t.Errorf("events = %+v", publisher.events)
	}
}

func TestDispatch_PersistenceFailureDoesNotBlockChannels(t *testing.T) {
	webhook := newCaptureServer(t, http.StatusOK)
	repo := &mockLeadRepository{CreateError: errors.New("connection refused")}
	mailer := &mockMailer{}

	out := newTestDispatcher(repo, Config{Mailer: mailer}).Dispatch(context.Background(), testInput(webhook.URL, ""))

	store, _ := out.Result(ChannelStore)
	if !store.Attempted || store.Err == nil {
		t.Errorf("store result = %+v, want attempted failure", store)
	}
	for _, ch := range []Channel{ChannelCompanyEmail, ChannelCustomerEmail, ChannelWebhook} {
		r, _ := out.Result(ch)
		if !r.OK() {
			t.Errorf("%s should still succeed, got %+v", ch, r)
		}
	}
	if len(webhook.Bodies()) != 1 {
		t.Error("webhook not called")
	}
	if got := out.Failed(); len(got) != 1 || got[0] != "store" {
		t.Errorf("Failed() = %v", got)
	}
}

func TestDispatch_SkipsUnconfiguredChannels(t *testing.T) {
	in := testInput("", "")
	in.Config.LeadGenConfig.ResendAPIKey = ""

	out := newTestDispatcher(&mockLeadRepository{}, Config{Mailer: &mockMailer{}}).Dispatch(context.Background(), in)

	for _, ch := range sideChannels {
		r, ok := out.Result(ch)
		if !ok {
			t.Errorf("%s missing from outcome", ch)
			continue
		}
		if r.Attempted {
			t.Errorf("%s attempted without configuration", ch)
		}
	}
	if r, _ := out.Result(ChannelStore); !r.OK() {
		t.Errorf("store = %+v", r)
	}
}

func TestDispatch_CustomerEmailNeedsLeadEmail(t *testing.T) {
	in := testInput("", "")
	in.Lead.Email = ""
	mailer := &mockMailer{}

	out := newTestDispatcher(&mockLeadRepository{}, Config{Mailer: mailer}).Dispatch(context.Background(), in)

	if r, _ := out.Result(ChannelCustomerEmail); r.Attempted {
		t.Error("customer email attempted without an address")
	}
	if r, _ := out.Result(ChannelCompanyEmail); !r.OK() {
		t.Errorf("company email = %+v", r)
	}
}

func TestDispatch_KeylessMailer(t *testing.T) {
	in := testInput("", "")
	in.Config.LeadGenConfig.ResendAPIKey = ""
	mailer := &mockMailer{keyless: true}

	out := newTestDispatcher(&mockLeadRepository{}, Config{Mailer: mailer}).Dispatch(context.Background(), in)

	if r, _ := out.Result(ChannelCompanyEmail); !r.OK() {
		t.Errorf("company email = %+v, keyless mailers need no widget key", r)
	}
}

func TestDispatch_IgnoresEnabledFlagForEmailAndWebhook(t *testing.T) {
	webhook := newCaptureServer(t, http.StatusOK)
	slack := newCaptureServer(t, http.StatusOK)
	in := testInput("", slack.URL)
	in.Config.LeadGenConfig.GoogleSheetWebhookURL = webhook.URL
	in.Config.LeadGenConfig.Enabled = false
	in.Config.LeadGenConfig.Destination = domain.DestinationEmail

	out := newTestDispatcher(&mockLeadRepository{}, Config{Mailer: &mockMailer{}}).Dispatch(context.Background(), in)

	for _, ch := range []Channel{ChannelCompanyEmail, ChannelCustomerEmail, ChannelWebhook} {
		if r, _ := out.Result(ch); !r.OK() {
			t.Errorf("%s = %+v, want delivered", ch, r)
		}
	}
	if len(webhook.Bodies()) != 1 {
		t.Errorf("webhook calls = %d", len(webhook.Bodies()))
	}
	if r, _ := out.Result(ChannelSlack); r.Attempted {
		t.Error("slack attempted with destination=email")
	}
	if len(slack.Bodies()) != 0 {
		t.Error("slack server was called")
	}
}

func TestDispatch_ZeroValueLeadGenConfig(t *testing.T) {
	webhook := newCaptureServer(t, http.StatusOK)
	in := testInput("", "")
	in.Config.LeadGenConfig = domain.LeadGenConfig{
		TargetEmail:  "owner@swiftfix.example",
		ResendAPIKey: "re_test",
		WebhookURL:   webhook.URL,
	}

	out := newTestDispatcher(&mockLeadRepository{}, Config{Mailer: &mockMailer{}}).Dispatch(context.Background(), in)

	for _, ch := range []Channel{ChannelStore, ChannelCompanyEmail, ChannelCustomerEmail, ChannelWebhook} {
		if r, _ := out.Result(ch); !r.OK() {
			t.Errorf("%s = %+v, want delivered", ch, r)
		}
	}
}

func TestDispatch_PostsToBothWebhooks(t *testing.T) {
	sheet := newCaptureServer(t, http.StatusOK)
	generic := newCaptureServer(t, http.StatusBadGateway)
	in := testInput(generic.URL, "")
	in.Config.LeadGenConfig.GoogleSheetWebhookURL = sheet.URL

	out := newTestDispatcher(&mockLeadRepository{}, Config{Mailer: &mockMailer{}}).Dispatch(context.Background(), in)

	if len(sheet.Bodies()) != 1 || len(generic.Bodies()) != 1 {
		t.Fatalf("calls: sheet=%d generic=%d", len(sheet.Bodies()), len(generic.Bodies()))
	}
	r, _ := out.Result(ChannelWebhook)
	var statusErr *StatusError
	if !errors.As(r.Err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("webhook err = %v, want the generic webhook's 502", r.Err)
	}
}

func TestDispatch_WebhookNon2xxIsFailure(t *testing.T) {
	webhook := newCaptureServer(t, http.StatusInternalServerError)

	out := newTestDispatcher(&mockLeadRepository{}, Config{Mailer: &mockMailer{}}).Dispatch(context.Background(), testInput(webhook.URL, ""))

	r, _ := out.Result(ChannelWebhook)
	var statusErr *StatusError
	if !errors.As(r.Err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("webhook err = %v, want StatusError 500", r.Err)
	}
	if r, _ := out.Result(ChannelCustomerEmail); !r.OK() {
		t.Errorf("customer email = %+v", r)
	}
}

func TestDispatch_PanicIsIsolated(t *testing.T) {
	mailer := &mockMailer{panicTo: "owner@swiftfix.example"}

	out := newTestDispatcher(&mockLeadRepository{}, Config{Mailer: mailer}).Dispatch(context.Background(), testInput("", ""))

	company, _ := out.Result(ChannelCompanyEmail)
	if company.Err == nil || !strings.Contains(company.Err.Error(), "panic") {
		t.Errorf("company email err = %v, want recovered panic", company.Err)
	}
	if customer, _ := out.Result(ChannelCustomerEmail); !customer.OK() {
		t.Errorf("customer email = %+v", customer)
	}
}

func TestDispatch_ChannelTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	d := New(&mockLeadRepository{}, Config{Mailer: &mockMailer{}, ChannelTimeout: 50 * time.Millisecond}, zap.NewNop())
	out := d.Dispatch(context.Background(), testInput(slow.URL, ""))

	r, _ := out.Result(ChannelWebhook)
	if !r.Attempted || !errors.Is(r.Err, context.DeadlineExceeded) {
		t.Errorf("webhook = %+v, want deadline exceeded", r)
	}
	if r, _ := out.Result(ChannelCompanyEmail); !r.OK() {
		t.Errorf("company email = %+v", r)
	}
}

func TestDispatch_CanceledContextStillDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := &mockLeadRepository{}

	out := newTestDispatcher(repo, Config{Mailer: &mockMailer{}}).Dispatch(ctx, testInput("", ""))

	if repo.Count() != 1 {
		t.Error("lead not stored after caller canceled")
	}
	if r, _ := out.Result(ChannelCustomerEmail); !r.OK() {
		t.Errorf("customer email = %+v", r)
	}
}

func TestDispatch_NilEstimate(t *testing.T) {
	in := testInput("", "")
	in.Estimate = nil
	repo := &mockLeadRepository{}

	newTestDispatcher(repo, Config{}).Dispatch(context.Background(), in)

	if repo.Count() != 1 || string(repo.leads[0].EstimateJSON) != "null" {
		t.Errorf("stored = %+v", repo.leads)
	}
}

func TestDispatch_RecordsMetrics(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	repo := &mockLeadRepository{CreateError: errors.New("down")}

	newTestDispatcher(repo, Config{Mailer: &mockMailer{}, Metrics: m}).Dispatch(context.Background(), testInput("", ""))

	if got := testutil.ToFloat64(m.DispatchChannelsTotal.WithLabelValues("store", "failure")); got != 1 {
		t.Errorf("store failure = %v", got)
	}
	if got := testutil.ToFloat64(m.DispatchChannelsTotal.WithLabelValues("company_email", "success")); got != 1 {
		t.Errorf("company success = %v", got)
	}
	if got := testutil.ToFloat64(m.DispatchChannelsTotal.WithLabelValues("webhook", "skipped")); got != 1 {
		t.Errorf("webhook skipped = %v", got)
	}
}

func TestDispatch_RecordsErrorRates(t *testing.T) {
	rates := metrics.NewErrorRateTracker(metrics.DefaultErrorRateConfig())
	webhook := newCaptureServer(t, http.StatusBadGateway)
	repo := &mockLeadRepository{CreateError: errors.New("down")}

	newTestDispatcher(repo, Config{Mailer: &mockMailer{}, ErrorRates: rates}).Dispatch(context.Background(), testInput(webhook.URL, ""))

	// The failed store and the failed webhook.
	if got := rates.Count(metrics.ErrorCategoryDispatch); got != 2 {
		t.Errorf("dispatch errors = %d, want 2", got)
	}
}

func TestDispatcher_From(t *testing.T) {
	d := newTestDispatcher(nil, Config{})
	cfg := domain.DefaultBusinessConfig()
	cfg.LeadGenConfig.SenderName = ""
	if got := d.From(cfg); got != "HandyBot <onboarding@resend.dev>" {
		t.Errorf("From() = %q", got)
	}
}

func TestChannelResult_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(ChannelResult{Channel: ChannelWebhook, Attempted: true, Err: errors.New("boom"), Duration: 1500 * time.Millisecond})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"channel":"webhook","attempted":true,"ok":false,"error":"boom","duration_ms":1500}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestDispatch_LogsMaskedContact(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	d := New(&mockLeadRepository{}, Config{Clock: clock.NewMock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))}, zap.New(core))

	d.Dispatch(context.Background(), testInput("", ""))

	entries := logs.FilterMessage("dispatching lead").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["customer"] != "Jane D." {
		t.Errorf("customer = %v", fields["customer"])
	}
	for _, v := range fields {
		if s, ok := v.(string); ok && (strings.Contains(s, "jane@example.com") || strings.Contains(s, "010-0100")) {
			t.Errorf("contact leaked in %v", fields)
		}
	}
}
