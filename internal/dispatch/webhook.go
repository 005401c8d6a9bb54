package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// webhookPayload is the lead webhook body. Lead fields sit at the top level
// so spreadsheet scripts can map columns by name.
type webhookPayload struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Notes       string `json:"notes,omitempty"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	CostRange   string `json:"cost_range"`
	BaseMinCost string `json:"base_min_cost,omitempty"`
	BaseMaxCost string `json:"base_max_cost,omitempty"`
	Company     string `json:"company"`
}

func newWebhookPayload(in Input) webhookPayload {
	p := webhookPayload{
		Name:      in.Lead.Name,
		Email:     in.Lead.Email,
		Phone:     in.Lead.Phone,
		Notes:     in.Lead.Notes,
		Date:      in.Lead.Date,
		Time:      in.Lead.Time,
		CostRange: costRange(in.Estimate),
		Company:   in.Config.Name,
	}
	if in.Estimate != nil {
		p.BaseMinCost = FormatMoney(in.Estimate.BaseMinCost)
		p.BaseMaxCost = FormatMoney(in.Estimate.BaseMaxCost)
	}
	return p
}

// slackText is the incoming-webhook message for a lead.
func slackText(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":hammer_and_wrench: *New lead for %s*\n", in.Config.Name)
	fmt.Fprintf(&b, "*%s* | %s | %s\n", in.Lead.Name, in.Lead.Phone, in.Lead.Email)
	if r := costRange(in.Estimate); r != "" {
		fmt.Fprintf(&b, "Estimate: %s\n", r)
	}
	if in.Lead.Date != "" || in.Lead.Time != "" {
		fmt.Fprintf(&b, "Requested: %s %s\n", in.Lead.Date, in.Lead.Time)
	}
	if in.Lead.Notes != "" {
		fmt.Fprintf(&b, "> %s\n", strings.ReplaceAll(in.Lead.Notes, "\n", "\n> "))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// postJSON posts body to url and treats any non-2xx response as a failure.
func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Target: "webhook", StatusCode: resp.StatusCode}
	}
	return nil
}
