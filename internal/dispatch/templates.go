package dispatch

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jkindrix/estimatebot/internal/domain"
)

const defaultBrandColor = "#f97316"

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// FormatMoney renders a model cost figure as dollars with two decimals.
func FormatMoney(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// costRange returns the model's range text, or one built from the base costs.
func costRange(est *domain.EstimationResult) string {
	if est == nil {
		return ""
	}
	if est.EstimatedCostRange != "" {
		return est.EstimatedCostRange
	}
	return FormatMoney(est.BaseMinCost) + " - " + FormatMoney(est.BaseMaxCost)
}

type emailData struct {
	Business   string
	BrandColor string
	Lead       domain.LeadInfo
	PhoneURL   template.URL
	CostRange  string
	MinCost    string
	MaxCost    string
	Labor      string
	Materials  string
	Duration   string
	Year       int
}

func newEmailData(in Input, year int) emailData {
	color := in.Config.PrimaryColor
	if !hexColor.MatchString(color) {
		color = defaultBrandColor
	}
	data := emailData{
		Business:   in.Config.Name,
		BrandColor: color,
		Lead:       in.Lead,
		PhoneURL:   telURL(in.Lead.Phone),
		CostRange:  costRange(in.Estimate),
		Year:       year,
	}
	if in.Estimate != nil {
		data.MinCost = FormatMoney(in.Estimate.BaseMinCost)
		data.MaxCost = FormatMoney(in.Estimate.BaseMaxCost)
		data.Labor = in.Estimate.LaborEstimate
		data.Materials = in.Estimate.MaterialsEstimate
		data.Duration = in.Estimate.TimeEstimate
	}
	return data
}

// telURL keeps only dialable characters so the link is safe to mark trusted.
func telURL(phone string) template.URL {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return template.URL("tel:" + b.String())
}

var funcs = template.FuncMap{
	"orDefault": func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	},
}

var customerTemplate = template.Must(template.New("customer").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    body { font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; line-height: 1.6; color: #334155; margin: 0; padding: 0; }
    .container { max-width: 600px; margin: 20px auto; border: 1px solid #e2e8f0; border-radius: 12px; overflow: hidden; }
    .content { padding: 40px; }
    .estimate-box { background-color: #f8fafc; border-radius: 12px; padding: 30px; text-align: center; margin: 30px 0; border: 1px solid #f1f5f9; }
    .footer { padding: 20px; text-align: center; font-size: 12px; color: #94a3b8; background: #f8fafc; }
    h1 { margin: 0; font-size: 24px; }
  </style>
</head>
<body>
  <div class="container">
    <div style="background-color: {{.BrandColor}}; padding: 40px 20px; text-align: center; color: white;">
      <h1>Project Quote Estimate</h1>
      <p style="opacity: 0.9">{{.Business}} Assistant</p>
    </div>
    <div class="content">
      <p>Hi <strong>{{.Lead.Name}}</strong>,</p>
      <p>Thank you for reaching out to <strong>{{.Business}}</strong>. Our AI assistant has analyzed your project requirements and generated an initial estimate for you.</p>
      <div class="estimate-box">
        <span style="text-transform: uppercase; font-size: 11px; font-weight: 700; color: #64748b; letter-spacing: 1px;">Initial Estimate Range</span>
        <div style="font-size: 32px; font-weight: 800; color: {{.BrandColor}}; margin: 10px 0;">{{.CostRange}}</div>
        <p style="margin: 0; color: #64748b; font-size: 14px;">Estimated duration: {{orDefault .Duration "To be confirmed"}}</p>
      </div>
      <h3 style="color: #1e293b;">Next Steps</h3>
      <p>A member of our team has been notified. We will review your project details and contact you at <strong>{{.Lead.Phone}}</strong> to finalize the scope and schedule a visit.</p>
      <p><strong>Requested Schedule:</strong><br>{{orDefault .Lead.Date "To be discussed"}} at {{orDefault .Lead.Time "TBD"}}</p>
      <p style="margin-top: 40px; font-size: 14px;">Best regards,<br>The {{.Business}} Team</p>
    </div>
    <div class="footer">&copy; {{.Year}} {{.Business}}. All rights reserved.</div>
  </div>
</body>
</html>
`))

var companyTemplate = template.Must(template.New("company").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; color: #1e293b; background-color: #f1f5f9; padding: 20px; }
    .card { background: white; max-width: 600px; margin: 0 auto; border-radius: 12px; overflow: hidden; }
    .banner { background: #1e293b; color: white; padding: 20px; }
    .section { padding: 30px; border-bottom: 1px solid #f1f5f9; }
    .label { font-size: 11px; font-weight: bold; color: #64748b; text-transform: uppercase; margin-bottom: 4px; }
    .value { font-size: 16px; font-weight: 600; margin-bottom: 20px; }
    a { color: #2563eb; text-decoration: none; }
  </style>
</head>
<body>
  <div class="card">
    <div class="banner"><h2 style="margin:0">New Project Lead 🚀</h2></div>
    <div class="section">
      <div class="label">Customer Details</div>
      <div class="value">{{.Lead.Name}}</div>
      <div class="label">Phone</div>
      <div class="value"><a href="{{.PhoneURL}}">{{.Lead.Phone}}</a></div>
      <div class="label">Email</div>
      <div class="value"><a href="mailto:{{.Lead.Email}}">{{.Lead.Email}}</a></div>
      <div class="label">Project Notes</div>
      <div class="value" style="font-weight: 400; background: #f8fafc; padding: 15px; border-radius: 8px;">{{orDefault .Lead.Notes "No notes provided."}}</div>
    </div>
    <div class="section" style="background: #fafafa">
      <div class="label">AI Estimate Provided</div>
      <div style="font-size: 24px; font-weight: 800; color: #ea580c;">{{.CostRange}}</div>
      <p style="font-size: 13px; color: #64748b;">{{orDefault .Labor "Labor TBD"}} labor + {{orDefault .Materials "TBD"}} materials</p>
      {{if .MinCost}}<p style="font-size: 13px; color: #64748b;">Base range: {{.MinCost}} to {{.MaxCost}}</p>{{end}}
    </div>
    <div class="section">
      <div class="label">Requested Appointment</div>
      <div class="value">{{orDefault .Lead.Date "No date set"}} at {{orDefault .Lead.Time "No time set"}}</div>
    </div>
  </div>
</body>
</html>
`))

func render(t *template.Template, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// CustomerEmailHTML renders the branded confirmation sent to the customer.
func CustomerEmailHTML(in Input, year int) (string, error) {
	return render(customerTemplate, newEmailData(in, year))
}

// CompanyEmailHTML renders the lead notification sent to the business.
func CompanyEmailHTML(in Input, year int) (string, error) {
	return render(companyTemplate, newEmailData(in, year))
}

// CompanySubject is the subject of the business notification.
func CompanySubject(in Input) string {
	return fmt.Sprintf("New Lead: %s - %s", in.Lead.Name, costRange(in.Estimate))
}

// CustomerSubject is the subject of the customer confirmation.
func CustomerSubject(in Input) string {
	return fmt.Sprintf("Your Project Estimate from %s", in.Config.Name)
}
