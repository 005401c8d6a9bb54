// Package domain contains the estimate bot's core types: the operator's
// widget configuration, the customer's estimate task, the model's estimate
// and the resulting lead.
package domain

// PricingSource selects where a widget's price lists come from.
type PricingSource string

const (
	PricingSourceManual PricingSource = "manual"
	PricingSourceSheet  PricingSource = "sheet"
)

// WidgetIcon is the launcher icon shown on the embedded widget.
type WidgetIcon string

const (
	IconCalculator WidgetIcon = "calculator"
	IconWrench     WidgetIcon = "wrench"
	IconHome       WidgetIcon = "home"
	IconSparkles   WidgetIcon = "sparkles"
	IconChat       WidgetIcon = "chat"
)

// LeadDestination selects which optional side channels receive a lead.
// Email and webhook delivery depend only on their own settings.
type LeadDestination string

const (
	DestinationEmail   LeadDestination = "email"
	DestinationWebhook LeadDestination = "webhook"
	DestinationSlack   LeadDestination = "slack"
	DestinationAll     LeadDestination = "all"
)

// PriceItem is one catalog entry. Price is a display string and is never
// parsed as money.
type PriceItem struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Price       string `json:"price"`
	Description string `json:"description,omitempty"`
}

// LeadField controls one input on the lead form.
type LeadField struct {
	Visible  bool `json:"visible"`
	Required bool `json:"required"`
}

// LeadFields lists the lead form inputs.
type LeadFields struct {
	Name        LeadField `json:"name"`
	Email       LeadField `json:"email"`
	Phone       LeadField `json:"phone"`
	Notes       LeadField `json:"notes"`
	ServiceType LeadField `json:"serviceType"`
	Date        LeadField `json:"date"`
	Time        LeadField `json:"time"`
}

// LeadGenConfig controls where booked leads are delivered.
type LeadGenConfig struct {
	Enabled               bool            `json:"enabled"`
	Destination           LeadDestination `json:"destination"`
	TargetEmail           string          `json:"targetEmail"`
	ResendAPIKey          string          `json:"resendApiKey"`
	SenderName            string          `json:"senderName"`
	WebhookURL            string          `json:"webhookUrl"`
	GoogleSheetWebhookURL string          `json:"googleSheetWebhookUrl"`
	SlackWebhookURL       string          `json:"slackWebhookUrl"`
	Fields                LeadFields      `json:"fields"`
}

// Wants reports whether the destination selection includes d.
// An empty selection is treated as all.
func (l LeadGenConfig) Wants(d LeadDestination) bool {
	return l.Destination == "" || l.Destination == DestinationAll || l.Destination == d
}

// LeadWebhookURLs returns the URLs the lead webhook posts to: the sheet
// webhook first, then the generic one. A URL set in both is posted once.
func (l LeadGenConfig) LeadWebhookURLs() []string {
	var urls []string
	for _, u := range []string{l.GoogleSheetWebhookURL, l.WebhookURL} {
		if u != "" && (len(urls) == 0 || urls[0] != u) {
			urls = append(urls, u)
		}
	}
	return urls
}

// BusinessConfig is the operator-authored widget configuration, stored as one
// JSON document per widget. The estimate pipeline reads it and never mutates it.
type BusinessConfig struct {
	Name           string     `json:"name"`
	PrimaryColor   string     `json:"primaryColor"`
	HeaderTitle    string     `json:"headerTitle"`
	HeaderSubtitle string     `json:"headerSubtitle"`
	ProfilePic     string     `json:"profilePic"`
	HoverTitle     string     `json:"hoverTitle"`
	WidgetIcon     WidgetIcon `json:"widgetIcon"`
	ZipLabel       string     `json:"zipLabel,omitempty"`
	Services       []string   `json:"services"`

	PricingRules     string        `json:"pricingRules"`
	SystemPrompt     string        `json:"systemPrompt"`
	GoogleSheetURL   string        `json:"googleSheetUrl"`
	UseSheetData     bool          `json:"useSheetData"`
	PricingSource    PricingSource `json:"pricingSource"`
	CorePricingItems []PriceItem   `json:"corePricingItems"`
	SmartAddons      []PriceItem   `json:"smartAddons"`
	ManualPriceList  []PriceItem   `json:"manualPriceList"`

	SuggestedQuestions []string      `json:"suggestedQuestions"`
	LeadGenConfig      LeadGenConfig `json:"leadGenConfig"`
	DefaultLanguage    string        `json:"defaultLanguage"`
}

// DefaultBusinessConfig is the starting point for a new widget.
func DefaultBusinessConfig() BusinessConfig {
	return BusinessConfig{
		Name:               "SwiftFix Handyman",
		PrimaryColor:       "#f97316",
		HeaderTitle:        "HandyBot AI",
		HeaderSubtitle:     "Instant Estimates",
		HoverTitle:         "Get a Quote",
		WidgetIcon:         IconWrench,
		ZipLabel:           "Zip Code",
		Services:           []string{"Plumbing", "Electrical", "Painting", "General"},
		PricingRules:       "Labor: $95/hr. Minimum: $150. Materials: Cost + 20%.",
		PricingSource:      PricingSourceManual,
		CorePricingItems:   []PriceItem{},
		SmartAddons:        []PriceItem{},
		ManualPriceList:    []PriceItem{},
		SuggestedQuestions: []string{"Cost to fix a leak?", "TV Mounting price?"},
		LeadGenConfig: LeadGenConfig{
			Enabled:     true,
			Destination: DestinationAll,
			SenderName:  "HandyBot Estimator",
			Fields: LeadFields{
				Name:        LeadField{Visible: true, Required: true},
				Email:       LeadField{Visible: true, Required: true},
				Phone:       LeadField{Visible: true, Required: true},
				Notes:       LeadField{Visible: true},
				ServiceType: LeadField{Visible: true},
				Date:        LeadField{Visible: true},
				Time:        LeadField{Visible: true},
			},
		},
		DefaultLanguage: "en",
	}
}

// Public returns a copy safe to hand to the browser: delivery credentials
// and webhook URLs are removed.
func (c BusinessConfig) Public() BusinessConfig {
	pub := c
	pub.GoogleSheetURL = ""
	pub.LeadGenConfig.TargetEmail = ""
	pub.LeadGenConfig.ResendAPIKey = ""
	pub.LeadGenConfig.WebhookURL = ""
	pub.LeadGenConfig.GoogleSheetWebhookURL = ""
	pub.LeadGenConfig.SlackWebhookURL = ""
	return pub
}

// DisplayName returns the business name, falling back to a generic label.
func (c BusinessConfig) DisplayName() string {
	if c.Name == "" {
		return "our team"
	}
	return c.Name
}
