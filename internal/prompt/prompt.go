// Package prompt builds the instructions sent to the estimating model from a
// widget's business configuration and a customer's task.
package prompt

import (
	"fmt"
	"strings"

	"github.com/jkindrix/estimatebot/internal/domain"
)

// Markers substituted for empty price lists so the model never invents catalog items.
const (
	NoCoreItemsMarker  = "No fixed items provided, estimate based on rules."
	NoAddonsMarker     = "No specific add-ons."
	DefaultPersona     = "You are a professional, accurate, and helpful estimator."
	defaultCoreDesc    = "Core service"
	defaultAddonDesc   = "Add-on"
	defaultRulesMarker = "No pricing rules provided; use typical local market rates."
)

// SystemInstruction returns the grounding instruction for one widget. It has
// no side effects and does not modify cfg.
func SystemInstruction(cfg domain.BusinessConfig) string {
	persona := strings.TrimSpace(cfg.SystemPrompt)
	if persona == "" {
		persona = DefaultPersona
	}
	rules := strings.TrimSpace(cfg.PricingRules)
	if rules == "" {
		rules = defaultRulesMarker
	}

	core := formatItems(cfg.CorePricingItems, defaultCoreDesc)
	if core == "" {
		core = NoCoreItemsMarker
	}
	addons := formatItems(cfg.SmartAddons, defaultAddonDesc)
	if addons == "" {
		addons = NoAddonsMarker
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the Intelligent AI Service Consultant for %s.\n\n", cfg.DisplayName())
	fmt.Fprintf(&b, "PERSONALITY & PROTOCOL:\n%s\n\n", persona)
	b.WriteString("PRICING DATA:\n")
	fmt.Fprintf(&b, "- Global Rules: %s\n", rules)
	fmt.Fprintf(&b, "- Core Inventory:\n%s\n", core)
	fmt.Fprintf(&b, "- Recommended Add-ons:\n%s\n\n", addons)
	b.WriteString("YOUR MISSION:\n")
	b.WriteString("1. Analyze the user's request (and image if provided).\n")
	fmt.Fprintf(&b, "2. Calculate a realistic cost range based on the Global Rules: %s\n", rules)
	b.WriteString("3. Recommend EXACTLY 1-2 items from the \"Recommended Add-ons\" list that specifically solve the user's problem or add value. ")
	b.WriteString("Only recommend items from that list; never invent items or prices. If the list is empty, return no add-ons.\n")
	b.WriteString("4. Provide clear, professional reasoning.\n")
	return b.String()
}

func formatItems(items []domain.PriceItem, defaultDesc string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			desc = defaultDesc
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", item.Label, item.Price, desc))
	}
	return strings.Join(lines, "\n")
}

// TaskText returns the user text part for one estimate request.
func TaskText(task domain.EstimateTask) string {
	urgency := task.Urgency
	if urgency == "" {
		urgency = domain.UrgencyFlexible
	}

	var b strings.Builder
	b.WriteString("ESTIMATE REQUEST:\n")
	fmt.Fprintf(&b, "- Description: %q\n", strings.TrimSpace(task.Description))
	fmt.Fprintf(&b, "- Zip Code: %s\n", strings.TrimSpace(task.ZipCode))
	fmt.Fprintf(&b, "- Urgency: %s\n\n", urgency)
	b.WriteString("Analyze this request. If an image is provided, identify the specific repair needs visible in the photo.\n")
	if lang := strings.TrimSpace(task.Language); lang != "" && !strings.EqualFold(lang, "en") {
		fmt.Fprintf(&b, "Write every text field of the response in the language with code %q.\n", lang)
	}
	b.WriteString("Respond in JSON.")
	return b.String()
}
