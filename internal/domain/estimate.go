package domain

import "strings"

// Urgency is how soon the customer needs the work done.
type Urgency string

const (
	UrgencySameDay     Urgency = "same-day"
	UrgencyNextDay     Urgency = "next-day"
	UrgencyWithin3Days Urgency = "within-3-days"
	UrgencyFlexible    Urgency = "flexible"
)

// DefaultImageMIMEType is used when neither the data URL nor the bytes reveal a type.
const DefaultImageMIMEType = "image/jpeg"

// Valid reports whether u is one of the known urgencies.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencySameDay, UrgencyNextDay, UrgencyWithin3Days, UrgencyFlexible:
		return true
	}
	return false
}

// EstimateTask is one customer's request for an estimate.
type EstimateTask struct {
	Description string  `json:"description" validate:"required,max=4000"`
	ZipCode     string  `json:"zipCode" validate:"required,max=16"`
	Urgency     Urgency `json:"urgency" validate:"omitempty,oneof=same-day next-day within-3-days flexible"`
	Language    string  `json:"language,omitempty" validate:"omitempty,max=32"`
	// Image is an optional data URL, e.g. "data:image/png;base64,....".
	Image string `json:"image,omitempty"`
}

// Ready reports whether the task has the fields needed to request an estimate.
func (t EstimateTask) Ready() bool {
	return strings.TrimSpace(t.Description) != "" && strings.TrimSpace(t.ZipCode) != ""
}

// HasImage reports whether a photo is attached.
func (t EstimateTask) HasImage() bool {
	return strings.TrimSpace(t.Image) != ""
}

// ImageParts splits a data URL into its declared MIME type and base64 payload.
// The MIME type is empty when the header does not declare one. A value with no
// "base64," marker is treated as a bare payload.
func (t EstimateTask) ImageParts() (mimeType, payload string) {
	img := strings.TrimSpace(t.Image)
	idx := strings.Index(img, "base64,")
	if idx < 0 {
		return "", img
	}
	header := img[:idx]
	payload = img[idx+len("base64,"):]
	if strings.HasPrefix(header, "data:") {
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";")
	}
	return mimeType, payload
}

// UpsellSuggestion is an add-on the model recommends.
type UpsellSuggestion struct {
	Label  string `json:"label"`
	Price  string `json:"price"`
	Reason string `json:"reason"`
}

// EstimationResult is the model's structured estimate.
type EstimationResult struct {
	EstimatedCostRange string             `json:"estimatedCostRange"`
	BaseMinCost        float64            `json:"baseMinCost"`
	BaseMaxCost        float64            `json:"baseMaxCost"`
	LaborEstimate      string             `json:"laborEstimate"`
	MaterialsEstimate  string             `json:"materialsEstimate,omitempty"`
	TimeEstimate       string             `json:"timeEstimate,omitempty"`
	Tasks              []string           `json:"tasks"`
	Recommendations    []string           `json:"recommendations,omitempty"`
	Caveats            []string           `json:"caveats,omitempty"`
	SuggestedUpsells   []UpsellSuggestion `json:"suggestedUpsells,omitempty"`
}
