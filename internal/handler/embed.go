package handler

import (
	"fmt"
	"html"
	"html/template"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/domain"
	apperrors "github.com/jkindrix/estimatebot/internal/errors"
)

// embedPage is the standalone widget page loaded inside the operator's
// iframe. The config travels as a JSON data block; html/template escapes it
// for the script context.
var embedPage = template.Must(template.New("embed").Parse(`<!DOCTYPE html>
<html lang="{{.Language}}">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.HeaderTitle}}</title>
<style>html,body{margin:0;padding:0;background:transparent;}</style>
</head>
<body>
<div id="estimatebot-root"></div>
<script type="application/json" id="estimatebot-config">{{.Config}}</script>
<script type="application/json" id="estimatebot-widget">{{.Widget}}</script>
<script src="{{.ScriptURL}}" defer></script>
</body>
</html>
`))

type embedWidget struct {
	ID      string `json:"id,omitempty"`
	APIBase string `json:"apiBase"`
}

type embedData struct {
	Language  string
	Config    domain.BusinessConfig
	Widget    embedWidget
	ScriptURL string
}

// HandleEmbed serves the widget page. Without an id the default config is
// shown, which is what the builder preview uses.
func (h *WidgetHandler) HandleEmbed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("widget") == "" {
		WriteError(w, r, h.logger, apperrors.MissingField("widget"))
		return
	}

	cfg := domain.DefaultBusinessConfig()
	data := embedData{Widget: embedWidget{APIBase: h.publicURL + "/api"}}
	if raw := q.Get("id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			WriteError(w, r, h.logger, apperrors.NotFound("widget"))
			return
		}
		saved, err := h.widgets.Get(r.Context(), id)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		cfg = saved.Config
		data.Widget.ID = id.String()
	}

	data.Config = cfg.Public()
	data.Language = cfg.DefaultLanguage
	if data.Language == "" {
		data.Language = "en"
	}
	data.ScriptURL = h.publicURL + "/static/widget.js"

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := embedPage.Execute(w, data); err != nil {
		h.logger.Debug("failed to render embed page", zap.Error(err))
	}
}

// EmbedURL returns the widget page URL for a saved widget.
func EmbedURL(publicURL string, id uuid.UUID) string {
	return strings.TrimRight(publicURL, "/") + "/embed?widget=1&id=" + id.String()
}

// EmbedSnippet returns the iframe markup an operator pastes into their site.
func EmbedSnippet(publicURL string, id uuid.UUID, title string) string {
	if title == "" {
		title = "Estimate Assistant"
	}
	return fmt.Sprintf(`<iframe src="%s" style="position: fixed; bottom: 20px; right: 20px; width: 440px; height: 750px; border: none; z-index: 999999; background: transparent;" allow="camera; microphone; geolocation" title="%s"></iframe>`,
		html.EscapeString(EmbedURL(publicURL, id)), html.EscapeString(title))
}
