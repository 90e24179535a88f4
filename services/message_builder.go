package services

import (
	"fmt"
	"html"
	"strings"

	"github.com/akemora/Granter-2.0-sub001/models"
)

const (
	amountUnknown = "No especificado"
	deadlineOpen  = "Abierta"
	noKeywords    = "sin coincidencias"
)

// GrantMessage holds the fields rendered into every alert
type GrantMessage struct {
	Title           string
	Region          string
	Amount          string
	Deadline        string
	Score           string
	MatchedKeywords []string
	URL             string
	Description     string
}

// NewGrantMessage formats the grant of a delivery request for humans
func NewGrantMessage(req models.DeliveryRequest, text *UtilityService) GrantMessage {
	g := req.Grant

	amount := amountUnknown
	if g.Amount.Valid {
		amount = g.Amount.Decimal.StringFixed(2) + " EUR"
	}
	deadline := deadlineOpen
	if g.Deadline != nil {
		deadline = g.Deadline.Format("2006-01-02")
	}

	return GrantMessage{
		Title:           g.Title,
		Region:          g.Region,
		Amount:          amount,
		Deadline:        deadline,
		Score:           fmt.Sprintf("%.2f", req.Score),
		MatchedKeywords: req.MatchedKeywords,
		URL:             g.OfficialURL,
		Description:     text.StripMarkup(g.Description),
	}
}

// Subject is the e-mail subject line
func (m GrantMessage) Subject() string {
	return "Nueva subvencion: " + m.Title
}

func (m GrantMessage) keywordsLine() string {
	if len(m.MatchedKeywords) == 0 {
		return noKeywords
	}
	return strings.Join(m.MatchedKeywords, ", ")
}

// PlainText renders the plain e-mail body
func (m GrantMessage) PlainText() string {
	lines := []string{
		"Nueva subvencion detectada: " + m.Title,
		"Region: " + m.Region,
		"Importe: " + m.Amount,
		"Plazo: " + m.Deadline,
		"Keywords: " + m.keywordsLine(),
		"Score: " + m.Score,
	}
	if m.URL != "" {
		lines = append(lines, "Portal: "+m.URL)
	}
	if m.Description != "" {
		lines = append(lines, "", m.Description)
	}
	return strings.Join(lines, "\n")
}

// HTML renders the HTML e-mail body with every field escaped
func (m GrantMessage) HTML() string {
	var b strings.Builder
	b.WriteString("<h2>Nueva subvencion detectada</h2>\n")
	fmt.Fprintf(&b, "<p><strong>%s</strong></p>\n", html.EscapeString(m.Title))
	fmt.Fprintf(&b, "<p>Region: %s</p>\n", html.EscapeString(m.Region))
	fmt.Fprintf(&b, "<p>Importe: %s</p>\n", html.EscapeString(m.Amount))
	fmt.Fprintf(&b, "<p>Plazo: %s</p>\n", html.EscapeString(m.Deadline))
	fmt.Fprintf(&b, "<p>Score: %s</p>\n", html.EscapeString(m.Score))
	fmt.Fprintf(&b, "<p>Keywords: %s</p>\n", html.EscapeString(m.keywordsLine()))
	if m.URL != "" {
		url := html.EscapeString(m.URL)
		fmt.Fprintf(&b, "<p>Portal: <a href=\"%s\">%s</a></p>\n", url, url)
	}
	if m.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(m.Description))
	}
	return b.String()
}

// TelegramText renders the short chat message
func (m GrantMessage) TelegramText() string {
	parts := []string{
		"Nueva subvencion: " + m.Title,
		"Region: " + m.Region,
		"Importe: " + m.Amount,
		"Plazo: " + m.Deadline,
		"Score: " + m.Score,
	}
	if len(m.MatchedKeywords) > 0 {
		parts = append(parts, "Keywords: "+strings.Join(m.MatchedKeywords, ", "))
	}
	if m.URL != "" {
		parts = append(parts, "Portal: "+m.URL)
	}
	return strings.Join(parts, "\n")
}
