package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"sphyra/internal/notifications/core"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// StudioInfo brands the rendered reminder and its calendar attachment.
type StudioInfo struct {
	Name    string
	Address string
	Email   string
	// CalendarDomain is the right-hand side of calendar event UIDs.
	CalendarDomain string
}

type templateData struct {
	CustomerName    string
	Date            string
	Time            string
	ServiceName     string
	StaffName       string
	ConfirmationURL string
	StudioName      string
	StudioAddress   string
}

// Renderer renders the reminder email from the embedded templates.
type Renderer struct {
	html   *template.Template
	text   *texttemplate.Template
	studio StudioInfo
}

// NewRenderer parses the embedded templates. It fails only if the templates
// shipped with the binary are broken.
func NewRenderer(studio StudioInfo) (*Renderer, error) {
	htmlTmpl, err := template.ParseFS(templateFS, "templates/reminder.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse reminder.html: %w", err)
	}
	textTmpl, err := texttemplate.ParseFS(templateFS, "templates/reminder.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse reminder.txt: %w", err)
	}
	return &Renderer{html: htmlTmpl, text: textTmpl, studio: studio}, nil
}

// Subject returns the reminder subject line for msg.
func Subject(msg core.Message) string {
	return "Promemoria Appuntamento - " + core.FormatDateIT(msg.Date)
}

// Render produces the subject and both bodies of a reminder.
func (r *Renderer) Render(to core.Recipient, msg core.Message) (*RenderedEmail, error) {
	data := templateData{
		CustomerName:    to.Name,
		Date:            core.FormatDateIT(msg.Date),
		Time:            msg.StartTime,
		ServiceName:     msg.ServiceName,
		StaffName:       msg.StaffName,
		ConfirmationURL: msg.ConfirmationURL,
		StudioName:      r.studio.Name,
		StudioAddress:   r.studio.Address,
	}

	var htmlBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render HTML: %w", err)
	}
	var textBuf bytes.Buffer
	if err := r.text.Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render text: %w", err)
	}

	return &RenderedEmail{
		Subject:  Subject(msg),
		BodyHTML: htmlBuf.String(),
		BodyText: textBuf.String(),
	}, nil
}
