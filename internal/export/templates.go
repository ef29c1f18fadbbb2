package export

import (
	"bytes"
	"html/template"
	"time"
)

// ReceiptData holds data for receipt template rendering.
type ReceiptData struct {
	TicketID     string
	Creator      string
	Counterparty string
	Mediator     string
	Offer        string
	Request      string
	Forms        map[string][]string
	FinalizedAt  time.Time
}

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(receiptHTML))

// RenderReceiptHTML renders the receipt template with provided data.
func RenderReceiptHTML(data ReceiptData) (string, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const receiptHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Trade Receipt {{.TicketID}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .terms { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .form { margin: 1rem 0; }
    .form h3 { margin-bottom: 0.25rem; }
    ul { margin-top: 0.25rem; }
  </style>
</head>
<body>
  <h1>Trade Receipt</h1>
  <div class="meta">Ticket {{.TicketID}} | Finalized {{formatDate .FinalizedAt "Jan 2, 2006 15:04 MST"}}</div>
  <div class="terms">
    <p><strong>{{.Creator}}</strong> offers: {{.Offer}}</p>
    <p><strong>{{.Creator}}</strong> requests: {{.Request}}</p>
    <p>Counterparty: <strong>{{.Counterparty}}</strong></p>
    {{if .Mediator}}<p>Mediated by: <strong>{{.Mediator}}</strong></p>{{end}}
  </div>
  {{if .Forms}}
  <h2>Submitted Terms</h2>
  {{range $user, $lines := .Forms}}
  <div class="form">
    <h3>{{$user}}</h3>
    <ul>{{range $lines}}<li>{{.}}</li>{{end}}</ul>
  </div>
  {{end}}
  {{end}}
  <p class="meta">Both parties confirmed this trade. Keep this receipt for your records.</p>
</body>
</html>`
