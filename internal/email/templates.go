// Package email provides email templates.
package email

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// ActivationInfo carries the fields the eSIM delivery templates need.
type ActivationInfo struct {
	CustomerEmail  string
	PlanName       string
	CountryName    string
	ICCID          string
	ActivationLink string
	QRCodeURL      string
	OrderReference string
	StatusLink     string
}

type emailTemplate struct {
	Subject string
	HTML    string
	Text    string
}

var builtinTemplates = map[string]emailTemplate{
	"esim_activation": {
		Subject: "Your eSIM is ready",
		HTML:    esimActivationHTML,
		Text:    esimActivationText,
	},
	"esim_pending": {
		Subject: "Your eSIM order is being prepared",
		HTML:    esimPendingHTML,
		Text:    esimPendingText,
	},
	"esim_topup": {
		Subject: "Your eSIM top-up is confirmed",
		HTML:    esimTopupHTML,
		Text:    esimTopupText,
	},
}

// Renderer provides methods to render email templates.
type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl := template.New("email")

	for key, t := range builtinTemplates {
		if _, err := tmpl.New(key + "_html").Parse(t.HTML); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", key, err)
		}
		if _, err := tmpl.New(key + "_text").Parse(t.Text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", key, err)
		}
	}

	return &Renderer{templates: tmpl}, nil
}

func (r *Renderer) Render(ctx context.Context, templateName string, data *ActivationInfo) (*Email, error) {
	def, ok := builtinTemplates[templateName]
	if !ok {
		return nil, fmt.Errorf("unknown email template: %s", templateName)
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&htmlBuf, templateName+"_html", data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}
	if err := r.templates.ExecuteTemplate(&textBuf, templateName+"_text", data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: def.Subject,
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
	}, nil
}

// SendActivation delivers the install-ready email once artifacts exist.
func SendActivation(ctx context.Context, p Provider, info *ActivationInfo) error {
	return send(ctx, p, "esim_activation", info)
}

// SendPending tells the customer the order is paid but not yet provisioned.
func SendPending(ctx context.Context, p Provider, info *ActivationInfo) error {
	return send(ctx, p, "esim_pending", info)
}

// SendTopup confirms a validity extension on an existing profile.
func SendTopup(ctx context.Context, p Provider, info *ActivationInfo) error {
	return send(ctx, p, "esim_topup", info)
}

func send(ctx context.Context, p Provider, templateName string, info *ActivationInfo) error {
	if p == nil {
		return nil
	}

	renderer, err := NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	email, err := renderer.Render(ctx, templateName, info)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	return p.SendEmail(ctx, email)
}

const esimActivationText = `Your eSIM is ready to install!

Plan: {{.PlanName}}{{if .CountryName}} ({{.CountryName}}){{end}}
Order: {{.OrderReference}}
{{if .ICCID}}ICCID: {{.ICCID}}
{{end}}
Install your eSIM:
{{.ActivationLink}}
{{if .QRCodeURL}}
Or scan the QR code:
{{.QRCodeURL}}
{{end}}
Keep this email: you may need the details above if you reinstall the profile.
`

const esimActivationHTML = `<html>
<body style="font-family: -apple-system, Arial, sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto; padding: 24px;">
	<h2>Your eSIM is ready to install</h2>
	<p><strong>{{.PlanName}}</strong>{{if .CountryName}} ({{.CountryName}}){{end}}</p>
	<p>Order: {{.OrderReference}}</p>
	{{if .ICCID}}<p>ICCID: <code>{{.ICCID}}</code></p>{{end}}
	<p style="margin: 24px 0;">
		<a href="{{.ActivationLink}}" style="background: #2563eb; color: #fff; padding: 12px 24px; border-radius: 6px; text-decoration: none;">Install eSIM</a>
	</p>
	{{if .QRCodeURL}}<p>Or scan the QR code: <a href="{{.QRCodeURL}}">{{.QRCodeURL}}</a></p>{{end}}
	<p style="color: #6b7280; font-size: 13px;">Keep this email: you may need the details above if you reinstall the profile.</p>
</body>
</html>`

const esimPendingText = `Thank you for your order!

Plan: {{.PlanName}}{{if .CountryName}} ({{.CountryName}}){{end}}
Order: {{.OrderReference}}

Your payment is confirmed and your eSIM is being prepared. This usually
takes a few minutes. Check the status here:

{{.StatusLink}}

You will receive another email with installation instructions once the
eSIM is ready.
`

const esimPendingHTML = `<html>
<body style="font-family: -apple-system, Arial, sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto; padding: 24px;">
	<h2>Thank you for your order</h2>
	<p><strong>{{.PlanName}}</strong>{{if .CountryName}} ({{.CountryName}}){{end}}</p>
	<p>Order: {{.OrderReference}}</p>
	<p>Your payment is confirmed and your eSIM is being prepared. This usually takes a few minutes.</p>
	<p style="margin: 24px 0;">
		<a href="{{.StatusLink}}" style="background: #2563eb; color: #fff; padding: 12px 24px; border-radius: 6px; text-decoration: none;">Check order status</a>
	</p>
	<p style="color: #6b7280; font-size: 13px;">You will receive another email with installation instructions once the eSIM is ready.</p>
</body>
</html>`

const esimTopupText = `Your top-up is confirmed!

Plan: {{.PlanName}}
Order: {{.OrderReference}}
{{if .ICCID}}eSIM: {{.ICCID}}
{{end}}
The extra data and validity have been applied to your existing eSIM.
No reinstallation is needed.
`

const esimTopupHTML = `<html>
<body style="font-family: -apple-system, Arial, sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto; padding: 24px;">
	<h2>Your top-up is confirmed</h2>
	<p><strong>{{.PlanName}}</strong></p>
	<p>Order: {{.OrderReference}}</p>
	{{if .ICCID}}<p>eSIM: <code>{{.ICCID}}</code></p>{{end}}
	<p>The extra data and validity have been applied to your existing eSIM. No reinstallation is needed.</p>
</body>
</html>`
