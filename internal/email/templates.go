package email

import (
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"
)

// Template tags.
const (
	TagVerificationCode = "verification-code"
	TagPasswordReset    = "password-reset"
)

type templateData struct {
	Name    string
	Code    string
	Link    string
	Minutes int
}

type templatePair struct {
	subject string
	text    *template.Template
	html    *htmltemplate.Template
}

var templates = map[string]templatePair{
	TagVerificationCode: {
		subject: "Verify your Animora account",
		text: template.Must(template.New("verify.txt").Parse(`Hello {{.Name}},

Welcome to Animora! Your verification code is:

    {{.Code}}

This code expires in {{.Minutes}} minutes.

If you did not create an account, you can ignore this email.
`)),
		html: htmltemplate.Must(htmltemplate.New("verify.html").Parse(`<p>Hello {{.Name}},</p>
<p>Welcome to Animora! Your verification code is:</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">{{.Code}}</p>
<p>This code expires in {{.Minutes}} minutes.</p>
<p>If you did not create an account, you can ignore this email.</p>
`)),
	},
	TagPasswordReset: {
		subject: "Reset your Animora password",
		text: template.Must(template.New("reset.txt").Parse(`Hello {{.Name}},

We received a request to reset your Animora password. Open the link below to choose a new one:

    {{.Link}}

This link expires in {{.Minutes}} minutes.

If you did not request a password reset, ignore this email. Your password has not changed.
`)),
		html: htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<p>Hello {{.Name}},</p>
<p>We received a request to reset your Animora password.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>This link expires in {{.Minutes}} minutes.</p>
<p>If you did not request a password reset, ignore this email. Your password has not changed.</p>
`)),
	},
}

// VerificationCodeEmail renders the email carrying a registration verification code.
func VerificationCodeEmail(to, name, code string, ttl time.Duration) (Message, error) {
	return render(TagVerificationCode, to, templateData{Name: name, Code: code, Minutes: int(ttl.Minutes())})
}

// PasswordResetEmail renders the email carrying a password-reset link.
func PasswordResetEmail(to, name, link string, ttl time.Duration) (Message, error) {
	return render(TagPasswordReset, to, templateData{Name: name, Link: link, Minutes: int(ttl.Minutes())})
}

func render(tag, to string, data templateData) (Message, error) {
	tpl := templates[tag]
	if data.Name == "" {
		data.Name = "there"
	}

	var text, html strings.Builder
	if err := tpl.text.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if err := tpl.html.Execute(&html, data); err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: tpl.subject,
		Text:    text.String(),
		HTML:    html.String(),
		Tag:     tag,
	}, nil
}
