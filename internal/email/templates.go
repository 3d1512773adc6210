package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/mathsnotes/server/internal/money"
)

// Template names, also used as metric labels.
const (
	TemplateCode      = "verification_code"
	TemplateDownloads = "downloads"
	TemplateMagicLink = "magic_link"
	TemplateContact   = "contact"
)

const (
	SubjectCode      = "Your Verification Code - Maths Notes Purchase"
	SubjectDownloads = "Your Maths Notes - Download Links"
	SubjectMagicLink = "Admin Login - Magic Link"
)

const layout = `{{define "layout"}}<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <style>
      body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; margin: 0; padding: 0; }
      .container { max-width: 600px; margin: 0 auto; }
      .header { background: linear-gradient(135deg, #2563eb 0%, #4f46e5 100%); color: white; padding: 30px; text-align: center; border-radius: 10px 10px 0 0; }
      .content { background: #f8f9fa; padding: 30px; border-radius: 0 0 10px 10px; }
      .box { background: white; padding: 16px; border-radius: 8px; margin: 12px 0; border-left: 4px solid #2563eb; }
      .code { font-size: 36px; color: #2563eb; letter-spacing: 8px; font-weight: bold; text-align: center; margin: 0; }
      .button { display: inline-block; background: #2563eb; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; }
      .muted { color: #666; font-size: 13px; }
      .footer { text-align: center; padding: 20px; color: #666; font-size: 12px; }
    </style>
  </head>
  <body>
    <div class="container">
      <div class="header"><h2>{{.Heading}}</h2></div>
      <div class="content">{{template "body" .}}</div>
      <div class="footer">
        <p>This is an automated email. Please do not reply directly to this message.</p>
        <p>&copy; {{.Year}} Maths Notes. All rights reserved.</p>
      </div>
    </div>
  </body>
</html>{{end}}`

const codeBody = `{{define "body"}}
<p>Hello,</p>
<p>You're almost ready to complete your purchase. Please use the verification code below:</p>
<div class="box"><p class="code">{{.Code}}</p></div>
<p class="muted">This code will expire in <strong>{{.ExpiresIn}}</strong>. If you didn't request this code, please ignore this email.</p>
<div class="box">
  <p><strong>Order Summary:</strong></p>
  <p><strong>Items:</strong> {{.ItemCount}} {{.Noun}}</p>
  <p><strong>Total:</strong> {{.Total}}</p>
</div>
{{end}}`

const downloadsBody = `{{define "body"}}
<p>Hello,</p>
<p>{{if .IsFree}}Here are your free {{.Noun}}.{{else}}Thank you for your purchase! Your payment has been processed.{{end}} Your download links are below.</p>
{{range .Items}}
<div class="box">
  <h4 style="margin: 0 0 6px 0;">{{.Title}}</h4>
  <p class="muted" style="margin: 0 0 10px 0;">{{.Price}}</p>
  <a class="button" href="{{.URL}}">Download</a>
  <p class="muted">Download link expires in {{$.ExpiresIn}}</p>
</div>
{{end}}
<div class="box">
  <p style="font-size: 18px; margin: 0;"><strong>Total Paid:</strong> {{.Total}}</p>
  {{if .Reference}}<p class="muted" style="margin: 5px 0 0 0;">Transaction ID: {{.Reference}}</p>{{end}}
</div>
<p>Happy studying!</p>
{{end}}`

const magicLinkBody = `{{define "body"}}
<p>Click the button below to sign in to the admin panel.</p>
<p style="text-align: center;"><a class="button" href="{{.Link}}">Sign in</a></p>
<p class="muted">This link will expire in {{.ExpiresIn}} and can only be used once.</p>
{{end}}`

const contactBody = `{{define "body"}}
<div class="box">
  <p><strong>Name:</strong> {{.Name}}</p>
  <p><strong>Email:</strong> {{.Email}}</p>
  <p><strong>Subject:</strong> {{.Subject}}</p>
</div>
<div class="box" style="white-space: pre-wrap;">{{.Message}}</div>
{{end}}`

var (
	codeTmpl      = template.Must(template.Must(template.New("code").Parse(layout)).Parse(codeBody))
	downloadsTmpl = template.Must(template.Must(template.New("downloads").Parse(layout)).Parse(downloadsBody))
	magicLinkTmpl = template.Must(template.Must(template.New("magic").Parse(layout)).Parse(magicLinkBody))
	contactTmpl   = template.Must(template.Must(template.New("contact").Parse(layout)).Parse(contactBody))
)

// CodeEmail is the verification code email.
type CodeEmail struct {
	To          string
	Code        string
	ItemCount   int
	Total       money.Cents
	ExpiresIn   time.Duration
	ProductNoun string
}

// DownloadLine is one purchased file.
type DownloadLine struct {
	Title string
	Price money.Cents
	URL   string
}

// DownloadsEmail is the fulfillment email.
type DownloadsEmail struct {
	To          string
	Items       []DownloadLine
	Total       money.Cents
	Reference   string
	IsFree      bool
	ExpiresIn   time.Duration
	ProductNoun string
}

// MagicLinkEmail is the admin sign-in email.
type MagicLinkEmail struct {
	To        string
	Link      string
	ExpiresIn time.Duration
}

// ContactEmail relays the public contact form to the site owner.
type ContactEmail struct {
	To      string
	Name    string
	Email   string
	Subject string
	Message string
}

// RenderCode builds the verification code message.
func RenderCode(e CodeEmail, now time.Time) (Message, error) {
	data := map[string]any{
		"Heading":   "Verify Your Email",
		"Year":      now.Year(),
		"Code":      e.Code,
		"ItemCount": e.ItemCount,
		"Noun":      pluralNoun(e.ProductNoun, e.ItemCount),
		"Total":     e.Total.Display(),
		"ExpiresIn": HumanDuration(e.ExpiresIn),
	}
	html, err := render(codeTmpl, data)
	if err != nil {
		return Message{}, err
	}
	text := fmt.Sprintf("Your verification code is %s. It expires in %s.\n\nItems: %d %s\nTotal: %s\n",
		e.Code, HumanDuration(e.ExpiresIn), e.ItemCount, pluralNoun(e.ProductNoun, e.ItemCount), e.Total.Display())
	return Message{To: e.To, Subject: SubjectCode, HTML: html, Text: text, Template: TemplateCode}, nil
}

// RenderDownloads builds the download links message.
func RenderDownloads(e DownloadsEmail, now time.Time) (Message, error) {
	type line struct {
		Title string
		Price string
		URL   template.URL
	}
	lines := make([]line, len(e.Items))
	var text strings.Builder
	text.WriteString("Your download links:\n\n")
	for i, it := range e.Items {
		// Presigned URLs come from our own signer; mark them safe so the
		// query string is not rewritten.
		lines[i] = line{Title: it.Title, Price: it.Price.Display(), URL: template.URL(it.URL)}
		fmt.Fprintf(&text, "%s (%s)\n%s\n\n", it.Title, it.Price.Display(), it.URL)
	}
	fmt.Fprintf(&text, "Links expire in %s.\nTotal Paid: %s\n", HumanDuration(e.ExpiresIn), e.Total.Display())
	if e.Reference != "" {
		fmt.Fprintf(&text, "Transaction ID: %s\n", e.Reference)
	}

	heading := "Thank You for Your Purchase!"
	if e.IsFree {
		heading = "Your Free Downloads"
	}
	html, err := render(downloadsTmpl, map[string]any{
		"Heading":   heading,
		"Year":      now.Year(),
		"Items":     lines,
		"Total":     e.Total.Display(),
		"Reference": e.Reference,
		"IsFree":    e.IsFree,
		"Noun":      pluralNoun(e.ProductNoun, 2),
		"ExpiresIn": HumanDuration(e.ExpiresIn),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: e.To, Subject: SubjectDownloads, HTML: html, Text: text.String(), Template: TemplateDownloads}, nil
}

// RenderMagicLink builds the admin sign-in message.
func RenderMagicLink(e MagicLinkEmail, now time.Time) (Message, error) {
	html, err := render(magicLinkTmpl, map[string]any{
		"Heading":   "Admin Login",
		"Year":      now.Year(),
		"Link":      template.URL(e.Link),
		"ExpiresIn": HumanDuration(e.ExpiresIn),
	})
	if err != nil {
		return Message{}, err
	}
	text := fmt.Sprintf("Click this link to login to your admin panel: %s\n\nThis link will expire in %s.", e.Link, HumanDuration(e.ExpiresIn))
	return Message{To: e.To, Subject: SubjectMagicLink, HTML: html, Text: text, Template: TemplateMagicLink}, nil
}

// RenderContact builds the contact relay message with Reply-To set to the sender.
func RenderContact(e ContactEmail, now time.Time) (Message, error) {
	html, err := render(contactTmpl, map[string]any{
		"Heading": "New Contact Form Submission",
		"Year":    now.Year(),
		"Name":    e.Name,
		"Email":   e.Email,
		"Subject": e.Subject,
		"Message": e.Message,
	})
	if err != nil {
		return Message{}, err
	}
	text := fmt.Sprintf("Name: %s\nEmail: %s\nSubject: %s\n\n%s\n", e.Name, e.Email, e.Subject, e.Message)
	return Message{
		To:       e.To,
		ReplyTo:  e.Email,
		Subject:  "Contact Form: " + stripHeader(e.Subject),
		HTML:     html,
		Text:     text,
		Template: TemplateContact,
	}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("email: render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func pluralNoun(noun string, n int) string {
	if noun == "" {
		noun = "note"
	}
	if n == 1 {
		return noun
	}
	return noun + "s"
}

// HumanDuration renders 10m as "10 minutes" and 168h as "7 days".
func HumanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
