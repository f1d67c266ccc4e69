package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/opsboard/opsboard-api/internal/domain"
	"github.com/opsboard/opsboard-api/internal/pricing"
)

// InvoiceEmail is everything the invoice email shows. Rendering is a pure function of it.
type InvoiceEmail struct {
	SenderName       string
	ClientName       string
	InvoiceNumber    string
	Currency         string
	Lines            []domain.QuoteLine
	SubtotalCents    int64
	DiscountCents    int64
	TotalCents       int64
	DueDate          *time.Time
	Memo             string
	HostedInvoiceURL string
}

// Rendered is a ready-to-send subject and HTML body
type Rendered struct {
	Subject string
	HTML    string
}

type lineView struct {
	Title    string
	Detail   string
	Notes    string
	Amount   string
	Discount bool
}

type groupView struct {
	Name  string
	Lines []lineView
	Net   string
}

type invoiceView struct {
	SenderName    string
	ClientName    string
	InvoiceNumber string
	Groups        []groupView
	Subtotal      string
	Discount      string
	HasDiscount   bool
	Total         string
	DueDate       string
	Memo          string
	PayURL        string
}

var invoiceTemplate = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Invoice {{.InvoiceNumber}}</title>
</head>
<body style="margin:0;padding:0;background:#f4f5f7;font-family:Helvetica,Arial,sans-serif;color:#1f2933;">
<table role="presentation" width="100%" cellpadding="0" cellspacing="0" style="background:#f4f5f7;padding:24px 0;">
<tr><td align="center">
<table role="presentation" width="600" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px;">
<tr><td>
<h1 style="margin:0 0 4px 0;font-size:22px;">Invoice {{.InvoiceNumber}}</h1>
<p style="margin:0 0 24px 0;color:#616e7c;">From {{.SenderName}} to {{.ClientName}}</p>
{{range .Groups}}
<h2 style="font-size:15px;margin:24px 0 8px 0;border-bottom:1px solid #e4e7eb;padding-bottom:4px;">{{if .Name}}{{.Name}}{{else}}Other{{end}}</h2>
<table role="presentation" width="100%" cellpadding="0" cellspacing="0">
{{range .Lines}}
<tr>
<td style="padding:6px 0;vertical-align:top;">
<div style="font-weight:bold;">{{.Title}}</div>
{{if .Detail}}<div style="font-size:13px;color:#616e7c;">{{.Detail}}</div>{{end}}
{{if .Notes}}<div style="font-size:13px;color:#616e7c;">{{.Notes}}</div>{{end}}
</td>
<td align="right" style="padding:6px 0;vertical-align:top;white-space:nowrap;">{{if .Discount}}-{{end}}{{.Amount}}</td>
</tr>
{{end}}
</table>
{{end}}
<table role="presentation" width="100%" cellpadding="0" cellspacing="0" style="margin-top:24px;border-top:2px solid #1f2933;">
<tr><td style="padding:6px 0;">Subtotal</td><td align="right" style="padding:6px 0;">{{.Subtotal}}</td></tr>
{{if .HasDiscount}}<tr><td style="padding:6px 0;">Discount</td><td align="right" style="padding:6px 0;">-{{.Discount}}</td></tr>{{end}}
<tr><td style="padding:6px 0;font-weight:bold;font-size:18px;">Total due</td><td align="right" style="padding:6px 0;font-weight:bold;font-size:18px;">{{.Total}}</td></tr>
</table>
{{if .DueDate}}<p style="margin:16px 0 0 0;">Payment due by <strong>{{.DueDate}}</strong>.</p>{{end}}
{{if .Memo}}<p style="margin:16px 0 0 0;white-space:pre-line;">{{.Memo}}</p>{{end}}
<p style="margin:32px 0;text-align:center;">
<a href="{{.PayURL}}" style="background:#2563eb;color:#ffffff;text-decoration:none;padding:14px 28px;border-radius:6px;font-weight:bold;display:inline-block;">View and pay invoice</a>
</p>
<p style="font-size:12px;color:#9aa5b1;margin:0;">If the button does not work, open this link: {{.PayURL}}</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>
`))

// RenderInvoiceEmail builds the subject and HTML body. The same input always yields the same output.
func RenderInvoiceEmail(e InvoiceEmail) (*Rendered, error) {
	view := invoiceView{
		SenderName:    e.SenderName,
		ClientName:    e.ClientName,
		InvoiceNumber: e.InvoiceNumber,
		Subtotal:      pricing.FormatCents(e.SubtotalCents, e.Currency),
		Discount:      pricing.FormatCents(e.DiscountCents, e.Currency),
		HasDiscount:   e.DiscountCents > 0,
		Total:         pricing.FormatCents(e.TotalCents, e.Currency),
		Memo:          e.Memo,
		PayURL:        e.HostedInvoiceURL,
	}
	if e.DueDate != nil {
		view.DueDate = e.DueDate.UTC().Format("January 2, 2006")
	}

	for _, group := range pricing.GroupLinesByKey(e.Lines) {
		gv := groupView{
			Name: group.Key,
			Net:  pricing.FormatCents(group.NetCents(), e.Currency),
		}
		for _, line := range group.Lines {
			lv := lineView{
				Title:    line.Title,
				Detail:   lineDetail(line, e.Currency),
				Amount:   pricing.FormatCents(pricing.LineTotalCents(line), e.Currency),
				Discount: line.IsDiscount(),
			}
			if line.NotesClient != nil {
				lv.Notes = *line.NotesClient
			}
			gv.Lines = append(gv.Lines, lv)
		}
		view.Groups = append(view.Groups, gv)
	}

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render invoice email: %w", err)
	}

	return &Rendered{
		Subject: fmt.Sprintf("Invoice %s from %s", e.InvoiceNumber, e.SenderName),
		HTML:    buf.String(),
	}, nil
}

// lineDetail renders "2.5 hours x $120.00" style detail, or the description for single fixed lines
func lineDetail(line domain.QuoteLine, currency string) string {
	desc := ""
	if line.Description != nil {
		desc = *line.Description
	}
	if line.Quantity == 1 {
		return desc
	}
	qty := strconv.FormatFloat(line.Quantity, 'f', -1, 64)
	detail := fmt.Sprintf("%s %s x %s", qty, line.UnitLabel, pricing.FormatCents(line.UnitAmountCents, currency))
	if desc != "" {
		detail = desc + " (" + detail + ")"
	}
	return detail
}
