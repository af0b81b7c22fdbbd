// internal/delivery/templates.go
// HTML bodies for the three outbound email kinds: expiry alerts to the
// product owner, claim emails to the manufacturer, and claim confirmations
// back to the owner.
package delivery

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/warrantypro/warranty-core-go/internal/model"
)

const dateLayout = "January 2, 2006"

var expiryAlertTmpl = template.Must(template.New("expiryAlert").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;font-family:Arial,sans-serif;background-color:#f3f4f6;">
  <table width="600" cellpadding="0" cellspacing="0" style="margin:0 auto;background-color:#ffffff;border-radius:12px;overflow:hidden;">
    <tr>
      <td style="background:linear-gradient(135deg,#667eea 0%,#764ba2 100%);padding:40px 30px;text-align:center;">
        <h1 style="margin:0;color:#ffffff;font-size:28px;">Warranty Pro</h1>
      </td>
    </tr>
    <tr>
      <td style="padding:30px 30px 0;">
        <div style="background-color:{{.UrgencyColor}};color:#ffffff;padding:12px 20px;border-radius:8px;text-align:center;font-weight:700;">{{.UrgencyText}}</div>
      </td>
    </tr>
    <tr>
      <td style="padding:30px;">
        <h2 style="margin:0 0 20px;color:#1f2937;">{{.ProductName}}</h2>
        <p style="color:#4b5563;font-size:16px;">{{.Message}}</p>
        <table width="100%" cellpadding="0" cellspacing="0" style="margin:20px 0;">
          <tr><td style="padding:8px 0;color:#6b7280;">Brand:</td><td style="padding:8px 0;color:#1f2937;font-weight:600;">{{.Brand}}</td></tr>
          <tr><td style="padding:8px 0;color:#6b7280;">Purchase Date:</td><td style="padding:8px 0;color:#1f2937;font-weight:600;">{{.PurchaseDate}}</td></tr>
          <tr><td style="padding:8px 0;color:#6b7280;">Warranty Duration:</td><td style="padding:8px 0;color:#1f2937;font-weight:600;">{{.DurationMonths}} months</td></tr>
        </table>
      </td>
    </tr>
    <tr>
      <td style="background-color:#f9fafb;padding:20px 30px;text-align:center;border-top:1px solid #e5e7eb;">
        <p style="margin:0;color:#6b7280;font-size:12px;">You're receiving this because you have an active warranty in Warranty Pro.</p>
      </td>
    </tr>
  </table>
</body>
</html>`))

// BuildExpiryAlertHTML renders the expiry alert email body for one
// notification record.
func BuildExpiryAlertHTML(w model.Warranty, n model.NotificationRecord) string {
	color, urgency := "#3b82f6", "EXPIRES IN 30 DAYS"
	switch n.Kind {
	case model.AlertSevenDay:
		color, urgency = "#f59e0b", "EXPIRES IN 7 DAYS"
	case model.AlertExpiryDay:
		color, urgency = "#ef4444", "EXPIRES TODAY"
	case model.AlertExpired:
		color, urgency = "#6b7280", "WARRANTY EXPIRED"
	}

	brand := w.Brand
	if brand == "" {
		brand = "N/A"
	}

	var buf strings.Builder
	_ = expiryAlertTmpl.Execute(&buf, map[string]interface{}{
		"UrgencyColor":   template.CSS(color),
		"UrgencyText":    urgency,
		"ProductName":    w.ProductName,
		"Message":        n.Message,
		"Brand":          brand,
		"PurchaseDate":   w.PurchaseDate.Format(dateLayout),
		"DurationMonths": w.DurationMonths,
	})
	return buf.String()
}

var claimEmailTmpl = template.Must(template.New("claimEmail").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family:Arial,sans-serif;line-height:1.6;color:#333;max-width:600px;margin:0 auto;padding:20px;">
  <div style="background:linear-gradient(135deg,#667eea 0%,#764ba2 100%);color:white;padding:30px;border-radius:10px 10px 0 0;text-align:center;">
    <h1 style="margin:0;font-size:24px;">Warranty Claim Request</h1>
    <p style="margin:10px 0 0 0;opacity:0.9;">Submitted via Warranty Pro</p>
  </div>
  <div style="background:#ffffff;padding:30px;border:1px solid #e0e0e0;border-top:none;">
    <div style="background:#f8f9fa;padding:15px;border-radius:8px;margin:20px 0;">
      <h3 style="margin-top:0;">Product Information</h3>
      <table style="width:100%;border-collapse:collapse;">
        <tr><td style="padding:8px;font-weight:600;width:40%;">Product Name</td><td style="padding:8px;">{{.ProductName}}</td></tr>
        <tr><td style="padding:8px;font-weight:600;">Brand</td><td style="padding:8px;">{{.Brand}}</td></tr>
        {{if .SerialNumber}}<tr><td style="padding:8px;font-weight:600;">Serial Number</td><td style="padding:8px;">{{.SerialNumber}}</td></tr>{{end}}
        <tr><td style="padding:8px;font-weight:600;">Purchase Date</td><td style="padding:8px;">{{.PurchaseDate}}</td></tr>
        <tr><td style="padding:8px;font-weight:600;">Warranty Duration</td><td style="padding:8px;">{{.DurationMonths}} months</td></tr>
        {{if .Retailer}}<tr><td style="padding:8px;font-weight:600;">Purchased From</td><td style="padding:8px;">{{.Retailer}}</td></tr>{{end}}
      </table>
    </div>
    <div style="white-space:pre-wrap;margin:20px 0;">{{.Body}}</div>
    <div style="margin-top:30px;padding-top:20px;border-top:2px solid #e0e0e0;">
      <p><strong>Best regards,</strong></p>
      <p>{{.ContactName}}<br>{{.ContactEmail}}{{if .ContactPhone}}<br>{{.ContactPhone}}{{end}}</p>
    </div>
  </div>
  <div style="background:#f8f9fa;padding:20px;border-radius:0 0 10px 10px;text-align:center;font-size:12px;color:#666;">
    <p>This is an automated warranty claim submission.</p>
    <p>For questions, please contact {{.ContactEmail}}</p>
  </div>
</body>
</html>`))

// ClaimEmailData feeds BuildClaimEmailHTML.
type ClaimEmailData struct {
	Warranty     model.Warranty
	Body         string
	ContactName  string
	ContactEmail string
	ContactPhone string
}

// BuildClaimEmailHTML renders the manufacturer-facing claim email body.
func BuildClaimEmailHTML(d ClaimEmailData) string {
	name := d.ContactName
	if name == "" {
		name = "Customer"
	}

	var buf strings.Builder
	_ = claimEmailTmpl.Execute(&buf, map[string]interface{}{
		"ProductName":    d.Warranty.ProductName,
		"Brand":          d.Warranty.Brand,
		"SerialNumber":   d.Warranty.SerialNumber,
		"PurchaseDate":   d.Warranty.PurchaseDate.Format(dateLayout),
		"DurationMonths": d.Warranty.DurationMonths,
		"Retailer":       d.Warranty.Retailer,
		"Body":           d.Body,
		"ContactName":    name,
		"ContactEmail":   d.ContactEmail,
		"ContactPhone":   d.ContactPhone,
	})
	return buf.String()
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family:Arial,sans-serif;line-height:1.6;color:#333;">
  <div style="max-width:600px;margin:0 auto;padding:20px;">
    <div style="background:linear-gradient(135deg,#667eea 0%,#764ba2 100%);color:white;padding:30px;border-radius:10px;text-align:center;">
      <h1>Claim Submitted Successfully</h1>
    </div>
    <div style="background:white;padding:30px;margin-top:20px;border-radius:10px;">
      <p>Hi {{.ContactName}},</p>
      <p>Your warranty claim has been submitted successfully. Here are the details:</p>
      <div style="background:#f8f9fa;padding:15px;border-radius:8px;margin:15px 0;">
        <p><strong>Claim Number:</strong> {{.ClaimNumber}}</p>
        <p><strong>Product:</strong> {{.ProductName}}</p>
        <p><strong>Status:</strong> {{.Status}}</p>
        <p><strong>Submitted:</strong> {{.SubmittedAt}}</p>
      </div>
      <p>We've sent your claim email to the manufacturer. You should receive a response within 3-5 business days.</p>
    </div>
  </div>
</body>
</html>`))

// BuildClaimConfirmationHTML renders the owner-facing confirmation email.
func BuildClaimConfirmationHTML(contactName string, c model.Claim, productName string, submittedAt time.Time) string {
	if contactName == "" {
		contactName = "there"
	}

	var buf strings.Builder
	_ = confirmationTmpl.Execute(&buf, map[string]interface{}{
		"ContactName": contactName,
		"ClaimNumber": c.ClaimNumber,
		"ProductName": productName,
		"Status":      strings.ToUpper(string(c.Status)),
		"SubmittedAt": submittedAt.Format("January 2, 2006 3:04 PM"),
	})
	return buf.String()
}

// ConfirmationSubject is the subject line of the owner confirmation.
func ConfirmationSubject(claimNumber, productName string) string {
	return fmt.Sprintf("Claim Submitted: %s - %s", claimNumber, productName)
}
