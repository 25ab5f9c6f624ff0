package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Message is a rendered email body ready to be addressed.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

const layout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f8fafc; color: #334155; }
.container { max-width: 480px; margin: 40px auto; background: #ffffff; border-radius: 12px; padding: 32px; }
.label { font-size: 12px; text-transform: uppercase; letter-spacing: 0.05em; color: #64748b; }
.highlight { background: #f1f5f9; border-radius: 8px; padding: 16px; margin: 16px 0; }
.code { font-size: 32px; font-weight: 700; letter-spacing: 8px; text-align: center; color: #0f172a; }
.amount { font-size: 28px; font-weight: 700; color: #0f172a; }
.currency { font-size: 14px; color: #64748b; margin-left: 4px; }
.button { display: inline-block; background: #0f172a; color: #ffffff; padding: 12px 24px; border-radius: 8px; text-decoration: none; }
.muted { font-size: 13px; color: #94a3b8; }
</style>
</head>
<body>
<div class="container">
{{template "content" .}}
<p class="muted">Sendzz</p>
</div>
</body>
</html>`

var htmlBodies = map[string]string{
	"login_code": `{{define "content"}}
<p class="label">Verification Code</p>
<h1>Sign in to Sendzz</h1>
<p>Enter this code to verify your email and complete sign in:</p>
<div class="highlight"><div class="code">{{.Code}}</div></div>
<p class="muted">This code expires in {{.ExpiryMinutes}} minutes. Don't share it with anyone.</p>
{{end}}`,
	"withdrawal_code": `{{define "content"}}
<p class="label">Withdrawal Verification</p>
<h1>Confirm Your Withdrawal</h1>
<p>You're about to withdraw:</p>
<div class="highlight" style="text-align: center;"><span class="amount">{{.Amount}}</span><span class="currency">USDC to {{.Currency}}</span></div>
<p>Enter this code to confirm:</p>
<div class="highlight"><div class="code">{{.Code}}</div></div>
<p class="muted">If you didn't request this withdrawal, please contact support immediately.</p>
{{end}}`,
	"claim_link": `{{define "content"}}
<p class="label">Payment Received</p>
<h1>You've received money!</h1>
<div class="highlight" style="text-align: center;"><span class="amount">{{.Amount}}</span><span class="currency">USDC</span></div>
<p>Sent by: <strong>{{.SenderEmail}}</strong></p>
{{with .Note}}<p style="font-style: italic; color: #64748b;">"{{.}}"</p>{{end}}
<p>Click below to claim your funds:</p>
<div style="text-align: center;"><a href="{{.ClaimURL}}" class="button">Claim Your Funds</a></div>
<p class="muted">This link expires in {{.ExpiryDays}} days.</p>
{{end}}`,
	"transfer_received": `{{define "content"}}
<p class="label">Payment Received</p>
<h1>You've received money!</h1>
<div class="highlight" style="text-align: center;"><span class="amount">{{.Amount}}</span><span class="currency">USDC</span></div>
<p>Sent by: <strong>{{.SenderEmail}}</strong></p>
{{with .Note}}<p style="font-style: italic; color: #64748b;">"{{.}}"</p>{{end}}
<p>The funds have been added to your Sendzz balance.</p>
<div style="text-align: center;"><a href="{{.DashboardURL}}" class="button">View Dashboard</a></div>
{{end}}`,
	"transfer_claimed": `{{define "content"}}
<p class="label">Transfer Claimed</p>
<h1>Your transfer was claimed</h1>
<p><strong>{{.RecipientEmail}}</strong> claimed the <strong>{{.Amount}} USDC</strong> you sent.</p>
{{end}}`,
	"transfer_refunded": `{{define "content"}}
<p class="label">Transfer Returned</p>
<h1>Your transfer was returned</h1>
<p>The <strong>{{.Amount}} USDC</strong> you sent to <strong>{{.RecipientEmail}}</strong> was {{.Reason}} and has been returned to your balance.</p>
{{end}}`,
	"withdrawal_completed": `{{define "content"}}
<p class="label">Withdrawal Complete</p>
<h1>Payout Successful</h1>
<p>Your withdrawal has been processed:</p>
<div class="highlight"><p class="label">Converted</p><p>{{.Amount}} USDC to {{.FiatAmount}} {{.Currency}}</p></div>
<div class="highlight"><p class="label">Sent To</p><p>Account ending {{.BankMasked}}</p></div>
<p>Funds should arrive within 1-2 business days.</p>
{{end}}`,
	"deposit_received": `{{define "content"}}
<p class="label">Deposit Received</p>
<h1>Funds added to your balance</h1>
<div class="highlight" style="text-align: center;"><span class="amount">{{.Amount}}</span><span class="currency">{{.Asset}}</span></div>
<p>Your deposit has been credited and is ready to send or withdraw.</p>
{{end}}`,
	"withdrawal_failed": `{{define "content"}}
<p class="label">Withdrawal Failed</p>
<h1>Your withdrawal could not be completed</h1>
<p>The payout of <strong>{{.Amount}} USDC</strong> to {{.Currency}} did not go through{{with .Reason}}: {{.}}{{end}}.</p>
<p>The funds are back in your Sendzz balance.</p>
{{end}}`,
}

var textBodies = map[string]string{
	"login_code":           "Your Sendzz sign in code is {{.Code}}. It expires in {{.ExpiryMinutes}} minutes.",
	"withdrawal_code":      "Your code to confirm the withdrawal of {{.Amount}} USDC to {{.Currency}} is {{.Code}}.",
	"claim_link":           "{{.SenderEmail}} sent you {{.Amount}} USDC on Sendzz. Claim it within {{.ExpiryDays}} days: {{.ClaimURL}}",
	"transfer_received":    "{{.SenderEmail}} sent you {{.Amount}} USDC. The funds are in your Sendzz balance.",
	"transfer_claimed":     "{{.RecipientEmail}} claimed the {{.Amount}} USDC you sent.",
	"transfer_refunded":    "The {{.Amount}} USDC you sent to {{.RecipientEmail}} was {{.Reason}} and has been returned to your balance.",
	"withdrawal_completed": "Your withdrawal of {{.Amount}} USDC ({{.FiatAmount}} {{.Currency}}) to the account ending {{.BankMasked}} is complete.",
	"deposit_received":     "{{.Amount}} {{.Asset}} has been added to your Sendzz balance.",
	"withdrawal_failed":    "Your withdrawal of {{.Amount}} USDC did not go through. The funds are back in your balance.",
}

var (
	htmlTemplates = map[string]*htmltemplate.Template{}
	textTemplates = map[string]*texttemplate.Template{}
)

func init() {
	for name, body := range htmlBodies {
		t := htmltemplate.Must(htmltemplate.New("layout").Parse(layout))
		htmlTemplates[name] = htmltemplate.Must(t.Parse(body))
	}
	for name, body := range textBodies {
		textTemplates[name] = texttemplate.Must(texttemplate.New(name).Parse(body))
	}
}

func render(name, subject string, data any) (Message, error) {
	var html, text bytes.Buffer
	if err := htmlTemplates[name].Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}
	if err := textTemplates[name].Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}
	return Message{Subject: subject, HTML: strings.TrimSpace(html.String()), Text: text.String()}, nil
}

func LoginCode(code string, expiryMinutes int) (Message, error) {
	return render("login_code", "Your Sendzz verification code", struct {
		Code          string
		ExpiryMinutes int
	}{code, expiryMinutes})
}

func WithdrawalCode(code, amount, currency string) (Message, error) {
	return render("withdrawal_code", "Confirm your withdrawal", struct {
		Code, Amount, Currency string
	}{code, amount, currency})
}

// ClaimLink invites a recipient without an account to claim a transfer.
func ClaimLink(amount, senderEmail, claimURL string, note *string, expiryDays int) (Message, error) {
	return render("claim_link", fmt.Sprintf("You've received %s USDC on Sendzz", amount), struct {
		Amount, SenderEmail, ClaimURL string
		Note                          string
		ExpiryDays                    int
	}{amount, senderEmail, claimURL, deref(note), expiryDays})
}

func TransferReceived(amount, senderEmail, dashboardURL string, note *string) (Message, error) {
	return render("transfer_received", fmt.Sprintf("You've received %s USDC", amount), struct {
		Amount, SenderEmail, DashboardURL, Note string
	}{amount, senderEmail, dashboardURL, deref(note)})
}

func TransferClaimed(amount, recipientEmail string) (Message, error) {
	return render("transfer_claimed", "Your transfer was claimed", struct {
		Amount, RecipientEmail string
	}{amount, recipientEmail})
}

// TransferRefunded tells a sender their unclaimed transfer came back. reason
// reads as a past participle ("cancelled", "not claimed in time").
func TransferRefunded(amount, recipientEmail, reason string) (Message, error) {
	return render("transfer_refunded", "Your transfer was returned", struct {
		Amount, RecipientEmail, Reason string
	}{amount, recipientEmail, reason})
}

func WithdrawalCompleted(amount, fiatAmount, currency, bankMasked string) (Message, error) {
	return render("withdrawal_completed", "Your withdrawal is complete", struct {
		Amount, FiatAmount, Currency, BankMasked string
	}{amount, fiatAmount, currency, bankMasked})
}

func DepositReceived(amount, asset string) (Message, error) {
	return render("deposit_received", fmt.Sprintf("%s %s added to your balance", amount, asset), struct {
		Amount, Asset string
	}{amount, asset})
}

func WithdrawalFailed(amount, currency, reason string) (Message, error) {
	return render("withdrawal_failed", "Your withdrawal could not be completed", struct {
		Amount, Currency, Reason string
	}{amount, currency, reason})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
