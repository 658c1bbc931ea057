package services

import (
	"fmt"
	"net/smtp"

	"coursemarket/internal/config"
	"coursemarket/internal/models"
)

// EmailService sends transactional purchase mail over plain SMTP. All
// sends are best effort: a mail failure never fails a payment.
type EmailService struct {
	cfg config.SMTPConfig
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// Enabled reports whether SMTP is configured at all.
func (s *EmailService) Enabled() bool {
	return s.cfg.Host != "" && s.cfg.User != "" && s.cfg.Password != ""
}

// SendPaymentReceipt mails the buyer after a payment settles.
func (s *EmailService) SendPaymentReceipt(to, courseTitle string, payment *models.Payment) error {
	subject := "Pagamento confirmado: " + courseTitle
	body := fmt.Sprintf(
		"Seu pagamento de R$ %.2f foi confirmado e sua matricula no curso %q esta ativa.\nPedido: %s",
		payment.Amount, courseTitle, payment.GatewayOrderID)
	return s.send(to, subject, body)
}

// SendBoletoIssued mails the boleto link right after checkout so the
// buyer can pay without going back to the storefront.
func (s *EmailService) SendBoletoIssued(to, courseTitle string, payment *models.Payment) error {
	subject := "Boleto gerado: " + courseTitle
	body := fmt.Sprintf(
		"O boleto do curso %q foi gerado no valor de R$ %.2f.\nLinha digitavel: %s\nLink: %s",
		courseTitle, payment.Amount, payment.BoletoBarcode, payment.BoletoURL)
	if payment.DueDate != nil {
		body += fmt.Sprintf("\nVencimento: %s", payment.DueDate.Format("02/01/2006"))
	}
	return s.send(to, subject, body)
}

func (s *EmailService) send(to, subject, body string) error {
	if !s.Enabled() {
		return fmt.Errorf("SMTP credentials not fully configured")
	}

	auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	message := []byte(fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		to, s.cfg.From, subject, body))

	addr := s.cfg.Host + ":" + s.cfg.Port
	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, message)
}
