package services

import (
	"fmt"
	"net"
	"net/smtp"

	"github.com/pennywise/backend/internal/config"
	"github.com/pennywise/backend/pkg/logger"
)

// Mailer delivers out-of-band notifications. The auth service only depends on
// this interface; delivery details live in the implementations.
type Mailer interface {
	SendOTP(to, name, code string) error
	SendPasswordReset(to, name, link string) error
}

// SMTPMailer sends plain-text mail over SMTP with a bounded dial timeout so a
// slow provider cannot hold a login request indefinitely.
type SMTPMailer struct {
	Cfg config.MailConfig
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{Cfg: cfg}
}

func (m *SMTPMailer) SendOTP(to, name, code string) error {
	subject := "Your PennyWise verification code"
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\nYour verification code is %s. It expires in 10 minutes.\r\n\r\nIf you did not try to sign in, you can ignore this email.\r\n",
		name, code,
	)
	return m.send(to, subject, body)
}

func (m *SMTPMailer) SendPasswordReset(to, name, link string) error {
	subject := "Reset your PennyWise password"
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\nUse the link below to reset your password. It expires in 15 minutes.\r\n\r\n%s\r\n\r\nIf you did not request a reset, you can ignore this email.\r\n",
		name, link,
	)
	return m.send(to, subject, body)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	addr := net.JoinHostPort(m.Cfg.Host, m.Cfg.Port)

	conn, err := net.DialTimeout("tcp", addr, m.Cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}

	client, err := smtp.NewClient(conn, m.Cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if m.Cfg.Username != "" {
		auth := smtp.PlainAuth("", m.Cfg.Username, m.Cfg.Password, m.Cfg.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(m.Cfg.FromAddress); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.Cfg.FromAddress, to, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

// LogMailer stands in when SMTP is not configured (local development). Codes
// are still redacted from the log.
type LogMailer struct{}

func (LogMailer) SendOTP(to, name, code string) error {
	logger.Info("mail_otp_skipped", map[string]interface{}{
		"to":     to,
		"reason": "smtp not configured",
	})
	return nil
}

func (LogMailer) SendPasswordReset(to, name, link string) error {
	logger.Info("mail_reset_skipped", map[string]interface{}{
		"to":     to,
		"reason": "smtp not configured",
	})
	return nil
}
