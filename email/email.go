package email

import (
	"fmt"
	"net"
	"net/smtp"
	"os"
	"time"
)

// Default bound on one SMTP conversation. Exceeding it surfaces as a
// send error, which the outbox treats as transient.
const defaultTimeout = 10 * time.Second

// SMTPSender delivers notification mail through a plain SMTP relay. It
// implements outbox.Sender.
type SMTPSender struct {
	host     string
	port     string
	user     string
	password string
	timeout  time.Duration
}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASSWORD"),
		timeout:  defaultTimeout,
	}
}

// Send delivers one message. The whole conversation (dial included) is
// bounded by the sender's timeout via a connection deadline.
func (s *SMTPSender) Send(from, to, subject, text string) error {
	if s.host == "" {
		return fmt.Errorf("smtp host not configured")
	}

	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", from, to, subject, text)

	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	conn, err := net.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		return fmt.Errorf("smtp dial: %v", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("smtp deadline: %v", err)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %v", err)
	}
	defer client.Close()

	if s.user != "" {
		auth := smtp.PlainAuth("", s.user, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %v", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %v", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %v", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %v", err)
	}
	if _, err := w.Write([]byte(message)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %v", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %v", err)
	}

	return client.Quit()
}
