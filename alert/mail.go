package alert

import (
	"crypto/tls"
	"fmt"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"
)

// MailConfig carries the SMTP transport settings. Hosts are tried in
// order until one delivery succeeds.
type MailConfig struct {
	Hosts    []string
	Port     int
	From     string
	Username string
	Password string
	StartTLS bool
}

// SendFunc delivers one message. The default is SendMail; tests inject
// their own.
type SendFunc func(config MailConfig, recipients []string, subject, body string) error

// SendMail delivers a plain-text message via gomail, failing over across
// the configured SMTP hosts.
func SendMail(config MailConfig, recipients []string, subject, body string) error {
	if len(config.Hosts) == 0 {
		return fmt.Errorf("no SMTP hosts configured")
	}

	message := gomail.NewMessage()
	message.SetHeader("From", config.From)
	message.SetHeader("To", recipients...)
	message.SetHeader("Subject", subject)
	message.SetBody("text/plain", body)

	var lastErr error
	for _, host := range config.Hosts {
		dialer := gomail.NewDialer(host, config.Port, config.Username, config.Password)
		if config.StartTLS {
			dialer.TLSConfig = &tls.Config{ServerName: host}
		}

		if err := dialer.DialAndSend(message); err != nil {
			log.Warn().
				Err(err).
				Str("component", "alert").
				Str("smtp_host", host).
				Int("smtp_port", config.Port).
				Msg("SMTP delivery failed, trying next host")
			lastErr = err
			continue
		}

		log.Debug().
			Str("component", "alert").
			Str("smtp_host", host).
			Strs("recipients", recipients).
			Msg("Mail delivered")
		return nil
	}

	return fmt.Errorf("all SMTP hosts failed: %w", lastErr)
}
