package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/soporte-live/pkg/casefile"
)

// DefaultSender is the support address case summaries are sent from.
const DefaultSender = "soporte@smc.cl"

// Message is a case summary e-mail.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers case summaries.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer pretends to deliver mail by logging it.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("simulated email sent",
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"bytes", len(msg.Body),
	)
	return nil
}

func summaryMessage(from string, rec casefile.Record) Message {
	var b strings.Builder
	if rec.HasTicket() {
		fmt.Fprintf(&b, "Ticket: %s\n", rec.TicketCode)
	}
	if rec.Status != "" {
		fmt.Fprintf(&b, "Estado: %s\n", rec.Status)
	}
	if rec.Municipality != "" {
		fmt.Fprintf(&b, "Municipalidad: %s\n", rec.Municipality)
	}
	if rec.System != "" {
		fmt.Fprintf(&b, "Sistema: %s\n", rec.System)
	}
	if rec.Problem != "" {
		fmt.Fprintf(&b, "Problema: %s\n", rec.Problem)
	}
	if len(rec.Solutions) > 0 {
		b.WriteString("Soluciones:\n")
		for i, s := range rec.Solutions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
		}
	}

	subject := "Resumen de su caso de soporte"
	if rec.HasTicket() {
		subject += " " + rec.TicketCode
	}
	return Message{From: from, To: rec.Identity, Subject: subject, Body: b.String()}
}
