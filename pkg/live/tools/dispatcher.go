package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-go/soporte-live/pkg/casefile"
	"github.com/vango-go/soporte-live/pkg/core"
	"github.com/vango-go/soporte-live/pkg/live/protocol"
	"github.com/vango-go/soporte-live/pkg/metrics"
)

// DefaultEmailDelay is how long a simulated e-mail takes to go out.
const DefaultEmailDelay = 2 * time.Second

const (
	replyDetailsUpdated = "Case details updated on screen."
	replySolutions      = "Solutions displayed."
	replyEmailDeclined  = "Email not sent: the user did not confirm."
)

type Options struct {
	Sender     string
	EmailDelay time.Duration
	Tickets    *TicketGenerator
	Mailer     Mailer
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer
}

// Dispatcher executes tool calls against one session's case record.
type Dispatcher struct {
	ctx        context.Context
	kase       *casefile.Case
	sender     string
	emailDelay time.Duration
	tickets    *TicketGenerator
	mailer     Mailer
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher writing through kase. Background work
// started by a call (the e-mail send) stops when ctx is cancelled.
func NewDispatcher(ctx context.Context, kase *casefile.Case, opts Options) *Dispatcher {
	if opts.Sender == "" {
		opts.Sender = DefaultSender
	}
	if opts.EmailDelay < 0 {
		opts.EmailDelay = 0
	}
	if opts.Tickets == nil {
		opts.Tickets = NewTicketGenerator(TicketFormatRE, nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mailer == nil {
		opts.Mailer = LogMailer{Logger: opts.Logger}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("soporte-live/tools")
	}
	return &Dispatcher{
		ctx:        ctx,
		kase:       kase,
		sender:     opts.Sender,
		emailDelay: opts.EmailDelay,
		tickets:    opts.Tickets,
		mailer:     opts.Mailer,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
}

// Dispatch runs every call in order and returns one response per call,
// carrying the call's id and name, in the same order.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolResponse {
	ctx, span := d.tracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(attribute.Int("tool.count", len(calls))))
	defer span.End()

	out := make([]protocol.ToolResponse, 0, len(calls))
	for _, call := range calls {
		out = append(out, protocol.ToolResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: d.call(ctx, call),
		})
	}
	return out
}

// Wait blocks until background e-mail sends have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) call(ctx context.Context, call protocol.ToolCall) map[string]any {
	_, span := d.tracer.Start(ctx, "tools.call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.id", call.ID),
	))
	defer span.End()

	var (
		resp map[string]any
		err  error
	)
	switch call.Name {
	case UpdateCaseDetails:
		resp, err = d.updateCaseDetails(call.Args)
	case ProposeSolutions:
		resp, err = d.proposeSolutions(call.Args)
	case CreateTicket:
		resp, err = d.createTicket(call.Args)
	case SendEmail:
		resp, err = d.sendEmail(call.Args)
	default:
		err = core.NewToolCallError(call.Name, "unknown tool")
		resp = map[string]any{"status": "ok"}
	}

	if err == nil {
		d.metrics.RecordToolCall(call.Name, "ok")
		return resp
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	switch {
	case errors.Is(err, casefile.ErrStale):
		d.metrics.RecordToolCall(call.Name, "stale")
		d.logger.Debug("tool call for ended session", "tool", call.Name, "id", call.ID)
		return map[string]any{"status": "ok"}
	case resp != nil:
		d.metrics.RecordToolCall(call.Name, "unknown")
		d.logger.Warn("unknown tool call", "tool", call.Name, "id", call.ID, "known", Names())
		return resp
	default:
		d.metrics.RecordToolCall(call.Name, "invalid_arguments")
		d.logger.Warn("malformed tool call", "tool", call.Name, "id", call.ID, "error", err)
		return map[string]any{"status": "invalid_arguments", "error": err.Error()}
	}
}

func invalid(tool string, err error) error {
	e := core.NewToolCallError(tool, "invalid arguments")
	e.Err = err
	return e
}

func (d *Dispatcher) updateCaseDetails(args map[string]any) (map[string]any, error) {
	var details casefile.Details
	var err error
	if details.Municipality, err = optionalString(args, "municipality"); err != nil {
		return nil, invalid(UpdateCaseDetails, err)
	}
	if details.System, err = optionalString(args, "system"); err != nil {
		return nil, invalid(UpdateCaseDetails, err)
	}
	if details.Problem, err = optionalString(args, "problem"); err != nil {
		return nil, invalid(UpdateCaseDetails, err)
	}
	if _, err := d.kase.MergeDetails(details); err != nil {
		return nil, err
	}
	return map[string]any{"result": replyDetailsUpdated}, nil
}

func (d *Dispatcher) proposeSolutions(args map[string]any) (map[string]any, error) {
	solutions, err := stringList(args, "solutions")
	if err != nil {
		return nil, invalid(ProposeSolutions, err)
	}
	if _, err := d.kase.ReplaceSolutions(solutions); err != nil {
		if errors.Is(err, casefile.ErrNoSolutions) {
			return nil, invalid(ProposeSolutions, err)
		}
		return nil, err
	}
	return map[string]any{"result": replySolutions}, nil
}

func (d *Dispatcher) createTicket(args map[string]any) (map[string]any, error) {
	status, err := requiredString(args, "status")
	if err != nil {
		return nil, invalid(CreateTicket, err)
	}
	code, issued, err := d.kase.IssueTicket(status, d.tickets.Generate)
	if err != nil {
		return nil, err
	}
	if issued {
		d.logger.Info("ticket created", "ticket", code, "status", status)
	} else {
		d.logger.Debug("ticket already issued", "ticket", code, "status", status)
	}
	return map[string]any{"ticketCode": code}, nil
}

func (d *Dispatcher) sendEmail(args map[string]any) (map[string]any, error) {
	confirmed, err := requiredBool(args, "confirmed")
	if err != nil {
		return nil, invalid(SendEmail, err)
	}
	if !confirmed {
		return map[string]any{"result": replyEmailDeclined}, nil
	}

	rec := d.kase.Snapshot()
	reply := map[string]any{
		"result": fmt.Sprintf("Email sending initiated to %s from %s", rec.Identity, d.sender),
	}
	if rec.Email() == casefile.EmailSending {
		return reply, nil
	}
	if err := d.kase.SetEmailStatus(casefile.EmailSending); err != nil {
		return nil, err
	}

	d.wg.Add(1)
	go d.deliver()
	return reply, nil
}

func (d *Dispatcher) deliver() {
	defer d.wg.Done()

	timer := time.NewTimer(d.emailDelay)
	defer timer.Stop()
	select {
	case <-d.ctx.Done():
		_ = d.kase.SetEmailStatus(casefile.EmailNone)
		d.metrics.RecordEmail("cancelled")
		return
	case <-timer.C:
	}
	if !d.kase.Active() {
		d.metrics.RecordEmail("stale")
		return
	}

	msg := summaryMessage(d.sender, d.kase.Snapshot())
	if err := d.mailer.Send(d.ctx, msg); err != nil {
		_ = d.kase.SetEmailStatus(casefile.EmailNone)
		d.metrics.RecordEmail("failed")
		d.logger.Warn("email send failed", "to", msg.To, "error", err)
		return
	}
	if err := d.kase.SetEmailStatus(casefile.EmailSent); err != nil {
		d.metrics.RecordEmail("stale")
		return
	}
	d.metrics.RecordEmail("sent")
}
