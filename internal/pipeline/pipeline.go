package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/formecho/formecho/internal/email"
	"github.com/formecho/formecho/internal/extract"
	"github.com/formecho/formecho/internal/history"
	"github.com/formecho/formecho/internal/inbox"
	"github.com/formecho/formecho/internal/resolve"
	"github.com/formecho/formecho/internal/respond"
)

// Mailbox is the inbound collaborator (IMAP in production).
type Mailbox interface {
	Connect(ctx context.Context) error
	Disconnect() error
	FetchUnseenRelay(ctx context.Context) ([]inbox.Message, error)
	MarkSeen(uid uint32) error
}

// Generator produces the reply draft for one submission.
type Generator interface {
	Generate(ctx context.Context, name, bodyText string, fields extract.Fields) respond.Draft
}

// Ledger is the idempotence gate.
type Ledger interface {
	Has(id string) bool
	Record(id string) error
}

// History records per-message outcomes for operators. Optional.
type History interface {
	Add(r *history.Record) error
}

// Options carries the reply envelope settings.
type Options struct {
	From    string
	Subject string
	DryRun  bool
}

// Summary is the outcome of one batch run.
type Summary struct {
	Fetched     int
	Replied     int
	AlreadyDone int
	Skipped     int
	Failed      int
}

// Pipeline sequences extraction, resolution, generation and dispatch for
// each inbound relay notification. Processing is strictly sequential; no
// failure on one message aborts the batch, and a message is recorded as
// processed only after its reply was confirmed sent.
type Pipeline struct {
	mailbox   Mailbox
	extractor *extract.Extractor
	resolver  *resolve.Resolver
	ledger    Ledger
	generator Generator
	sender    email.Sender
	history   History
	opts      Options
	log       zerolog.Logger
}

func New(mailbox Mailbox, extractor *extract.Extractor, resolver *resolve.Resolver,
	ledger Ledger, generator Generator, sender email.Sender, hist History,
	opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		mailbox:   mailbox,
		extractor: extractor,
		resolver:  resolver,
		ledger:    ledger,
		generator: generator,
		sender:    sender,
		history:   hist,
		opts:      opts,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes one batch pass. Only a failure to reach the mailbox at all
// is surfaced as an error; per-message failures are logged and counted.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	if err := p.mailbox.Connect(ctx); err != nil {
		return summary, fmt.Errorf("mailbox connection failed: %w", err)
	}
	defer p.mailbox.Disconnect()

	messages, err := p.mailbox.FetchUnseenRelay(ctx)
	if err != nil {
		return summary, fmt.Errorf("mailbox fetch failed: %w", err)
	}
	summary.Fetched = len(messages)

	for i := range messages {
		p.processMessage(ctx, &messages[i], &summary)
	}

	p.log.Info().
		Int("fetched", summary.Fetched).
		Int("replied", summary.Replied).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("batch run complete")
	return summary, nil
}

func (p *Pipeline) processMessage(ctx context.Context, msg *inbox.Message, summary *Summary) {
	id := messageKey(msg)
	log := p.log.With().Str("message_id", id).Logger()

	if p.ledger.Has(id) {
		summary.AlreadyDone++
		log.Debug().Msg("already processed, skipping")
		return
	}

	fields := p.extractor.Extract(msg.Parts)
	resolved := p.resolver.Resolve(fields, resolve.Headers{
		From:       msg.From,
		ReplyTo:    msg.ReplyTo,
		ReturnPath: msg.ReturnPath,
	}, msg.RawBody())

	if resolved.Address == "" {
		// Not recorded: the message stays unseen and gets another look on
		// the next run
		summary.Skipped++
		log.Warn().Msg("no permissible sender address found, skipping")
		p.record(&history.Record{
			MessageID:   id,
			VisitorName: resolved.Name,
			Subject:     msg.Subject,
			Status:      history.StatusSkipped,
			Error:       "no permissible sender address",
		})
		return
	}

	draft := p.generator.Generate(ctx, resolved.Name, resolved.Body, fields)

	if p.opts.DryRun {
		summary.Replied++
		log.Info().Str("to", resolved.Address).Bool("fallback", draft.Fallback).
			Msg("dry run: reply not sent, message not recorded")
		return
	}

	result := p.sender.Send(ctx, email.Message{
		From:    p.opts.From,
		To:      resolved.Address,
		Subject: p.opts.Subject,
		Body:    draft.Text,
	})
	if !result.Success {
		// Left unseen and unrecorded so the next run retries it
		summary.Failed++
		log.Error().Err(result.Error).Str("to", resolved.Address).Msg("dispatch failed")
		p.record(&history.Record{
			MessageID:    id,
			VisitorEmail: resolved.Address,
			VisitorName:  resolved.Name,
			Subject:      msg.Subject,
			Status:       history.StatusFailed,
			Fallback:     draft.Fallback,
			Error:        result.Error.Error(),
		})
		return
	}

	// Record only after a confirmed send. A crash between here and the
	// flush risks one duplicate reply on the next run, which is accepted.
	if err := p.ledger.Record(id); err != nil {
		log.Warn().Err(err).Msg("ledger write failed; duplicate reply possible on next run")
	}
	if err := p.mailbox.MarkSeen(msg.UID); err != nil {
		log.Warn().Err(err).Msg("failed to mark message seen")
	}

	summary.Replied++
	log.Info().Str("to", resolved.Address).Bool("fallback", draft.Fallback).
		Msg("reply sent")
	p.record(&history.Record{
		MessageID:    id,
		VisitorEmail: resolved.Address,
		VisitorName:  resolved.Name,
		Subject:      msg.Subject,
		Status:       history.StatusSent,
		Fallback:     draft.Fallback,
		SentAt:       time.Now(),
	})
}

func (p *Pipeline) record(r *history.Record) {
	if p.history == nil {
		return
	}
	if err := p.history.Add(r); err != nil {
		p.log.Warn().Err(err).Msg("failed to write history record")
	}
}

// messageKey returns the stable identifier used for deduplication. The
// protocol-assigned Message-ID is preferred; a UID-derived key covers the
// rare message without one.
func messageKey(msg *inbox.Message) string {
	if msg.MessageID != "" {
		return msg.MessageID
	}
	return fmt.Sprintf("uid:%d:%d", msg.UID, msg.ReceivedAt.Unix())
}
