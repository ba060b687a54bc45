package inbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/formecho/formecho/internal/config"
	"github.com/formecho/formecho/internal/extract"
)

// Message is the immutable view of one fetched relay notification.
type Message struct {
	UID        uint32 // IMAP UID for flag operations
	MessageID  string
	Subject    string
	From       string // address component of the From header
	FromName   string // sender display name
	ReplyTo    string
	ReturnPath string
	ReceivedAt time.Time
	Parts      []extract.BodyPart
}

// RawBody concatenates every body part, for whole-text address scans.
func (m *Message) RawBody() string {
	texts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n")
}

// Monitor handles the IMAP connection to the shared mailbox that receives
// form-relay notifications.
type Monitor struct {
	config config.InboxConfig
	relay  string
	client *client.Client
	log    zerolog.Logger
}

func NewMonitor(cfg config.InboxConfig, relayIdentifier string, log zerolog.Logger) *Monitor {
	return &Monitor{
		config: cfg,
		relay:  relayIdentifier,
		log:    log.With().Str("component", "inbox").Logger(),
	}
}

// Connect establishes the IMAP connection and logs in.
func (m *Monitor) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)

	m.log.Info().Str("addr", addr).Msg("connecting to IMAP server")

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(m.config.Email, m.config.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	m.client = c
	m.log.Info().Str("email", m.config.Email).Msg("login successful")
	return nil
}

// Disconnect closes the IMAP connection.
func (m *Monitor) Disconnect() error {
	if m.client != nil {
		return m.client.Logout()
	}
	return nil
}

// FetchUnseenRelay returns unseen messages whose From header matches the
// relay identifier, in mailbox search order (ascending arrival order).
// Fetching peeks at the body so the \Seen flag is only ever set by
// MarkSeen after a successful reply.
func (m *Monitor) FetchUnseenRelay(ctx context.Context) ([]Message, error) {
	if m.client == nil {
		return nil, fmt.Errorf("not connected to IMAP server")
	}

	mbox, err := m.client.Select(m.config.Folder, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.config.Folder, err)
	}

	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("From", m.relay)

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	m.log.Info().Int("count", len(uids)).Str("relay", m.relay).
		Msg("unseen relay messages found")

	if len(uids) == 0 {
		return nil, nil
	}

	// Fetch in batches to keep memory bounded on large backlogs
	var messages []Message
	batchSize := 50
	for i := 0; i < len(uids); i += batchSize {
		end := i + batchSize
		if end > len(uids) {
			end = len(uids)
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[i:end]...)

		section := &imap.BodySectionName{Peek: true}
		ch := make(chan *imap.Message, batchSize)
		done := make(chan error, 1)
		go func() {
			done <- m.client.UidFetch(seqSet, []imap.FetchItem{
				imap.FetchEnvelope,
				imap.FetchUid,
				section.FetchItem(),
			}, ch)
		}()

		for msg := range ch {
			parsed, err := m.parseMessage(msg, section)
			if err != nil {
				m.log.Warn().Err(err).Msg("failed to parse message")
				continue
			}
			if parsed != nil {
				messages = append(messages, *parsed)
			}
		}

		if err := <-done; err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}
	}

	return messages, nil
}

// parseMessage converts an IMAP message into our Message view.
func (m *Monitor) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil
	}

	out := &Message{
		UID:        msg.Uid,
		MessageID:  msg.Envelope.MessageId,
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.Envelope.Date,
	}

	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		out.From = from.Address()
		out.FromName = from.PersonalName
	}
	if len(msg.Envelope.ReplyTo) > 0 {
		out.ReplyTo = msg.Envelope.ReplyTo[0].Address()
	}

	r := msg.GetBody(section)
	if r == nil {
		return out, nil
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return out, nil // keep envelope data even when the body won't parse
	}

	out.ReturnPath = strings.Trim(mr.Header.Get("Return-Path"), "<> ")

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(p.Body)
			switch {
			case strings.HasPrefix(ct, "text/html"):
				out.Parts = append(out.Parts, extract.BodyPart{Kind: extract.KindHTML, Text: string(body)})
			case strings.HasPrefix(ct, "text/"):
				out.Parts = append(out.Parts, extract.BodyPart{Kind: extract.KindPlain, Text: string(body)})
			}
		}
	}

	return out, nil
}

// MarkSeen sets the \Seen flag on a message after its reply went out.
func (m *Monitor) MarkSeen(uid uint32) error {
	if m.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := m.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	return nil
}

// Watch blocks in IMAP IDLE and invokes callback whenever the mailbox
// changes, until ctx is done.
func (m *Monitor) Watch(ctx context.Context, callback func()) error {
	if m.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	if _, err := m.client.Select(m.config.Folder, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	updates := make(chan client.Update)
	m.client.Updates = updates

	stop := make(chan struct{})
	idleDone := make(chan error, 1)

	go func() {
		idleDone <- m.client.Idle(stop, nil)
	}()

	m.log.Info().Msg("watching for new mail")

	for {
		select {
		case <-ctx.Done():
			close(stop)
			return ctx.Err()
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); !ok {
				continue
			}
			close(stop)
			<-idleDone

			callback()

			stop = make(chan struct{})
			go func() {
				idleDone <- m.client.Idle(stop, nil)
			}()
		case err := <-idleDone:
			if err != nil {
				return fmt.Errorf("IDLE error: %w", err)
			}
		}
	}
}
