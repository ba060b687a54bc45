package resolve

import (
	"net/mail"
	"sort"
	"strings"

	"github.com/formecho/formecho/internal/extract"
)

// Headers is the envelope view the resolver consults when the form fields
// don't carry a usable address. Values are raw header strings and may be in
// "Display Name <addr>" form.
type Headers struct {
	From       string
	ReplyTo    string
	ReturnPath string
}

// Resolved is the outcome of sender resolution. An empty Address means no
// permissible sender was found and the message must be skipped; the
// resolver never fabricates an address.
type Resolved struct {
	Address string
	Name    string
	Body    string
}

// Resolver picks the visitor's real address out of a relayed submission.
// The visible envelope sender is the relay service itself, so candidates
// matching the relay identifier are discarded at every step.
type Resolver struct {
	relay string
}

func New(relayIdentifier string) *Resolver {
	return &Resolver{relay: relayIdentifier}
}

// Resolve applies the precedence policy: extracted email field, then
// Reply-To, From and Return-Path headers, then the first permissible
// address anywhere in the raw body.
func (r *Resolver) Resolve(fields extract.Fields, headers Headers, rawBody string) Resolved {
	res := Resolved{
		Name: fields.Name(),
		Body: r.bodyText(fields),
	}

	if addr := fields["email"]; addr != "" && !extract.IsRelayAddress(addr, r.relay) {
		res.Address = addr
		return res
	}

	for _, header := range []string{headers.ReplyTo, headers.From, headers.ReturnPath} {
		addr := headerAddress(header)
		if addr != "" && !extract.IsRelayAddress(addr, r.relay) {
			res.Address = addr
			return res
		}
	}

	res.Address = extract.FindAddress(rawBody, r.relay)
	return res
}

// bodyText returns the visitor's message, or a synthesized summary of the
// remaining fields so the generator never works from an empty string when
// any fields exist at all.
func (r *Resolver) bodyText(fields extract.Fields) string {
	if msg := fields.Message(); msg != "" {
		return msg
	}
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(fields[k])
	}
	return b.String()
}

// headerAddress extracts the address component of a header value.
func headerAddress(header string) string {
	if header == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(header); err == nil {
		return addr.Address
	}
	// Malformed header: settle for anything address-shaped in it
	return extract.FindAddress(header, "")
}
