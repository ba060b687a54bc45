package resolve

import (
	"strings"
	"testing"

	"github.com/formecho/formecho/internal/extract"
)

const relayID = "formsubmit.co"

func TestFieldsEmailWins(t *testing.T) {
	fields := extract.Fields{"email": "jane@example.com", "name": "Jane Doe"}
	headers := Headers{From: "Other Person <other@elsewhere.com>"}

	res := New(relayID).Resolve(fields, headers, "")

	if res.Address != "jane@example.com" {
		t.Errorf("address = %q, want jane@example.com", res.Address)
	}
	if res.Name != "Jane Doe" {
		t.Errorf("name = %q, want Jane Doe", res.Name)
	}
}

func TestHeaderPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers Headers
		want    string
	}{
		{
			name: "reply-to preferred over from",
			headers: Headers{
				ReplyTo: "visitor@example.com",
				From:    "Form Relay <noreply@formsubmit.co>",
			},
			want: "visitor@example.com",
		},
		{
			name: "relay reply-to skipped, from used",
			headers: Headers{
				ReplyTo: "bounce@formsubmit.co",
				From:    "Real Visitor <real@example.com>",
			},
			want: "real@example.com",
		},
		{
			name: "return-path as last header resort",
			headers: Headers{
				ReplyTo:    "noreply@formsubmit.co",
				From:       "alerts@formsubmit.co",
				ReturnPath: "<returned@example.net>",
			},
			want: "returned@example.net",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(relayID).Resolve(extract.Fields{}, tt.headers, "")
			if res.Address != tt.want {
				t.Errorf("address = %q, want %q", res.Address, tt.want)
			}
		})
	}
}

func TestBodyScanIsFinalFallback(t *testing.T) {
	headers := Headers{
		From:    "noreply@formsubmit.co",
		ReplyTo: "noreply@formsubmit.co",
	}
	raw := "new submission relayed by formsubmit.co\ncontact: hidden@example.org"

	res := New(relayID).Resolve(extract.Fields{}, headers, raw)

	if res.Address != "hidden@example.org" {
		t.Errorf("address = %q, want hidden@example.org", res.Address)
	}
}

func TestNeverReturnsRelayAddress(t *testing.T) {
	fields := extract.Fields{"email": "submit@formsubmit.co"}
	headers := Headers{
		From:       "noreply@formsubmit.co",
		ReplyTo:    "Form Relay <relay@formsubmit.co>",
		ReturnPath: "<bounces@formsubmit.co>",
	}
	raw := "everything here is noreply@formsubmit.co and more@formsubmit.co"

	res := New(relayID).Resolve(fields, headers, raw)

	if res.Address != "" {
		t.Errorf("address = %q, want empty (all candidates are relay-owned)", res.Address)
	}
}

func TestMalformedHeaderStillYieldsAddress(t *testing.T) {
	headers := Headers{ReplyTo: "Jane Doe jane@example.com (no brackets)"}

	res := New(relayID).Resolve(extract.Fields{}, headers, "")

	if res.Address != "jane@example.com" {
		t.Errorf("address = %q, want jane@example.com", res.Address)
	}
}

func TestBodyFromMessageField(t *testing.T) {
	fields := extract.Fields{"email": "j@e.com", "message": "I need a quote"}

	res := New(relayID).Resolve(fields, Headers{}, "")

	if res.Body != "I need a quote" {
		t.Errorf("body = %q, want the message field", res.Body)
	}
}

func TestBodySynthesizedFromOtherFields(t *testing.T) {
	fields := extract.Fields{
		"email":   "j@e.com",
		"phone":   "555-0100",
		"subject": "pricing",
	}

	res := New(relayID).Resolve(fields, Headers{}, "")

	if res.Body == "" {
		t.Fatal("body must not be empty when fields exist")
	}
	for _, part := range []string{"phone: 555-0100", "subject: pricing"} {
		if !strings.Contains(res.Body, part) {
			t.Errorf("body %q missing %q", res.Body, part)
		}
	}
}

func TestBodyEmptyWhenNoFields(t *testing.T) {
	res := New(relayID).Resolve(extract.Fields{}, Headers{}, "")
	if res.Body != "" {
		t.Errorf("body = %q, want empty", res.Body)
	}
}

func TestNameFromSynonym(t *testing.T) {
	fields := extract.Fields{"fullname": "Jane Doe", "email": "j@e.com"}

	res := New(relayID).Resolve(fields, Headers{}, "")

	if res.Name != "Jane Doe" {
		t.Errorf("name = %q, want Jane Doe", res.Name)
	}
}
