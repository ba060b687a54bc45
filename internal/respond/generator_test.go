package respond

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/formecho/formecho/internal/extract"
)

type stubCompleter struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (s *stubCompleter) Complete(_ context.Context, _, userPrompt string) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, userPrompt)
	var reply string
	var err error
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return reply, err
}

func testIdentity() Identity {
	return Identity{
		CompanyName: "Acme Corp",
		Description: "company that values your inquiry",
		TeamName:    "Customer Support Team",
		Tone:        "friendly and professional",
	}
}

func newTestGenerator(t *testing.T, completer Completer, policy RetryPolicy) *Generator {
	t.Helper()
	g, err := NewGenerator(completer, testIdentity(), policy, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func rateLimitErr() error {
	return &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "rate limited"}
}

func wrapURLError(err error) error {
	return &url.Error{Op: "Post", URL: "https://api.openai.com/v1/chat/completions", Err: err}
}

func TestGenerateSuccess(t *testing.T) {
	stub := &stubCompleter{replies: []string{"Hello Jane, thanks for reaching out."}}
	g := newTestGenerator(t, stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: func(time.Duration) {}})

	draft := g.Generate(context.Background(), "Jane Doe", "I need a quote", extract.Fields{"email": "jane@example.com"})

	if draft.Fallback {
		t.Error("successful generation should not be marked fallback")
	}
	if draft.Text != "Hello Jane, thanks for reaching out." {
		t.Errorf("text = %q", draft.Text)
	}
	if stub.calls != 1 {
		t.Errorf("calls = %d, want 1", stub.calls)
	}
}

func TestPromptContents(t *testing.T) {
	stub := &stubCompleter{replies: []string{"ok"}}
	g := newTestGenerator(t, stub, RetryPolicy{MaxAttempts: 1, Sleep: func(time.Duration) {}})

	g.Generate(context.Background(), "Jane Doe", "I need a quote", extract.Fields{"phone": "555-0100"})

	prompt := stub.prompts[0]
	for _, want := range []string{"Acme Corp", "Jane Doe", "I need a quote", "555-0100", "friendly and professional", "Customer Support Team"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestPromptUnknownName(t *testing.T) {
	stub := &stubCompleter{replies: []string{"ok"}}
	g := newTestGenerator(t, stub, RetryPolicy{MaxAttempts: 1, Sleep: func(time.Duration) {}})

	g.Generate(context.Background(), "", "hello", nil)

	if !strings.Contains(stub.prompts[0], "Visitor's name: Unknown") {
		t.Error("empty name should become Unknown in the prompt")
	}
}

func TestRetryExhaustionFallsBack(t *testing.T) {
	stub := &stubCompleter{errs: []error{rateLimitErr(), rateLimitErr(), rateLimitErr()}}
	var delays []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Sleep:       func(d time.Duration) { delays = append(delays, d) },
	}
	g := newTestGenerator(t, stub, policy)

	draft := g.Generate(context.Background(), "Jane Doe", "I need a quote", nil)

	if stub.calls != 3 {
		t.Errorf("calls = %d, want exactly MaxAttempts (3)", stub.calls)
	}
	if len(delays) != 2 {
		t.Fatalf("got %d sleeps, want 2", len(delays))
	}
	if delays[0] != 5*time.Second || delays[1] != 10*time.Second {
		t.Errorf("delays = %v, want [5s 10s]", delays)
	}
	if delays[1] <= delays[0] {
		t.Error("backoff delays must be strictly increasing")
	}
	if !draft.Fallback {
		t.Error("exhausted retries must yield the fallback draft")
	}
	if !strings.Contains(draft.Text, "Jane Doe") {
		t.Errorf("fallback %q missing visitor name", draft.Text)
	}
	if !strings.Contains(draft.Text, "Acme Corp") {
		t.Errorf("fallback %q missing company name", draft.Text)
	}
}

func TestNonRetryableFailsFastToFallback(t *testing.T) {
	stub := &stubCompleter{errs: []error{&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}}}
	slept := false
	g := newTestGenerator(t, stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: func(time.Duration) { slept = true }})

	draft := g.Generate(context.Background(), "Bob", "hi", nil)

	if stub.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", stub.calls)
	}
	if slept {
		t.Error("no backoff should happen for a non-retryable failure")
	}
	if !draft.Fallback {
		t.Error("want fallback draft")
	}
}

func TestConnectivityErrorIsRetried(t *testing.T) {
	connErr := errors.New("dial tcp: connection refused")
	stub := &stubCompleter{
		errs:    []error{wrapURLError(connErr), nil},
		replies: []string{"", "Recovered reply"},
	}
	g := newTestGenerator(t, stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: func(time.Duration) {}})

	draft := g.Generate(context.Background(), "Bob", "hi", nil)

	if stub.calls != 2 {
		t.Errorf("calls = %d, want 2", stub.calls)
	}
	if draft.Fallback || draft.Text != "Recovered reply" {
		t.Errorf("draft = %+v, want recovered reply", draft)
	}
}

func TestFallbackGenericGreeting(t *testing.T) {
	stub := &stubCompleter{errs: []error{&openai.APIError{HTTPStatusCode: http.StatusBadRequest}}}
	g := newTestGenerator(t, stub, RetryPolicy{MaxAttempts: 1, Sleep: func(time.Duration) {}})

	draft := g.Generate(context.Background(), "", "hi", nil)

	if !strings.Contains(draft.Text, "Dear there,") {
		t.Errorf("fallback %q should greet with generic 'there'", draft.Text)
	}
}

func TestFallbackContainsDate(t *testing.T) {
	stub := &stubCompleter{errs: []error{&openai.APIError{HTTPStatusCode: http.StatusBadRequest}}}
	g := newTestGenerator(t, stub, RetryPolicy{MaxAttempts: 1, Sleep: func(time.Duration) {}})
	g.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

	draft := g.Generate(context.Background(), "Bob", "hi", nil)

	if !strings.Contains(draft.Text, "2026-03-14") {
		t.Errorf("fallback %q missing current date", draft.Text)
	}
}

func TestEmptyReplyUsesFallback(t *testing.T) {
	stub := &stubCompleter{replies: []string{"   "}}
	g := newTestGenerator(t, stub, RetryPolicy{MaxAttempts: 3, Sleep: func(time.Duration) {}})

	draft := g.Generate(context.Background(), "Bob", "hi", nil)

	if !draft.Fallback {
		t.Error("blank generation output must fall back")
	}
	if draft.Text == "" {
		t.Error("reply text must never be empty")
	}
}
