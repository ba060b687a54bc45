package respond

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/formecho/formecho/internal/extract"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

const systemPrompt = "You are a helpful assistant that writes professional email responses."

// Identity is who the bot replies as.
type Identity struct {
	CompanyName string
	Description string
	TeamName    string
	Tone        string
}

// Draft is the reply body for one submission, either generated or the
// deterministic fallback. Immutable once produced.
type Draft struct {
	Text     string
	Fallback bool
}

// Generator turns a resolved submission into reply text. It leans on the
// generative service but is built never to come back empty-handed: any
// failure that survives the retry policy lands on the fallback template.
type Generator struct {
	completer Completer
	identity  Identity
	policy    RetryPolicy
	fallback  *template.Template
	now       func() time.Time
	log       zerolog.Logger
}

func NewGenerator(completer Completer, identity Identity, policy RetryPolicy, log zerolog.Logger) (*Generator, error) {
	content, err := embeddedTemplates.ReadFile("templates/fallback.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded fallback template: %w", err)
	}
	tmpl, err := template.New("fallback").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse fallback template: %w", err)
	}

	return &Generator{
		completer: completer,
		identity:  identity,
		policy:    policy.normalized(),
		fallback:  tmpl,
		now:       time.Now,
		log:       log.With().Str("component", "generator").Logger(),
	}, nil
}

// Generate produces the reply for one visitor. It never returns an error:
// exhausted retries and hard failures yield the fallback draft instead.
func (g *Generator) Generate(ctx context.Context, name, bodyText string, fields extract.Fields) Draft {
	prompt := g.buildPrompt(name, bodyText, fields)

	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		text, err := g.completer.Complete(ctx, systemPrompt, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				return Draft{Text: text}
			}
			g.log.Warn().Msg("generative service returned empty text, using fallback")
			return g.fallbackDraft(name)
		}

		lastErr = err
		if !retryable(err) {
			g.log.Warn().Err(err).Msg("non-retryable generation failure, using fallback")
			return g.fallbackDraft(name)
		}
		if attempt < g.policy.MaxAttempts {
			delay := time.Duration(attempt) * g.policy.BaseDelay
			g.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).
				Msg("generation failed, retrying")
			g.policy.Sleep(delay)
		}
	}

	g.log.Warn().Err(lastErr).Int("attempts", g.policy.MaxAttempts).
		Msg("generation retries exhausted, using fallback")
	return g.fallbackDraft(name)
}

func (g *Generator) buildPrompt(name, bodyText string, fields extract.Fields) string {
	if name == "" {
		name = "Unknown"
	}
	fieldJSON, err := json.Marshal(fields)
	if err != nil {
		fieldJSON = []byte("{}")
	}

	return fmt.Sprintf(`You are an AI assistant representing %s, a %s.

Write a %s response email to a website visitor who submitted a contact form.

Visitor's name: %s
Visitor's message: %q

Additional form fields: %s

Your response should:
1. Be professional and helpful
2. Acknowledge their specific inquiry
3. Provide relevant information based on their message
4. Include a signature as from the %s

Keep the response concise (150-200 words maximum).`,
		g.identity.CompanyName, g.identity.Description, g.identity.Tone,
		name, bodyText, fieldJSON, g.identity.TeamName)
}

type fallbackData struct {
	Greeting    string
	CompanyName string
	TeamName    string
	Date        string
}

func (g *Generator) fallbackDraft(name string) Draft {
	greeting := name
	if greeting == "" {
		greeting = "there"
	}
	data := fallbackData{
		Greeting:    greeting,
		CompanyName: g.identity.CompanyName,
		TeamName:    g.identity.TeamName,
		Date:        g.now().Format("2006-01-02"),
	}

	var buf bytes.Buffer
	if err := g.fallback.Execute(&buf, data); err != nil {
		// The reply must never be empty, template or not
		return Draft{
			Text:     fmt.Sprintf("Dear %s,\n\nThank you for contacting %s. We will get back to you shortly.\n\nBest regards,\nThe %s", greeting, g.identity.CompanyName, g.identity.TeamName),
			Fallback: true,
		}
	}
	return Draft{Text: strings.TrimSpace(buf.String()), Fallback: true}
}
