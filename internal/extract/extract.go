package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind tags a message body part with its media type.
type Kind string

const (
	KindPlain Kind = "text/plain"
	KindHTML  Kind = "text/html"
)

// BodyPart is one decoded segment of a message body.
type BodyPart struct {
	Kind Kind
	Text string
}

// Fields is the normalized key-value view of a form submission.
// Keys are lower-cased and trimmed; values are trimmed.
type Fields map[string]string

// Synonyms seen across relay formats, mapped to canonical field names
var fieldSynonyms = map[string]string{
	"fullname":  "name",
	"full name": "name",
	"content":   "message",
	"comment":   "message",
	"comments":  "message",
}

func canonicalField(name string) string {
	if canon, ok := fieldSynonyms[name]; ok {
		return canon
	}
	return name
}

// Name returns the visitor's display name, checking synonyms.
func (f Fields) Name() string {
	for _, key := range []string{"name", "fullname", "full name"} {
		if v := f[key]; v != "" {
			return v
		}
	}
	return ""
}

// Message returns the visitor's message text, checking synonyms.
func (f Fields) Message() string {
	for _, key := range []string{"message", "content", "comment", "comments"} {
		if v := f[key]; v != "" {
			return v
		}
	}
	return ""
}

// Extractor recovers form fields from relay notification bodies. Relay
// services serialize the same submission in wildly different shapes (tab
// tables, HTML tables, colon pairs, bare prose), so extraction runs a
// cascade of strategies and merges their results, earlier strategies
// winning on key conflicts.
type Extractor struct {
	relay string
}

// New returns an Extractor that excludes relay-owned addresses when
// rescuing an email from unstructured text.
func New(relayIdentifier string) *Extractor {
	return &Extractor{relay: relayIdentifier}
}

// Extract produces the field map for a message's body parts. It never
// fails: unparseable content simply contributes no fields.
func (e *Extractor) Extract(parts []BodyPart) Fields {
	var plain, html, all []string
	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		all = append(all, p.Text)
		if p.Kind == KindHTML {
			html = append(html, p.Text)
		} else {
			plain = append(plain, p.Text)
		}
	}

	textual := strings.Join(plain, "\n")
	htmlText := strings.Join(html, "\n")
	if textual == "" && htmlText != "" {
		// No plain part: run the line strategies over the rendered text
		textual = renderHTMLText(htmlText)
	}

	fields := Fields{}
	merge(fields, extractTabTable(textual))
	if htmlText != "" {
		merge(fields, extractHTMLTable(htmlText))
	}
	merge(fields, extractColonLines(textual))
	merge(fields, extractLabelLines(textual))

	// Regex rescue: the submission's address is often buried in prose
	if _, ok := fields["email"]; !ok {
		if addr := FindAddress(strings.Join(all, "\n"), e.relay); addr != "" {
			fields["email"] = addr
		}
	}

	return fields
}

// merge copies src entries into dst without overwriting existing keys.
func merge(dst, src Fields) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

const tabTableHeader = "Name\tValue"

// extractTabTable handles the tab-separated format some relays use:
// a "Name<TAB>Value" header line followed by one tab-delimited row per field.
func extractTabTable(text string) Fields {
	if !strings.Contains(text, tabTableHeader) {
		return nil
	}

	lines := strings.Split(text, "\n")
	start := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == tabTableHeader {
			start = i + 1
			break
		}
	}

	fields := Fields{}
	for _, line := range lines[start:] {
		name, value, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(name))
		val := strings.TrimSpace(value)
		if key == "" || val == "" {
			continue
		}
		if _, exists := fields[key]; !exists {
			fields[key] = val
		}
	}
	return fields
}

// extractHTMLTable handles relays that render the submission as an HTML
// table: cell one is the field name, cell two its value.
func extractHTMLTable(html string) Fields {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	fields := Fields{}
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		key := canonicalField(strings.ToLower(strings.TrimSpace(cells.Eq(0).Text())))
		val := strings.TrimSpace(cells.Eq(1).Text())
		if key == "" || val == "" {
			return
		}
		if key == "name" && strings.EqualFold(val, "value") {
			// header row of a "Name | Value" style table
			return
		}
		if _, exists := fields[key]; !exists {
			fields[key] = val
		}
	})
	return fields
}

// A label is a short leading token followed by a colon and either
// whitespace or end of line ("Email: x@y.com", "Message:").
var labelRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 _'-]{0,59}):(?:\s+(.*))?$`)

// Fields whose values may span multiple lines
var multilineFields = map[string]bool{
	"message":  true,
	"comments": true,
}

// extractColonLines handles "Label: value" lines. Message-like fields are
// captured greedily across lines until the next recognized label.
func extractColonLines(text string) Fields {
	fields := Fields{}
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		m := labelRegex.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(m[1]))
		val := strings.TrimSpace(m[2])

		if multilineFields[key] {
			chunks := []string{}
			if val != "" {
				chunks = append(chunks, val)
			}
			for i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if labelRegex.MatchString(next) {
					break
				}
				i++
				if next != "" {
					chunks = append(chunks, next)
				}
			}
			val = strings.Join(chunks, "\n")
		}

		if val == "" {
			continue
		}
		if _, exists := fields[key]; !exists {
			fields[key] = val
		}
	}
	return fields
}

// extractLabelLines handles the format where a line ending in a bare colon
// names a field and the following non-empty line carries its value.
func extractLabelLines(text string) Fields {
	fields := Fields{}
	current := ""
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") {
			label := strings.TrimSpace(strings.TrimSuffix(line, ":"))
			if label != "" && !strings.Contains(label, ":") {
				current = strings.ToLower(label)
				continue
			}
		}
		if current != "" {
			if _, exists := fields[current]; !exists {
				fields[current] = line
			}
			current = ""
		}
	}
	return fields
}

var tagRegex = regexp.MustCompile(`<[^>]+>`)

// renderHTMLText converts markup to plain text for the line strategies.
func renderHTMLText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Fallback to tag stripping
		return tagRegex.ReplaceAllString(html, " ")
	}
	return doc.Text()
}
