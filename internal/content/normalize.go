// Package content normalizes inbound email bodies before storage. Reply
// bodies arrive with transport encoding intact and with the full quoted
// history of the conversation appended; storing them raw makes every
// downstream consumer re-clean the text. Normalization runs exactly once,
// synchronously, in the ingestion path.
package content

import (
	"regexp"
	"strings"
)

var (
	softBreakPattern      = regexp.MustCompile(`=\r?\n`)
	headerArtifactPattern = regexp.MustCompile(`(?im)^(?:Content-Transfer-Encoding|Content-Type|MIME-Version):[^\n]*\n?`)
	quotedReplyPattern    = regexp.MustCompile(`(?is)^(.*?)On .+? wrote:`)
)

// Normalize cleans a raw inbound body: decodes quoted-printable transport
// encoding, strips MIME header lines that leaked into the body, truncates the
// quoted reply history at the first "On <date/sender> wrote:" marker, drops
// remaining quoted (">") lines, and trims surrounding whitespace.
//
// Normalize is idempotent: running it on already-clean text is a no-op. If
// cleaning would leave nothing, the original body is returned unmodified
// rather than discarding the only content available.
func Normalize(raw string) string {
	if raw == "" {
		return raw
	}

	s := decodeQuotedPrintable(raw)
	s = headerArtifactPattern.ReplaceAllString(s, "")

	if m := quotedReplyPattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}

	s = dropQuotedLines(s)
	s = strings.TrimSpace(s)

	if s == "" {
		return raw
	}
	return s
}

// decodeQuotedPrintable collapses soft line breaks and decodes =XX hex
// escapes. It repeats until the text is stable, so re-running the normalizer
// on its own output changes nothing.
func decodeQuotedPrintable(s string) string {
	for i := 0; i < 8; i++ {
		next := decodePass(s)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

func decodePass(s string) string {
	s = softBreakPattern.ReplaceAllString(s, "")

	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '=' {
			if i+2 < len(s) && isUpperHex(s[i+1]) && isUpperHex(s[i+2]) {
				b = append(b, hexValue(s[i+1])<<4|hexValue(s[i+2]))
				i += 2
				continue
			}
			// Dangling soft break at end of input.
			if i == len(s)-1 {
				continue
			}
		}
		b = append(b, c)
	}
	return string(b)
}

func isUpperHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) byte {
	if c >= 'A' {
		return c - 'A' + 10
	}
	return c - '0'
}

// dropQuotedLines removes lines that begin with a quote marker, keeping
// interior blank lines so paragraphs survive.
func dropQuotedLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Preview truncates normalized text for a thread's last-message preview.
func Preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
