package bot

import (
	"html"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/remarkable-relay/internal/remarkable"
)

// maxSearchResults caps how many items a search reply lists.
const maxSearchResults = 5

// normalizeName folds s for matching: accents removed, lower-cased, and
// everything that is not a letter or digit stripped. "Invoice 2023" and
// "invoice_2023" both become "invoice2023".
func normalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))

	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// filterItems returns up to maxSearchResults items whose normalized name
// contains the normalized term, in listing order. An empty term matches
// everything.
func filterItems(items []remarkable.Item, term string) []remarkable.Item {
	needle := normalizeName(term)
	matched := make([]remarkable.Item, 0, maxSearchResults)

	for _, item := range items {
		if needle != "" && !strings.Contains(normalizeName(item.Name), needle) {
			continue
		}

		matched = append(matched, item)
		if len(matched) == maxSearchResults {
			break
		}
	}

	return matched
}

// renderItems formats search results as Telegram HTML.
func renderItems(items []remarkable.Item) string {
	blocks := make([]string, 0, len(items))

	for _, item := range items {
		var b strings.Builder

		b.WriteString("<b>" + html.EscapeString(item.Name) + "</b> (" + kindLabel(item.Kind) + ")\n")
		b.WriteString("ID: <code>" + html.EscapeString(item.ID) + "</code>")

		if item.DownloadURL != "" {
			b.WriteString("\n<a href=\"" + html.EscapeString(item.DownloadURL) + "\">Download</a>")
		}

		blocks = append(blocks, b.String())
	}

	return strings.Join(blocks, "\n\n")
}

func kindLabel(kind string) string {
	switch kind {
	case remarkable.KindDocument:
		return "document"
	case remarkable.KindCollection:
		return "folder"
	default:
		return "unknown"
	}
}
