package light

import "strings"

var transliterations = map[rune]string{
	'ä': "a", 'ö': "o", 'ü': "u", 'ß': "ss",
	'à': "a", 'á': "a", 'â': "a", 'è': "e", 'é': "e", 'ê': "e",
	'ì': "i", 'í': "i", 'ò': "o", 'ó': "o", 'ô': "o", 'ù': "u", 'ú': "u",
	'ç': "c", 'ñ': "n", 'å': "a", 'ø': "o", 'æ': "ae",
}

// slugify lowercases name, transliterates common accented letters and
// joins the remaining alphanumeric runs with single underscores.
//
//	"Treppe Top Notification" -> "treppe_top_notification"
//	"Heizkörper Bad"          -> "heizkorper_bad"
func slugify(name string) string {
	var b strings.Builder
	pendingSep := false

	for _, r := range strings.ToLower(name) {
		if t, ok := transliterations[r]; ok {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteString(t)
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
