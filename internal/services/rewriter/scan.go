package rewriter

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// TokenPrefix marks a word as an emote reference.
const TokenPrefix = "$"

var tokenPattern = regexp.MustCompile(`\$([^\s$]+)`)

// Scan returns the distinct emote names referenced in content, longest
// first so that a name is always handled before any of its prefixes.
func Scan(content string) []string {
	matches := tokenPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}

	sort.SliceStable(names, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(names[i]), utf8.RuneCountInString(names[j])
		if li != lj {
			return li > lj
		}
		return names[i] < names[j]
	})
	return names
}

// Substitute replaces every $name token that has a replacement. Tokens
// are matched whole, so $duck never rewrites part of $duckling.
func Substitute(content string, replacements map[string]string) string {
	if len(replacements) == 0 {
		return content
	}
	return tokenPattern.ReplaceAllStringFunc(content, func(token string) string {
		if r, ok := replacements[strings.TrimPrefix(token, TokenPrefix)]; ok {
			return r
		}
		return token
	})
}

// SingleToken reports whether content is nothing but one $name token and
// returns the name.
func SingleToken(content string) (string, bool) {
	fields := strings.Fields(content)
	if len(fields) != 1 {
		return "", false
	}
	m := tokenPattern.FindStringSubmatch(fields[0])
	if m == nil || m[0] != fields[0] {
		return "", false
	}
	return m[1], true
}
