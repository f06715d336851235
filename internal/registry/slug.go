package registry

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug turns a display name into a directory-safe handle: lower case,
// accents removed, every run of other characters collapsed to a single dash.
func Slug(s string) string {
	plain, _, err := transform.String(stripAccents, s)
	if err != nil {
		plain = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(plain) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// FolderHandle derives the install folder for name checked out at branch.
// Branches other than main and master are appended as a suffix.
func FolderHandle(name, branch string) string {
	handle := Slug(name)
	branchHandle := Slug(branch)
	if branchHandle == "" || branchHandle == "main" || branchHandle == "master" {
		return handle
	}
	return handle + "-" + branchHandle
}
