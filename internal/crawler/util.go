package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	templateToken        = regexp.MustCompile(`\{([a-z_]+)\}`)
)

// FormatTemplate replaces {token} placeholders with values. Unknown tokens are
// left untouched so misconfigured templates stay visible in the output.
func FormatTemplate(tmpl string, values map[string]string) string {
	return templateToken.ReplaceAllStringFunc(tmpl, func(tok string) string {
		if v, ok := values[tok[1:len(tok)-1]]; ok {
			return v
		}
		return tok
	})
}

// SafeName collapses characters that are unsafe in file names.
func SafeName(raw string) string {
	cleaned := invalidFilenameChars.ReplaceAllString(strings.TrimSpace(raw), "_")
	return strings.Trim(cleaned, "._")
}

// URLExtension returns the lowercase extension of the URL path without the dot.
func URLExtension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) < 2 {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// IsAbsoluteHTTP reports whether raw is an absolute http(s) URL with a host.
func IsAbsoluteHTTP(raw string) bool {
	if strings.ContainsAny(raw, " \t\r\n") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
