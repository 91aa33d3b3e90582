package crawler

import "strings"

// WrapScript turns a function body that uses `return` into an expression that
// evaluates to the JSON encoding of the returned value ("null" for undefined).
// Async bodies may use await; drivers must await the resulting promise.
func WrapScript(body string, async bool) string {
	var b strings.Builder
	if async {
		b.WriteString("(async () => { const __r = await (async function() {\n")
	} else {
		b.WriteString("(() => { const __r = (function() {\n")
	}
	b.WriteString(body)
	b.WriteString("\n})(); const __s = JSON.stringify(__r); return __s === undefined ? \"null\" : __s; })()")
	return b.String()
}
