// Package transform holds goldmark hooks for chapter-specific fenced blocks.
package transform

import (
	"bytes"
	"strings"

	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/util"
)

// FenceWrapper renders ```mermaid fences as a div mermaid.js can hydrate and
// wraps highlighted blocks in the runnable language with a code-sample figure
// the page script attaches a "Try it" button to.
func FenceWrapper(runnable string) highlighting.WrapperRenderer {
	runnable = strings.ToLower(strings.TrimSpace(runnable))
	return func(w util.BufWriter, ctx highlighting.CodeBlockContext, entering bool) {
		raw, _ := ctx.Language()
		lang := strings.ToLower(string(bytes.TrimSpace(raw)))

		if ctx.Highlighted() {
			if runnable == "" || lang != runnable {
				return
			}
			if entering {
				_, _ = w.WriteString(`<div class="code-sample" data-runnable="true" data-language="`)
				_, _ = w.Write(util.EscapeHTML([]byte(lang)))
				_, _ = w.WriteString(`">`)
			} else {
				_, _ = w.WriteString("</div>\n")
			}
			return
		}

		if lang == "mermaid" {
			if entering {
				_, _ = w.WriteString(`<div class="mermaid">`)
			} else {
				_, _ = w.WriteString("</div>\n")
			}
			return
		}

		if entering {
			_, _ = w.WriteString("<pre><code")
			if lang != "" {
				_, _ = w.WriteString(` class="language-`)
				_, _ = w.Write(util.EscapeHTML([]byte(lang)))
				_, _ = w.WriteString(`"`)
			}
			_, _ = w.WriteString(">")
			return
		}
		_, _ = w.WriteString("</code></pre>\n")
	}
}
