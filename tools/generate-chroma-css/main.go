// Package main writes the Chroma stylesheet that colors highlighted chapter code.
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/spf13/pflag"
)

func main() {
	styleName := pflag.String("style", "github-dark", "chroma style to render")
	out := pflag.StringP("out", "o", "", "write to this file instead of stdout")
	pflag.Parse()

	style := styles.Get(*styleName)
	if style == nil || style == styles.Fallback && *styleName != styles.Fallback.Name {
		fmt.Fprintf(os.Stderr, "style %q not found\n", *styleName)
		os.Exit(1)
	}

	formatter := html.New(
		html.WithClasses(true),
		html.ClassPrefix(""),
	)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "/* Generated by tools/generate-chroma-css (style: %s). */\n", *styleName)
	if err := formatter.WriteCSS(&buf, style); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating CSS: %v\n", err)
		os.Exit(1)
	}

	if *out == "" {
		_, _ = buf.WriteTo(os.Stdout)
		return
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil { //nolint:gosec // generated stylesheet
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
}
