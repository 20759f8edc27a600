package exporter

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"path"
	"time"

	"github.com/euforicio/codebook/internal/content/tree"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

type templateRenderer struct {
	tmpl *template.Template
}

// siteTreeLevel is one nesting level of the exported sidebar. Root is the
// relative prefix back to the export root from the page being rendered.
type siteTreeLevel struct {
	Nodes  []*tree.Node
	Active string
	Root   string
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"subtree": func(nodes []*tree.Node, active, root string) siteTreeLevel {
			return siteTreeLevel{Nodes: nodes, Active: active, Root: root}
		},
		"pageURL": toHTMLRel,
		"isActive": func(active, rel string) bool {
			return active != "" && path.Clean(active) == path.Clean(rel)
		},
		"stamp":        stamp,
		"sampleStatus": sampleStatus,
	}

	base, err := template.New("site").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}
	return &templateRenderer{tmpl: base}, nil
}

func (r *templateRenderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

// stamp formats times in UTC so exports do not depend on the build machine.
func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("Jan 2, 2006 15:04 MST")
}

// sampleStatus is the note printed under a sample report, or "" when the
// program compiled and exited cleanly.
func sampleStatus(s *sampleViewData) string {
	switch {
	case s == nil:
		return ""
	case s.CompileTimedOut:
		return "Compilation was stopped after its time limit."
	case s.TimedOut:
		return "The program was stopped after its time limit."
	case s.ExitCode != 0:
		return fmt.Sprintf("Exited with status %d.", s.ExitCode)
	default:
		return ""
	}
}
