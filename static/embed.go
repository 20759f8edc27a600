// Package static embeds the stylesheet, syntax theme and client script.
package static

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

//go:embed css/*.css js/*.js
var assets embed.FS

// Stylesheet paths referenced by templates and exports.
const (
	AppCSS    = "css/app.css"
	ChromaCSS = "css/chroma.css"
	AppJS     = "js/app.js"
)

// HTTP returns an http.FileSystem backed by the embedded assets.
func HTTP() http.FileSystem {
	return http.FS(assets)
}

// Read returns one embedded asset by its slash path.
func Read(name string) ([]byte, error) {
	data, err := fs.ReadFile(assets, strings.TrimPrefix(name, "/"))
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", name, err)
	}
	return data, nil
}

// CopyAll writes every embedded asset below dest, keeping the css/ and js/ layout.
func CopyAll(dest string) error {
	return fs.WalkDir(assets, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(assets, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // standard directory permissions
			return err
		}
		return os.WriteFile(target, data, 0o644) //nolint:gosec // standard file permissions
	})
}
