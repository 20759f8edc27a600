// Package codebook is an object-oriented design course served as markdown
// chapters with an in-browser Java editor and a javac/java runner.
//
// Regenerate the syntax highlighting stylesheet with:
//
//	go generate
package codebook

//go:generate go run ./tools/generate-chroma-css --style github-dark --out static/css/chroma.css
