// Package tree builds the chapter sidebar from a directory of markdown files.
package tree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/euforicio/codebook/internal/renderer"
)

// NodeType identifies what a tree node represents.
type NodeType string

// Node types.
const (
	NodeTypeDirectory NodeType = "directory"
	NodeTypeFile      NodeType = "file"
)

// Node is a sidebar entry: a part (directory) or a chapter (markdown file).
type Node struct {
	Modified     time.Time          `json:"modified"`
	Metadata     *renderer.Metadata `json:"metadata,omitempty"`
	Name         string             `json:"name"`
	RawName      string             `json:"rawName"`
	RelativePath string             `json:"relativePath"`
	Slug         string             `json:"slug"`
	Type         NodeType           `json:"type"`
	Title        string             `json:"title"`
	Children     []*Node            `json:"children,omitempty"`
	Size         int64              `json:"size"`
	Order        int                `json:"order,omitempty"`
	hasOrder     bool
}

// Options control how the tree is constructed.
type Options struct {
	Renderer      *renderer.Service
	ExcludeDirs   []string
	IncludeHidden bool
}

// Build walks root and returns the chapter tree. Empty directories are pruned.
func Build(ctx context.Context, root string, opts Options) (*Node, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	b := &builder{root: absRoot, opts: opts, exclude: make(map[string]struct{})}
	for _, list := range [][]string{defaultExcludedDirs, opts.ExcludeDirs} {
		for _, name := range list {
			if name = strings.TrimSpace(name); name != "" {
				b.exclude[strings.ToLower(name)] = struct{}{}
			}
		}
	}
	return b.buildDir(ctx, absRoot, "")
}

type builder struct {
	exclude map[string]struct{}
	root    string
	opts    Options
}

var defaultExcludedDirs = []string{
	"node_modules",
	"vendor",
	".git",
	".idea",
	".vscode",
	"out",
	"target",
	"build",
}

func (b *builder) buildDir(ctx context.Context, absPath, relPath string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", absPath, err)
	}

	children := make([]*Node, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !b.opts.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		childRel := filepath.Join(relPath, name)
		childAbs := filepath.Join(absPath, name)

		if entry.IsDir() {
			if _, skip := b.exclude[strings.ToLower(name)]; skip {
				continue
			}
			child, err := b.buildDir(ctx, childAbs, childRel)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
			continue
		}
		if !IsMarkdown(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat file %s: %w", childAbs, err)
		}
		child, err := b.buildFile(ctx, childAbs, childRel, info)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	if len(children) == 0 && relPath != "" {
		return nil, nil
	}
	sortSiblings(children)

	dirInfo, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat directory %s: %w", absPath, err)
	}
	rel := filepath.ToSlash(relPath)
	display := DisplayName(filepath.Base(absPath))
	return &Node{
		Name:         display,
		RawName:      filepath.Base(absPath),
		RelativePath: rel,
		Slug:         slugify(rel),
		Type:         NodeTypeDirectory,
		Title:        display,
		Modified:     dirInfo.ModTime(),
		Children:     children,
	}, nil
}

func (b *builder) buildFile(ctx context.Context, absPath, relPath string, info fs.FileInfo) (*Node, error) {
	rel := filepath.ToSlash(relPath)
	display := DisplayName(filepath.Base(relPath))
	node := &Node{
		Name:         display,
		RawName:      filepath.Base(relPath),
		RelativePath: rel,
		Slug:         slugify(strings.TrimSuffix(rel, filepath.Ext(rel))),
		Type:         NodeTypeFile,
		Title:        display,
		Modified:     info.ModTime(),
		Size:         info.Size(),
	}
	if b.opts.Renderer == nil {
		return node, nil
	}

	content, err := os.ReadFile(absPath) //nolint:gosec // absPath is built from the validated root
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", absPath, err)
	}
	doc, err := b.opts.Renderer.Render(ctx, rel, info.ModTime(), content)
	if err != nil {
		return nil, fmt.Errorf("render metadata for %s: %w", rel, err)
	}
	if meta := doc.Metadata; !meta.IsZero() {
		node.Metadata = &meta
		if meta.Title != "" {
			node.Title = meta.Title
		}
		node.Order = meta.Order
		node.hasOrder = meta.HasOrder
	}
	return node, nil
}

// sortSiblings puts chapters with an explicit order first (ascending), then
// the rest by natural title order so "Chapter 2" precedes "Chapter 10".
func sortSiblings(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.hasOrder != b.hasOrder {
			return a.hasOrder
		}
		if a.hasOrder && a.Order != b.Order {
			return a.Order < b.Order
		}
		if c := NaturalCompare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
			return c < 0
		}
		return a.RawName < b.RawName
	})
}

// IsMarkdown reports whether name has a markdown extension.
func IsMarkdown(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

// DisplayName turns a file or directory name into a sidebar label:
// "chapter-02_objects.md" -> "Chapter 02 Objects".
func DisplayName(name string) string {
	if IsMarkdown(name) {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.English, cases.NoLower).String(name)
}

func slugify(p string) string {
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		part = strings.TrimSuffix(part, filepath.Ext(part))
		part = strings.ReplaceAll(part, "_", " ")
		part = strings.ToLower(strings.TrimSpace(part))
		parts[i] = strings.Join(strings.Fields(part), "-")
	}
	return strings.Join(parts, "/")
}
