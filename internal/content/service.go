// Package content serves chapters from disk: a cached sidebar tree, rendered
// chapters, and change notifications when files move or change.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/euforicio/codebook/internal/content/tree"
	"github.com/euforicio/codebook/internal/renderer"
)

// Event types sent to subscribers.
const (
	EventTreeUpdated    = "treeUpdated"
	EventDeleted        = "deleted"
	EventChapterUpdated = "chapterUpdated"
	EventUnknown        = "unknown"
)

var (
	// ErrInvalidPath is returned for paths that are empty or leave the chapter root.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound is returned when no chapter exists at a path.
	ErrNotFound = errors.New("chapter not found")
	// ErrNoChapters is returned by First when the root holds no markdown.
	ErrNoChapters = errors.New("no chapters")
)

// Event is a change notification.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
}

// Service owns the chapter root.
type Service struct {
	ctx           context.Context
	logger        *slog.Logger
	watcher       *fsnotify.Watcher
	renderer      *renderer.Service
	cancel        context.CancelFunc
	tree          atomic.Pointer[tree.Node]
	subscribers   map[uint64]*subscriber
	root          string
	subCounter    atomic.Uint64
	subsMu        sync.RWMutex
	rebuildMu     sync.Mutex
	includeHidden bool
}

type subscriber struct {
	ctx context.Context
	ch  chan Event
}

// Options configures the content service.
type Options struct {
	IncludeHidden bool
	// Watch enables fsnotify live reload. One-shot tools (export, MCP) leave it off.
	Watch bool
}

// NewService builds the initial tree for root and optionally starts watching it.
func NewService(parentCtx context.Context, root string, rendererSvc *renderer.Service, logger *slog.Logger, opts Options) (*Service, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	if rendererSvc == nil {
		return nil, errors.New("renderer service must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	svc := &Service{
		root:          absRoot,
		renderer:      rendererSvc,
		includeHidden: opts.IncludeHidden,
		logger:        logger.With("component", "content"),
		ctx:           ctx,
		cancel:        cancel,
		subscribers:   make(map[uint64]*subscriber),
	}

	node, err := svc.build(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	svc.tree.Store(node)

	if opts.Watch {
		if err := svc.startWatcher(); err != nil {
			cancel()
			return nil, err
		}
	}
	return svc, nil
}

// Close stops the watcher and closes subscriber channels.
func (s *Service) Close() error {
	s.cancel()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Root returns the absolute chapter directory.
func (s *Service) Root() string { return s.root }

// CurrentTree returns the cached tree snapshot.
func (s *Service) CurrentTree(ctx context.Context) (*tree.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.tree.Load()
	if n == nil {
		return nil, errors.New("tree not initialized")
	}
	return n, nil
}

// Chapters lists chapter nodes in sidebar order.
func (s *Service) Chapters(ctx context.Context) ([]*tree.Node, error) {
	root, err := s.CurrentTree(ctx)
	if err != nil {
		return nil, err
	}
	return tree.Chapters(root), nil
}

// First returns the first chapter in sidebar order.
func (s *Service) First(ctx context.Context) (*tree.Node, error) {
	chapters, err := s.Chapters(ctx)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, ErrNoChapters
	}
	return chapters[0], nil
}

// Chapter loads and renders the chapter at relPath. The ".md" suffix is optional.
func (s *Service) Chapter(ctx context.Context, relPath string) (renderer.Document, error) {
	if err := ctx.Err(); err != nil {
		return renderer.Document{}, err
	}
	rel, abs, err := s.resolveChapter(relPath)
	if err != nil {
		return renderer.Document{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return renderer.Document{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return renderer.Document{}, fmt.Errorf("stat chapter: %w", err)
	}
	if info.IsDir() {
		return renderer.Document{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, rel)
	}

	data, err := os.ReadFile(abs) //nolint:gosec // abs is validated against the chapter root
	if err != nil {
		return renderer.Document{}, fmt.Errorf("read chapter: %w", err)
	}
	return s.renderer.Render(ctx, rel, info.ModTime(), data)
}

// Normalize returns the root-relative form of a chapter path, with extension.
func (s *Service) Normalize(relPath string) (string, error) {
	rel, _, err := s.resolveChapter(relPath)
	return rel, err
}

func (s *Service) resolveChapter(relPath string) (string, string, error) {
	clean, abs, err := s.Resolve(relPath)
	if err != nil {
		return "", "", err
	}
	if !tree.IsMarkdown(clean) {
		clean += ".md"
		abs += ".md"
	}
	return clean, abs, nil
}

// Resolve maps a slash-separated path below the root to its absolute form,
// rejecting anything that escapes the root.
func (s *Service) Resolve(relPath string) (string, string, error) {
	trimmed := strings.TrimSpace(relPath)
	if trimmed == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(trimmed)))
	if clean == "." || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" ||
		clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}

	abs := filepath.Join(s.root, filepath.FromSlash(clean))
	relToRoot, err := filepath.Rel(s.root, abs)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(os.PathSeparator)) {
		return "", "", fmt.Errorf("%w: %q escapes root", ErrInvalidPath, relPath)
	}
	return clean, abs, nil
}

// Subscribe registers for change events. The channel closes when ctx is done.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 8)
	id := s.subCounter.Add(1)

	s.subsMu.Lock()
	s.subscribers[id] = &subscriber{ctx: ctx, ch: ch}
	s.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		s.removeSubscriber(id)
	}()
	return ch
}

func (s *Service) build(ctx context.Context) (*tree.Node, error) {
	return tree.Build(ctx, s.root, tree.Options{Renderer: s.renderer, IncludeHidden: s.includeHidden})
}

func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher
	if err := s.watchRecursive(s.root); err != nil {
		return err
	}
	go s.runWatcher()
	return nil
}

func (s *Service) runWatcher() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", slog.Any("err", err))
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	rel := s.relativePath(event.Name)
	op := event.Op
	s.logger.Debug("fsnotify event", slog.String("path", rel), slog.String("op", op.String()))

	isMarkdown := tree.IsMarkdown(event.Name)
	if isMarkdown && op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		// renderer cache keys are root-relative chapter paths
		s.renderer.Invalidate(rel)
	}
	if op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = s.watchRecursive(event.Name)
		}
	}

	eventType := classifyEvent(event.Name, op, isMarkdown)
	if !s.rebuildTree() && (eventType == EventTreeUpdated || eventType == EventDeleted) {
		s.logger.Warn("skipping tree broadcast due to rebuild failure", slog.String("path", rel))
		return
	}
	s.broadcast(Event{Type: eventType, Path: rel, Timestamp: time.Now()})
}

func (s *Service) rebuildTree() bool {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	node, err := s.build(ctx)
	if err != nil {
		s.logger.Error("rebuild tree failed", slog.Any("err", err))
		return false
	}
	s.tree.Store(node)
	return true
}

func (s *Service) broadcast(evt Event) {
	s.subsMu.RLock()
	var stale []uint64
	for id, sub := range s.subscribers {
		select {
		case <-sub.ctx.Done():
			stale = append(stale, id)
		case <-s.ctx.Done():
			stale = append(stale, id)
		case sub.ch <- evt:
		default:
			// subscriber lags, drop
		}
	}
	s.subsMu.RUnlock()

	for _, id := range stale {
		s.removeSubscriber(id)
	}
}

func (s *Service) removeSubscriber(id uint64) {
	s.subsMu.Lock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.ch)
		delete(s.subscribers, id)
	}
	s.subsMu.Unlock()
}

func (s *Service) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if !s.includeHidden && strings.HasPrefix(d.Name(), ".") && path != s.root {
			return filepath.SkipDir
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
		}
		return nil
	})
}

func (s *Service) relativePath(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func classifyEvent(path string, op fsnotify.Op, isMarkdown bool) string {
	switch {
	case op&fsnotify.Remove != 0:
		if isMarkdown {
			// editors that save via rename leave the file in place
			if _, err := os.Stat(path); err == nil {
				return EventChapterUpdated
			}
			return EventDeleted
		}
		return EventTreeUpdated
	case op&fsnotify.Rename != 0:
		return EventTreeUpdated
	case op&(fsnotify.Write|fsnotify.Create) != 0:
		if isMarkdown {
			return EventChapterUpdated
		}
		return EventTreeUpdated
	default:
		return EventUnknown
	}
}
