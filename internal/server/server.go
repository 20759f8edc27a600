// Package server provides the HTTP surface of codebook: chapter pages, the
// editor, the compile-and-run endpoint and the live-reload event stream.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/euforicio/codebook/internal/buildinfo"
	"github.com/euforicio/codebook/internal/config"
	"github.com/euforicio/codebook/internal/content"
	"github.com/euforicio/codebook/internal/content/tree"
	"github.com/euforicio/codebook/internal/editor"
	"github.com/euforicio/codebook/internal/exporter"
	"github.com/euforicio/codebook/internal/pipeline"
	"github.com/euforicio/codebook/internal/renderer"
	"github.com/euforicio/codebook/internal/toolchain"
	"github.com/euforicio/codebook/static"
)

// Runner executes a submission. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, source string) (*pipeline.Result, error)
	Profile() *toolchain.Profile
}

// Deps are the services the server routes to.
type Deps struct {
	Content  *content.Service
	Runner   Runner
	Exporter *exporter.Exporter
	// Metrics is served on /metrics when set and cfg.Metrics is on.
	Metrics prometheus.Gatherer
}

// Server wraps the HTTP server and the services behind it.
type Server struct { //nolint:govet // field order favors logical grouping over padding optimizations
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
	content    *content.Service
	runner     Runner
	exporter   *exporter.Exporter
	metrics    prometheus.Gatherer
	templates  *templateRenderer
	editor     editor.Options
	cfg        config.Config
}

var (
	errPathRequired        = errors.New("path is required")
	errInvalidPathEncoding = errors.New("invalid path encoding")
)

const (
	themeCookie      = "codebook_theme"
	keybindingCookie = "codebook_keybinding"
	chapterHeader    = "X-Codebook-Chapter"
)

// New constructs a Server and registers its routes. Start serves them.
func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Content == nil {
		return nil, errors.New("content service is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("runner is required")
	}

	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	exp := deps.Exporter
	if exp == nil {
		exp, err = exporter.New(logger, exporter.Config{})
		if err != nil {
			return nil, fmt.Errorf("init exporter: %w", err)
		}
	}

	profile := deps.Runner.Profile()
	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		content:   deps.Content,
		runner:    deps.Runner,
		exporter:  exp,
		metrics:   deps.Metrics,
		templates: tmpl,
		editor:    editor.Resolve(editor.Default(profile.Language), cfg.EditorTheme, cfg.EditorKeys),
	}

	s.registerRoutes()
	return s, nil
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		csrfMiddleware(s.cfg.AllowedOrigins),
		gzipMiddleware,
		loggingMiddleware(s.logger, s.cfg.Verbose),
	)
}

func (s *Server) registerRoutes() {
	staticHandler := http.StripPrefix("/static/", http.FileServer(s.resolveStaticFS()))
	s.mux.Handle("GET /static/{path...}", staticHandler)
	s.mux.Handle("HEAD /static/{path...}", staticHandler)

	// images and attachments next to the chapters
	s.mux.HandleFunc("GET /media/{path...}", s.handleMedia)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /chapter/{path...}", s.handleChapterRoute)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)

	s.mux.HandleFunc("GET /api/tree", s.handleTree)
	s.mux.HandleFunc("GET /api/chapter/{path...}", s.handleChapter)
	s.mux.HandleFunc("GET /api/editor", s.handleEditor)
	s.mux.HandleFunc("GET /api/toolchain", s.handleToolchain)
	s.mux.HandleFunc("POST /api/run", s.handleRun)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("GET /events", s.handleEvents)

	if s.cfg.Metrics && s.metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
}

func (s *Server) resolveStaticFS() http.FileSystem {
	dir := strings.TrimSpace(s.cfg.AssetsDir)
	if dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			s.logger.Debug("serving assets from filesystem", slog.String("dir", dir))
			return http.Dir(dir)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("assets dir check failed", slog.String("dir", dir), slog.Any("err", err))
		}
	}
	s.logger.Debug("serving embedded assets")
	return static.HTTP()
}

// Start runs the HTTP server and optionally opens the browser.
// Port 0 picks a free port on 127.0.0.1. Start blocks until ctx is canceled
// or the server fails.
func (s *Server) Start(ctx context.Context) error {
	var (
		listener net.Listener
		err      error
	)
	if s.cfg.Port == 0 {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
	} else {
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	}
	if err != nil {
		return fmt.Errorf("failed to allocate port: %w", err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return fmt.Errorf("unexpected listener address type")
	}
	serverURL := fmt.Sprintf("http://localhost:%d", tcpAddr.Port)

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a run may hold the request open for both stage timeouts
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if _, err := fmt.Fprintf(os.Stdout, "%s listening on %s\n", buildinfo.Name, serverURL); err != nil {
			s.logger.Warn("failed to announce server address", slog.String("url", serverURL), slog.Any("err", err))
		}
		errCh <- s.httpServer.Serve(listener)
	}()

	if s.cfg.AutoOpen {
		go s.openBrowserWhenReady(ctx, serverURL)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.ErrorContext(ctx, "graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) writeTimeout() time.Duration {
	profile := s.runner.Profile()
	compile, run := s.cfg.CompileTimeout, s.cfg.RunTimeout
	if compile <= 0 {
		compile = profile.Compile.Timeout()
	}
	if run <= 0 {
		run = profile.Run.Timeout()
	}
	return compile + run + 30*time.Second
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	root, err := s.content.CurrentTree(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load content tree failed", slog.Any("err", err))
		http.Error(w, "failed to load content tree", http.StatusInternalServerError)
		return
	}

	first, err := s.content.First(ctx)
	if err == nil {
		target := "/chapter/" + first.RelativePath
		if raw := r.URL.RawQuery; raw != "" {
			target += "?" + raw
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	if !errors.Is(err, content.ErrNoChapters) {
		s.logger.ErrorContext(ctx, "find first chapter failed", slog.Any("err", err))
		http.Error(w, "failed to load chapters", http.StatusInternalServerError)
		return
	}

	view := s.viewFor(w, r, root)
	s.renderTemplate(w, r, http.StatusOK, "layout", view)
}

func (s *Server) handleChapterRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	root, err := s.content.CurrentTree(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "load content tree failed", slog.Any("err", err))
		http.Error(w, "failed to load content tree", http.StatusInternalServerError)
		return
	}

	view := s.viewFor(w, r, root)
	status := http.StatusOK

	doc, err := s.content.Chapter(ctx, path)
	switch {
	case err == nil:
		view.Active = normalizedOr(s.content, path)
		view.Chapter = s.chapterView(root, view.Active, doc)
		view.HasChapter = true
		view.Editor = view.Editor.WithInitialText(doc.Metadata.Starter, s.runner.Profile().InitialCode)
	case errors.Is(err, content.ErrInvalidPath):
		s.respondPathError(w, err)
		return
	case errors.Is(err, content.ErrNotFound):
		status = http.StatusNotFound
		view.Active = path
		view.Chapter = chapterView{
			Path:    path,
			Title:   fmt.Sprintf("%s (missing)", tree.DisplayName(path)),
			Missing: true,
		}
	default:
		s.logger.WarnContext(ctx, "chapter load failed", slog.Any("err", err), slog.String("path", path))
		http.Error(w, "failed to load chapter", http.StatusInternalServerError)
		return
	}

	s.renderTemplate(w, r, status, "layout", view)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	node, err := s.content.CurrentTree(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "fetch tree failed", slog.Any("err", err))
		respondJSON(w, http.StatusInternalServerError, errorResponse("failed to load tree"))
		return
	}

	if isHTMXRequest(r) {
		active := r.URL.Query().Get("current")
		setHXTrigger(w, "treeUpdated", map[string]any{"active": active})
		s.renderTemplate(w, r, http.StatusOK, "tree", treeViewData{
			Root:   node,
			Active: active,
		})
		return
	}

	resp := struct {
		GeneratedAt time.Time  `json:"generatedAt"`
		Root        *tree.Node `json:"root"`
	}{
		GeneratedAt: time.Now(),
		Root:        node,
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChapter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	doc, err := s.content.Chapter(ctx, path)
	if err != nil {
		status := chapterErrorStatus(err)
		s.logger.WarnContext(ctx, "load chapter failed", slog.Any("err", err), slog.String("path", path))

		if isHTMXRequest(r) && status == http.StatusNotFound {
			setHXTrigger(w, "chapterLoaded", map[string]any{"path": path, "missing": true})
			w.Header().Set(chapterHeader, path)
			missing := fmt.Sprintf("<div class=\"notice notice-missing\">Chapter <code>%s</code> was not found.</div>", template.HTMLEscapeString(path))
			s.renderTemplate(w, r, http.StatusOK, "chapter", chapterView{
				Path:    path,
				Title:   fmt.Sprintf("%s (missing)", tree.DisplayName(path)),
				HTML:    template.HTML(missing), //nolint:gosec // HTML is safely escaped
				Missing: true,
			})
			return
		}
		respondJSON(w, status, errorResponse(err.Error()))
		return
	}
	rel := normalizedOr(s.content, path)

	if isHTMXRequest(r) {
		root, err := s.content.CurrentTree(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "refresh tree for breadcrumbs failed", slog.Any("err", err))
		}
		view := s.chapterView(root, rel, doc)
		setHXTrigger(w, "chapterLoaded", map[string]any{"path": rel, "title": view.Title})
		w.Header().Set(chapterHeader, rel)
		s.renderTemplate(w, r, http.StatusOK, "chapter", view)
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "raw" || format == "markdown" {
		//nolint:govet // inline struct field order optimized for readability
		resp := struct {
			Metadata renderer.Metadata `json:"metadata"`
			Modified time.Time         `json:"modified"`
			Path     string            `json:"path"`
			Raw      string            `json:"raw"`
		}{
			Path:     rel,
			Raw:      doc.Raw,
			Metadata: doc.Metadata,
			Modified: doc.Modified,
		}
		respondJSON(w, http.StatusOK, resp)
		return
	}

	//nolint:govet // inline struct field order optimized for readability
	resp := struct {
		Metadata renderer.Metadata `json:"metadata"`
		Modified time.Time         `json:"modified"`
		Path     string            `json:"path"`
		HTML     string            `json:"html"`
		Samples  []renderer.Sample `json:"samples"`
		Starter  string            `json:"starter"`
	}{
		Path:     rel,
		HTML:     doc.HTML,
		Metadata: doc.Metadata,
		Modified: doc.Modified,
		Samples:  doc.SamplesIn(s.runner.Profile().Language),
		Starter:  doc.Metadata.Starter,
	}
	respondJSON(w, http.StatusOK, resp)
}

func chapterErrorStatus(err error) int {
	switch {
	case errors.Is(err, content.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func normalizedOr(svc *content.Service, path string) string {
	rel, err := svc.Normalize(path)
	if err != nil {
		return path
	}
	return rel
}

func parseWildcardPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errPathRequired
	}
	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return "", errInvalidPathEncoding
	}
	path := strings.TrimSpace(decoded)
	if path == "" {
		return "", errPathRequired
	}
	return path, nil
}

func (s *Server) respondPathError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errPathRequired):
		respondJSON(w, http.StatusBadRequest, errorResponse("path is required"))
	case errors.Is(err, errInvalidPathEncoding):
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid path encoding"))
	case errors.Is(err, content.ErrInvalidPath):
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid path"))
	default:
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	}
}

// viewFor resolves the per-request page state: editor preferences come from
// the query string, then cookies, then server defaults.
func (s *Server) viewFor(w http.ResponseWriter, r *http.Request, root *tree.Node) viewState {
	q := r.URL.Query()
	theme, keys := q.Get("theme"), q.Get("keybinding")
	if theme != "" && editor.ValidTheme(theme) {
		rememberPreference(w, themeCookie, theme)
	} else {
		theme = cookieValue(r, themeCookie)
	}
	if keys != "" && editor.ValidKeybinding(keys) {
		rememberPreference(w, keybindingCookie, keys)
	} else {
		keys = cookieValue(r, keybindingCookie)
	}

	tab := strings.ToLower(q.Get("tab"))
	if tab != "executor" {
		tab = "editor"
	}

	dark := s.cfg.DarkModeFirst
	if v := q.Get("dark"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			dark = b
		}
	}

	profile := s.runner.Profile()
	return viewState{
		Tree:      root,
		Editor:    editor.Resolve(s.editor, theme, keys).WithInitialText("", profile.InitialCode),
		Tab:       tab,
		Toolchain: profile.Name,
		DarkMode:  dark,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func rememberPreference(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.render(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "render template failed", slog.Any("err", err), slog.String("template", name))
		http.Error(w, "failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.DebugContext(r.Context(), "write template response", slog.Any("err", err))
	}
}

func (s *Server) chapterView(root *tree.Node, path string, doc renderer.Document) chapterView {
	title := doc.Metadata.Title
	if title == "" {
		title = tree.DisplayName(path)
	}
	view := chapterView{
		Path:     path,
		Title:    title,
		HTML:     template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
		Metadata: doc.Metadata,
		Modified: doc.Modified,
		Starter:  doc.Metadata.Starter,
	}
	if root != nil {
		view.Breadcrumbs = breadcrumbsFor(root, path)
		view.Prev, view.Next = tree.Neighbors(root, path)
	}
	return view
}

func breadcrumbsFor(root *tree.Node, target string) []breadcrumb {
	nodes := findNodePath(root, target)
	if len(nodes) <= 1 {
		return nil
	}
	nodes = nodes[1:]
	out := make([]breadcrumb, 0, len(nodes))
	for i, node := range nodes {
		title := node.Title
		if title == "" {
			title = tree.DisplayName(node.RelativePath)
		}
		crumb := breadcrumb{Title: title}
		if node.Type == tree.NodeTypeFile && i != len(nodes)-1 {
			crumb.Path = node.RelativePath
		}
		out = append(out, crumb)
	}
	return out
}

func findNodePath(root *tree.Node, target string) []*tree.Node {
	if root == nil {
		return nil
	}
	if strings.EqualFold(root.RelativePath, target) {
		return []*tree.Node{root}
	}
	for _, child := range root.Children {
		if path := findNodePath(child, target); len(path) > 0 {
			return append([]*tree.Node{root}, path...)
		}
	}
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := s.content.Subscribe(ctx)

	if _, err := w.Write([]byte(": ready\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, flusher, evt); err != nil {
				s.logger.DebugContext(ctx, "sse stream closed", slog.Any("err", err))
				return
			}
		}
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse("path parameter is required"))
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = string(exporter.FormatHTML)
	}
	if !exporter.IsValidFormat(format) {
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid format. Supported formats: html, pdf, markdown, txt"))
		return
	}

	// Chapter validates the path against the root and confirms it exists
	if _, err := s.content.Chapter(ctx, path); err != nil {
		status := chapterErrorStatus(err)
		s.logger.WarnContext(ctx, "export chapter rejected", slog.Any("err", err), slog.String("path", path))
		msg := "chapter not found"
		if status == http.StatusBadRequest {
			msg = "invalid path"
		}
		respondJSON(w, status, errorResponse(msg))
		return
	}
	rel := normalizedOr(s.content, path)

	var buf bytes.Buffer
	opts := exporter.ChapterOptions{
		Root:   s.content.Root(),
		Path:   rel,
		Format: exporter.Format(format),
		Writer: &buf,
	}
	if err := s.exporter.ExportChapter(ctx, opts); err != nil {
		s.logger.ErrorContext(ctx, "export failed", slog.Any("err", err), slog.String("path", rel), slog.String("format", format))
		respondJSON(w, http.StatusInternalServerError, errorResponse("export failed"))
		return
	}

	filename := sanitizeFilename(rel) + exporter.FileExtension(exporter.Format(format))
	w.Header().Set("Content-Type", exporter.ContentType(exporter.Format(format)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.WarnContext(ctx, "write export failed", slog.Any("err", err), slog.String("path", rel))
	}
}

func sanitizeFilename(path string) string {
	name := path
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	name = strings.Map(func(r rune) rune {
		if r == ' ' {
			return '-'
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if name == "" {
		name = "export"
	}
	return name
}

// handleMedia serves files that live under the chapter root.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawPath, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}

	_, absPath, err := s.content.Resolve(rawPath)
	if err != nil {
		s.logger.WarnContext(ctx, "invalid media path attempted", slog.String("path", rawPath))
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.logger.WarnContext(ctx, "failed to stat media file", slog.Any("err", err), slog.String("path", rawPath))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		http.Error(w, "Path is a directory", http.StatusBadRequest)
		return
	}

	http.ServeFile(w, r, absPath)
}

func (s *Server) openBrowserWhenReady(ctx context.Context, url string) {
	timer := time.NewTimer(300 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		if err := openBrowser(ctx, url); err != nil {
			s.logger.WarnContext(ctx, "auto-open failed", slog.String("url", url), slog.Any("err", err))
		}
	}
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	return cmd.Start()
}
