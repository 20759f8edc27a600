// Package mcp exposes the chapters and the compile-and-run pipeline as MCP
// tools so an assistant can read the course and execute its examples.
package mcp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/euforicio/codebook/internal/buildinfo"
	"github.com/euforicio/codebook/internal/content"
	"github.com/euforicio/codebook/internal/content/tree"
	"github.com/euforicio/codebook/internal/pipeline"
	"github.com/euforicio/codebook/internal/toolchain"
)

//go:embed instructions.md
var Instructions string

// Runner executes a submission. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, source string) (*pipeline.Result, error)
	Profile() *toolchain.Profile
}

type handler struct {
	content *content.Service
	runner  Runner
	logger  *slog.Logger
	// maxSource bounds run_code submissions; 0 means unlimited.
	maxSource int64
}

// Options configure NewServer.
type Options struct {
	Logger    *slog.Logger
	MaxSource int64
}

// NewServer creates an MCP server with the codebook tools registered.
func NewServer(contentSvc *content.Service, runner Runner, opts Options) *mcp.Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		content:   contentSvc,
		runner:    runner,
		logger:    logger.With("component", "mcp"),
		maxSource: opts.MaxSource,
	}

	s := mcp.NewServer(&mcp.Implementation{Name: buildinfo.Name, Version: buildinfo.CurrentVersion()}, &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_chapters",
		Description: "List the course chapters in reading order with their paths and titles.",
	}, h.listChaptersHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "read_chapter",
		Description: "Return the markdown of one chapter, its front matter and its starter program.",
	}, h.readChapterHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_code",
		Description: runCodeDescription(runner.Profile()),
	}, h.runCodeHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_chapter",
		Description: "Compile and run the starter program of a chapter and return the report.",
	}, h.runChapterHandler)

	return s
}

// runCodeDescription names the commands the active profile runs.
func runCodeDescription(profile *toolchain.Profile) string {
	vars := profile.Vars(".")
	compile, run := profile.Compile.Command, profile.Run.Command
	if args, err := profile.CompileArgs(vars); err == nil {
		compile = strings.Join(args, " ")
	}
	if args, err := profile.RunArgs(vars); err == nil {
		run = strings.Join(args, " ")
	}
	return fmt.Sprintf(`Write the source to %s, compile it with "%s" and, only when that exits 0, run it with "%s".

Returns the learner-facing report: "Compile Output:\n<stdout>\n\nRun Output:\n<stdout>" on success
or "Compile Error:\n<stderr>" when compilation fails.`, profile.SourceFile, compile, run)
}

type chapterParams struct {
	Path string `json:"path" jsonschema:"chapter path relative to the chapter root, e.g. chapter-01.md; the .md extension is optional"`
}

type runParams struct {
	Source string `json:"source" jsonschema:"complete contents of Main.java"`
}

func (h *handler) listChaptersHandler(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	chapters, err := h.content.Chapters(ctx)
	if err != nil {
		return errorResult("load chapters: " + err.Error())
	}
	if len(chapters) == 0 {
		return textResult("No chapters found.")
	}

	var b strings.Builder
	for i, node := range chapters {
		title := node.Title
		if title == "" {
			title = tree.DisplayName(node.RelativePath)
		}
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, title, node.RelativePath)
		if node.Metadata != nil && node.Metadata.Description != "" {
			fmt.Fprintf(&b, " - %s", node.Metadata.Description)
		}
		b.WriteByte('\n')
	}
	return textResult(b.String())
}

func (h *handler) readChapterHandler(ctx context.Context, _ *mcp.CallToolRequest, params chapterParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Path) == "" {
		return errorResult("path is required")
	}
	doc, err := h.content.Chapter(ctx, params.Path)
	if err != nil {
		return errorResult(chapterError(params.Path, err))
	}

	var b strings.Builder
	if doc.Metadata.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", doc.Metadata.Title)
	}
	if doc.Metadata.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", doc.Metadata.Description)
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(doc.Raw)
	if doc.Metadata.Starter != "" {
		b.WriteString("\n\nStarter program:\n")
		b.WriteString(doc.Metadata.Starter)
	}
	return textResult(b.String())
}

func (h *handler) runCodeHandler(ctx context.Context, _ *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if h.maxSource > 0 && int64(len(params.Source)) > h.maxSource {
		return errorResult(fmt.Sprintf("source is %d bytes; the limit is %d", len(params.Source), h.maxSource))
	}
	return h.run(ctx, params.Source)
}

func (h *handler) runChapterHandler(ctx context.Context, _ *mcp.CallToolRequest, params chapterParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Path) == "" {
		return errorResult("path is required")
	}
	doc, err := h.content.Chapter(ctx, params.Path)
	if err != nil {
		return errorResult(chapterError(params.Path, err))
	}
	if strings.TrimSpace(doc.Metadata.Starter) == "" {
		return errorResult(fmt.Sprintf("chapter %s has no starter program", params.Path))
	}
	return h.run(ctx, doc.Metadata.Starter)
}

func (h *handler) run(ctx context.Context, source string) (*mcp.CallToolResult, any, error) {
	res, err := h.runner.Run(ctx, source)
	if err != nil {
		h.logger.WarnContext(ctx, "run failed", slog.Any("err", err))
		return errorResult(runError(err))
	}
	h.logger.InfoContext(ctx, "run finished", slog.String("run_id", res.RunID), slog.String("state", res.State.String()))

	text := res.Report()
	if res.Compile.TimedOut() {
		text += "\n[compilation timed out]"
	}
	if res.Run != nil {
		switch {
		case res.Run.TimedOut():
			text += "\n[program timed out]"
		case res.Run.ExitCode != 0:
			text += fmt.Sprintf("\n[program exited with status %d]", res.Run.ExitCode)
		}
		if len(res.Run.Stderr) > 0 {
			text += "\n\nProgram stderr:\n" + string(res.Run.Stderr)
		}
	}
	return textResult(text)
}

func runError(err error) string {
	var stageErr *pipeline.StageError
	switch {
	case errors.As(err, &stageErr):
		return fmt.Sprintf("toolchain unavailable: %s could not start (%v)", stageErr.Binary, stageErr.Err)
	case errors.Is(err, pipeline.ErrBusy):
		return "all run slots are busy; try again shortly"
	case errors.Is(err, pipeline.ErrWorkspace):
		return "workspace unavailable: " + err.Error()
	default:
		return err.Error()
	}
}

func chapterError(path string, err error) string {
	switch {
	case errors.Is(err, content.ErrInvalidPath):
		return fmt.Sprintf("invalid chapter path %q", path)
	case errors.Is(err, content.ErrNotFound):
		return fmt.Sprintf("chapter %s not found", path)
	default:
		return err.Error()
	}
}

func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
