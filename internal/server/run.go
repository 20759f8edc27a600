package server

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/euforicio/codebook/internal/editor"
	"github.com/euforicio/codebook/internal/pipeline"
	"github.com/euforicio/codebook/internal/toolchain"
)

// Error kinds reported by POST /api/run.
const (
	kindToolchain = "toolchain_unavailable"
	kindWorkspace = "workspace"
	kindBusy      = "busy"
	kindTooLarge  = "too_large"
	kindBadInput  = "bad_request"
	kindInternal  = "internal"
)

// jsonEnvelope leaves room for the {"source": ...} wrapper and escapes.
const jsonEnvelope = 4 << 10

type runRequest struct {
	Source string `json:"source"`
}

type stageView struct {
	pipeline.ProcessResult
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

type runResponse struct {
	RunID   string         `json:"runId"`
	State   pipeline.State `json:"state"`
	Report  string         `json:"report"`
	Compile stageView      `json:"compile"`
	Run     *stageView     `json:"run,omitempty"`
}

type runError struct {
	Error  string       `json:"error"`
	Kind   string       `json:"kind"`
	Stage  string       `json:"stage,omitempty"`
	Binary string       `json:"binary,omitempty"`
	Result *runResponse `json:"result,omitempty"`
}

func newStageView(p pipeline.ProcessResult) stageView {
	return stageView{
		ProcessResult: p,
		Stdout:        strings.ToValidUTF8(string(p.Stdout), "�"),
		Stderr:        strings.ToValidUTF8(string(p.Stderr), "�"),
	}
}

func newRunResponse(res *pipeline.Result) *runResponse {
	if res == nil {
		return nil
	}
	out := &runResponse{
		RunID:   res.RunID,
		State:   res.State,
		Report:  res.Report(),
		Compile: newStageView(res.Compile),
	}
	if res.Run != nil {
		rv := newStageView(*res.Run)
		out.Run = &rv
	}
	return out
}

// handleRun compiles and runs the submitted source. Compile and runtime
// failures are ordinary 200 reports; only infrastructure failures change the status.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	source, status, err := s.readSource(w, r)
	if err != nil {
		kind := kindBadInput
		if status == http.StatusRequestEntityTooLarge {
			kind = kindTooLarge
		}
		s.logger.WarnContext(ctx, "reject run request", slog.Any("err", err), slog.Int("status", status))
		s.respondRunError(w, r, status, runError{Error: err.Error(), Kind: kind})
		return
	}

	res, err := s.runner.Run(ctx, source)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, pipeline.ErrBusy) {
			// client went away; nobody is left to read the reply
			s.logger.DebugContext(ctx, "run canceled", slog.Any("err", err))
			return
		}
		status, body := classifyRunError(err)
		body.Result = newRunResponse(res)
		s.logger.WarnContext(ctx, "run failed", slog.Any("err", err), slog.String("kind", body.Kind))
		s.respondRunError(w, r, status, body)
		return
	}

	s.logger.InfoContext(ctx, "run finished",
		slog.String("run_id", res.RunID),
		slog.String("state", res.State.String()))

	if isHTMXRequest(r) {
		setHXTrigger(w, "runFinished", map[string]any{"runId": res.RunID, "state": res.State.String()})
		s.renderTemplate(w, r, http.StatusOK, "report", reportViewData{Result: res, Report: res.Report()})
		return
	}
	respondJSON(w, http.StatusOK, newRunResponse(res))
}

func classifyRunError(err error) (int, runError) {
	body := runError{Error: err.Error()}
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		body.Kind = kindBusy
		return http.StatusServiceUnavailable, body
	case errors.Is(err, pipeline.ErrToolchainUnavailable):
		body.Kind = kindToolchain
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			body.Stage = stageErr.Stage.String()
			body.Binary = stageErr.Binary
		}
		return http.StatusServiceUnavailable, body
	case errors.Is(err, pipeline.ErrWorkspace):
		body.Kind = kindWorkspace
		return http.StatusInternalServerError, body
	default:
		body.Kind = kindInternal
		return http.StatusInternalServerError, body
	}
}

func (s *Server) respondRunError(w http.ResponseWriter, r *http.Request, status int, body runError) {
	if isHTMXRequest(r) {
		s.renderTemplate(w, r, status, "report", reportViewData{Error: body.Error, Kind: body.Kind})
		return
	}
	respondJSON(w, status, body)
}

// readSource accepts {"source": "..."} JSON or a form field named source.
func (s *Server) readSource(w http.ResponseWriter, r *http.Request) (string, int, error) {
	limit := s.cfg.MaxSourceBytes
	if limit <= 0 {
		limit = 256 << 10
	}
	if r.Body == nil {
		return "", http.StatusBadRequest, errors.New("request body is required")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var source string
	if mediaType == "application/json" {
		// escapes can more than double the encoded size of the source
		r.Body = http.MaxBytesReader(w, r.Body, 6*limit+jsonEnvelope)
		var req runRequest
		if err := decodeJSON(r, &req); err != nil {
			return "", statusForBodyError(err), err
		}
		source = req.Source
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, 3*limit+jsonEnvelope)
		if err := r.ParseForm(); err != nil {
			return "", statusForBodyError(err), err
		}
		if _, ok := r.PostForm["source"]; !ok {
			return "", http.StatusBadRequest, errors.New("form field source is required")
		}
		source = r.PostFormValue("source")
	}

	if int64(len(source)) > limit {
		return "", http.StatusRequestEntityTooLarge, errors.New("source exceeds the size limit")
	}
	return source, http.StatusOK, nil
}

func statusForBodyError(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// handleEditor reports the editor catalogs and the options a page would open
// with. ?chapter= applies that chapter's starter code.
func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := s.viewFor(w, r, nil)
	opts := view.Editor

	if chapter := strings.TrimSpace(r.URL.Query().Get("chapter")); chapter != "" {
		doc, err := s.content.Chapter(ctx, chapter)
		if err != nil {
			respondJSON(w, chapterErrorStatus(err), errorResponse(err.Error()))
			return
		}
		opts = opts.WithInitialText(doc.Metadata.Starter, s.runner.Profile().InitialCode)
	}

	resp := struct {
		Options     editor.Options `json:"options"`
		Themes      []string       `json:"themes"`
		Keybindings []string       `json:"keybindings"`
	}{
		Options:     opts,
		Themes:      editor.Themes(),
		Keybindings: editor.Keybindings(),
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToolchain(w http.ResponseWriter, _ *http.Request) {
	profile := s.runner.Profile()
	availability := profile.Check()
	ready := true
	for _, a := range availability {
		ready = ready && a.Available
	}

	resp := struct {
		Name         string                   `json:"name"`
		Language     string                   `json:"language"`
		SourceFile   string                   `json:"sourceFile"`
		Program      string                   `json:"program"`
		Compile      string                   `json:"compile"`
		Run          string                   `json:"run"`
		Availability []toolchain.Availability `json:"availability"`
		Ready        bool                     `json:"ready"`
	}{
		Name:         profile.Name,
		Language:     profile.Language,
		SourceFile:   profile.SourceFile,
		Program:      profile.Program,
		Compile:      describeStep(profile.Compile),
		Run:          describeStep(profile.Run),
		Availability: availability,
		Ready:        ready,
	}
	respondJSON(w, http.StatusOK, resp)
}

func describeStep(step toolchain.Step) string {
	if len(step.Args) > 0 {
		return strings.Join(step.Args, " ")
	}
	return step.Command
}
