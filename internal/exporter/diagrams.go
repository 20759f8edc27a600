package exporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/euforicio/codebook/internal/renderer/d2"
)

// DiagramRenderer compiles d2 source to SVG. *d2.Renderer satisfies it.
type DiagramRenderer interface {
	Render(ctx context.Context, source string) (d2.Result, error)
}

// diagramEncoder turns ```d2 fences into markdown images with embedded PNG
// data, for renderers (PDF) that cannot take inline SVG.
type diagramEncoder struct {
	d2 DiagramRenderer
}

// encode rewrites d2 fences. A fence that fails to render is left as is so
// the source still shows up.
func (e *diagramEncoder) encode(ctx context.Context, raw []byte) ([]byte, error) {
	var (
		out          bytes.Buffer
		scanner      = bufio.NewScanner(bytes.NewReader(raw))
		inFence      bool
		fenceMarker  string
		fenceLang    string
		fenceOpen    string
		diagramLines bytes.Buffer
	)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFence {
			if marker, lang, ok := parseFenceStart(trimmed); ok {
				inFence = true
				fenceMarker = marker
				fenceLang = lang
				fenceOpen = line
				diagramLines.Reset()
				if !isDiagramFence(lang) {
					writeLine(&out, line)
				}
				continue
			}
			writeLine(&out, line)
			continue
		}

		if isFenceEnd(trimmed, fenceMarker) {
			if isDiagramFence(fenceLang) {
				if err := e.flushD2(ctx, &out, diagramLines.String()); err != nil {
					writeLine(&out, fenceOpen)
					out.Write(diagramLines.Bytes())
					writeLine(&out, line)
				}
			} else {
				writeLine(&out, line)
			}
			inFence = false
			fenceMarker, fenceLang, fenceOpen = "", "", ""
			continue
		}

		if isDiagramFence(fenceLang) {
			writeLine(&diagramLines, line)
		} else {
			writeLine(&out, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// unclosed fence: emit what was buffered
	if inFence && isDiagramFence(fenceLang) {
		writeLine(&out, fenceOpen)
		out.Write(diagramLines.Bytes())
	}

	return out.Bytes(), nil
}

func (e *diagramEncoder) flushD2(ctx context.Context, out *bytes.Buffer, source string) error {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	if e == nil || e.d2 == nil {
		return fmt.Errorf("d2 renderer unavailable")
	}

	res, err := e.d2.Render(ctx, source)
	if err != nil {
		return fmt.Errorf("render d2: %w", err)
	}

	pngData, err := svgToPNG([]byte(res.SVG))
	if err != nil {
		return fmt.Errorf("rasterize d2 svg: %w", err)
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
	_, err = fmt.Fprintf(out, "![diagram](%s)\n\n", dataURI)
	return err
}

func parseFenceStart(line string) (marker, lang string, ok bool) {
	for _, c := range []rune{'`', '~'} {
		n := leadingCount(line, c)
		if n >= 3 {
			marker = line[:n]
			lang = strings.TrimSpace(strings.TrimPrefix(line, marker))
			if i := strings.IndexAny(lang, " {"); i >= 0 {
				lang = lang[:i]
			}
			return marker, lang, true
		}
	}
	return "", "", false
}

func isFenceEnd(line, marker string) bool {
	if marker == "" {
		return false
	}
	return leadingCount(line, rune(marker[0])) >= len(marker) && strings.Trim(line, marker[:1]) == ""
}

func isDiagramFence(lang string) bool {
	return strings.EqualFold(strings.TrimSpace(lang), "d2")
}

func leadingCount(line string, char rune) int {
	count := 0
	for _, r := range line {
		if r != char {
			break
		}
		count++
	}
	return count
}

func writeLine(buf *bytes.Buffer, line string) {
	buf.WriteString(line)
	buf.WriteByte('\n')
}

// svgToPNG rasterizes an SVG for embedding as a data URI.
func svgToPNG(svg []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	viewbox := icon.ViewBox
	width := int(math.Ceil(viewbox.W))
	height := int(math.Ceil(viewbox.H))
	if width <= 0 || height <= 0 {
		width, height = 800, 600
	}

	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)
	icon.Draw(raster, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
