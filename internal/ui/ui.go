// Package ui renders CLI output for search results, diagnoses and job
// status. Colors are dropped automatically when stdout is not a
// terminal or NO_COLOR is set.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/quillstack/docdex/internal/index"
	"github.com/quillstack/docdex/internal/store"
)

// Color palette, 256-color codes.
const (
	ColorCyan     = "51"  // primary accent
	ColorGray     = "245" // secondary text, labels
	ColorDarkGray = "238" // separators
	ColorGreen    = "82"  // healthy / success
	ColorYellow   = "220" // warnings, degraded states
	ColorRed      = "196" // errors
)

// Styles holds the render styles used by the CLI.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
	Score   lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorCyan)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Score:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan)),
	}
}

// PlainStyles returns unstyled components for non-TTY output.
func PlainStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Score:   lipgloss.NewStyle(),
	}
}

// Renderer writes human-readable output.
type Renderer struct {
	w      io.Writer
	styles Styles
}

// NewRenderer picks colored or plain styles based on the writer.
func NewRenderer(w io.Writer) *Renderer {
	styles := PlainStyles()
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) && os.Getenv("NO_COLOR") == "" {
		styles = DefaultStyles()
	}
	return &Renderer{w: w, styles: styles}
}

// SearchResult renders search hits with scores and an optional
// synthesized answer.
func (r *Renderer) SearchResult(result *index.SearchResult) {
	if len(result.Hits) == 0 {
		fmt.Fprintln(r.w, r.styles.Dim.Render("no results"))
		return
	}

	for i, hit := range result.Hits {
		location := fmt.Sprintf("%s #%d", hit.Filename, hit.UnitNumber)
		if hit.SymbolName != "" {
			location = fmt.Sprintf("%s %s %s", hit.Filename, hit.SymbolType, hit.SymbolName)
		}
		fmt.Fprintf(r.w, "%s %s %s\n",
			r.styles.Header.Render(fmt.Sprintf("%2d.", i+1)),
			location,
			r.styles.Score.Render(fmt.Sprintf("(%.3f)", hit.Score)))
		fmt.Fprintf(r.w, "    %s\n", snippet(hit.Text, 200))
	}

	if result.Answer != "" {
		fmt.Fprintf(r.w, "\n%s\n%s\n", r.styles.Header.Render("Answer"), result.Answer)
	}
}

// Diagnosis renders a doctor report.
func (r *Renderer) Diagnosis(collectionID string, diag *index.Diagnosis) {
	status := r.styles.Error.Render(diag.Status)
	switch diag.Status {
	case index.StateSynced:
		if diag.Healthy() {
			status = r.styles.Success.Render(diag.Status)
		} else {
			status = r.styles.Warning.Render(diag.Status)
		}
	case index.StateOutOfSync:
		status = r.styles.Warning.Render(diag.Status)
	}

	fmt.Fprintf(r.w, "%s %s\n", r.styles.Header.Render("collection"), collectionID)
	fmt.Fprintf(r.w, "%s %s\n", r.styles.Label.Render("status:"), status)
	fmt.Fprintf(r.w, "%s %d chunks, %d vectors, %d matrix rows\n",
		r.styles.Label.Render("counts:"),
		diag.MetadataChunks, diag.IndexVectors, diag.MatrixRows)

	for _, issue := range diag.Issues {
		fmt.Fprintf(r.w, "  %s %s\n", r.styles.Warning.Render("!"), issue)
	}
	for _, rec := range diag.Recommendations {
		fmt.Fprintf(r.w, "  %s %s\n", r.styles.Dim.Render(">"), rec)
	}
}

// Job renders one job record.
func (r *Renderer) Job(job *store.Job) {
	status := r.styles.Label.Render(job.Status)
	switch job.Status {
	case store.JobCompleted:
		status = r.styles.Success.Render(job.Status)
	case store.JobFailed:
		status = r.styles.Error.Render(job.Status)
	case store.JobRunning:
		status = r.styles.Warning.Render(job.Status)
	}

	fmt.Fprintf(r.w, "%s  %s  %s  %d/%d",
		job.ID, job.Type, status, job.Processed, job.Total)
	if job.CurrentItem != "" {
		fmt.Fprintf(r.w, "  %s", r.styles.Dim.Render(job.CurrentItem))
	}
	if job.Error != "" {
		fmt.Fprintf(r.w, "  %s", r.styles.Error.Render(job.Error))
	}
	fmt.Fprintln(r.w)
}

// Stats renders collection stats.
func (r *Renderer) Stats(collectionID string, stats *index.Stats) {
	fmt.Fprintf(r.w, "%s %s\n", r.styles.Header.Render("collection"), collectionID)
	fmt.Fprintf(r.w, "  %s %d\n", r.styles.Label.Render("documents:"), stats.Documents)
	fmt.Fprintf(r.w, "  %s %d\n", r.styles.Label.Render("chunks:"), stats.MetadataChunks)
	fmt.Fprintf(r.w, "  %s %d\n", r.styles.Label.Render("vectors:"), stats.IndexVectors)
	if stats.Degraded {
		fmt.Fprintf(r.w, "  %s\n", r.styles.Warning.Render("degraded: embedding matrix missing"))
	}
}

// Documents renders a document listing.
func (r *Renderer) Documents(docs []*store.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(r.w, r.styles.Dim.Render("no documents indexed"))
		return
	}
	for _, d := range docs {
		fmt.Fprintf(r.w, "%s  %s  %s\n",
			r.styles.Header.Render(d.DocumentID),
			d.Filename,
			r.styles.Label.Render(fmt.Sprintf("%d chunks, %s", d.ChunkCount, d.SourceFormat)))
	}
}

// snippet flattens whitespace and truncates for one-line display.
func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > max {
		text = text[:max] + "…"
	}
	return text
}
