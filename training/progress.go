package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ProgressBar provides tqdm-style progress output for one phase of an epoch
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
	now         func() time.Time
}

// NewProgressBar creates a new progress bar writing to out. A nil writer
// discards all output.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	if out == nil {
		out = io.Discard
	}
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       30,
		metrics:     make(map[string]float64),
		now:         time.Now,
	}
}

// SetDescription replaces the text shown before the bar
func (pb *ProgressBar) SetDescription(description string) {
	pb.description = description
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) line() string {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := pb.now().Sub(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 && elapsed > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))
	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.3f", key, value)
		}
	}
	return line + "]"
}

// render draws the progress bar; the carriage return overwrites the
// previous line on a terminal
func (pb *ProgressBar) render() {
	fmt.Fprint(pb.out, pb.line())
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints a PyTorch-style parameter listing
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{modelName: modelName}
}

// PrintArchitecture writes one line per parameter followed by totals
func (p *ModelArchitecturePrinter) PrintArchitecture(w io.Writer, params []NamedParameter) {
	fmt.Fprintf(w, "%s(\n", p.modelName)
	var total int64
	for _, param := range params {
		fmt.Fprintf(w, "  (%s): %v\n", param.Name, param.Tensor.Shape)
		total += int64(param.Tensor.NumElems)
	}
	fmt.Fprintf(w, ")\n")
	fmt.Fprintf(w, "Total parameters: %s\n", formatParameterCount(total))
	fmt.Fprintf(w, "Params size: %s\n", humanize.Bytes(uint64(total*4)))
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
