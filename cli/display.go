package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pterm/pterm"
)

type displayKey struct{}

// Display renders command output for humans or as JSON
type Display interface {
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warning(format string, args ...any)
	Error(format string, args ...any)
	Table(headers []string, rows [][]string) error
	JSON(v any) error
}

type ptermDisplay struct {
	out io.Writer
}

// NewDisplay returns a display writing to out
func NewDisplay(out io.Writer) Display {
	return &ptermDisplay{out: out}
}

func (d *ptermDisplay) Info(format string, args ...any) {
	pterm.Info.WithWriter(d.out).Printfln(format, args...)
}

func (d *ptermDisplay) Success(format string, args ...any) {
	pterm.Success.WithWriter(d.out).Printfln(format, args...)
}

func (d *ptermDisplay) Warning(format string, args ...any) {
	pterm.Warning.WithWriter(d.out).Printfln(format, args...)
}

func (d *ptermDisplay) Error(format string, args ...any) {
	pterm.Error.WithWriter(d.out).Printfln(format, args...)
}

func (d *ptermDisplay) Table(headers []string, rows [][]string) error {
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, headers)
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(d.out).Render()
}

func (d *ptermDisplay) JSON(v any) error {
	enc := json.NewEncoder(d.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WithDisplay stores d in ctx
func WithDisplay(ctx context.Context, d Display) context.Context {
	return context.WithValue(ctx, displayKey{}, d)
}

// GetDisplayOrDefault returns the display in ctx, or one writing to stdout
func GetDisplayOrDefault(ctx context.Context) Display {
	if d, ok := ctx.Value(displayKey{}).(Display); ok {
		return d
	}
	return NewDisplay(os.Stdout)
}
