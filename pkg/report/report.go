package report

import (
	"io"
	"sync"

	"github.com/fatih/color"
)

// Console writes level-prefixed colored lines. Safe for concurrent
// use; the document fan-out reports from worker goroutines.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	info    *color.Color
	success *color.Color
	warning *color.Color
	failure *color.Color
}

func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = color.Output
	}
	return &Console{
		out:     out,
		info:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed),
	}
}

func (c *Console) Info(format string, args ...any) {
	c.print(c.info, "[INFO] "+format, args)
}

func (c *Console) Success(format string, args ...any) {
	c.print(c.success, "[SUCCESS] "+format, args)
}

func (c *Console) Warning(format string, args ...any) {
	c.print(c.warning, "[WARNING] "+format, args)
}

func (c *Console) Error(format string, args ...any) {
	c.print(c.failure, "[ERROR] "+format, args)
}

func (c *Console) print(col *color.Color, format string, args []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	col.Fprintf(c.out, format+"\n", args...)
}

// Nop discards everything. The orchestrator falls back to it when no
// reporter is injected.
type Nop struct{}

func (Nop) Info(string, ...any)    {}
func (Nop) Success(string, ...any) {}
func (Nop) Warning(string, ...any) {}
func (Nop) Error(string, ...any)   {}
