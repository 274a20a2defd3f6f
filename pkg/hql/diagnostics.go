// Package hql - diagnostics.
package hql

import (
	"fmt"
	"strings"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one compiler message with a precise source span.
type Diagnostic struct {
	Span     Span     `json:"span"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s: %s", d.Span.Line, d.Span.Col, d.Severity, d.Message)
}

// CompileError aggregates the diagnostics of a failed compilation.
// Compile errors never touch storage.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	sb.WriteString("hql: compile failed")
	for _, d := range e.Diagnostics {
		sb.WriteString("\n\t")
		sb.WriteString(d.String())
	}
	return sb.String()
}

// diagnostics collects messages during a compiler pass.
type diagnostics struct {
	list []Diagnostic
}

func (d *diagnostics) fatalf(span Span, format string, args ...any) {
	d.list = append(d.list, Diagnostic{
		Span: span, Severity: SeverityFatal, Message: fmt.Sprintf(format, args...),
	})
}

func (d *diagnostics) warnf(span Span, format string, args ...any) {
	d.list = append(d.list, Diagnostic{
		Span: span, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...),
	})
}

func (d *diagnostics) hasFatal() bool {
	for _, diag := range d.list {
		if diag.Severity == SeverityFatal {
			return true
		}
	}
	return false
}
