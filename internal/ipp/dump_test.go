package ipp

import (
	"strings"
	"testing"

	"github.com/OpenPrinting/goipp"
)

func TestFormatMessageRequest(t *testing.T) {
	m := NewRequest(goipp.OpGetJobs, 7)
	m.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String("ipp://printer.local/ipp/print")))

	lines := FormatMessage(true, m)
	if len(lines) < 3 {
		t.Fatalf("FormatMessage returned %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "--> Get-Jobs") {
		t.Errorf("header = %q, want --> Get-Jobs prefix", lines[0])
	}
	if !strings.Contains(lines[0], "request-id=7") {
		t.Errorf("header %q missing request id", lines[0])
	}

	var sawGroup, sawURI bool
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "---- ") {
			sawGroup = true
		}
		if strings.Contains(line, "printer-uri") &&
			strings.Contains(line, "ipp://printer.local/ipp/print") {
			sawURI = true
		}
	}
	if !sawGroup {
		t.Error("no group separator line in dump")
	}
	if !sawURI {
		t.Errorf("printer-uri line missing from dump: %v", lines)
	}
}

func TestFormatMessageResponse(t *testing.T) {
	m := goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, 3)

	lines := FormatMessage(false, m)
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "<--") {
		t.Errorf("response header = %v, want <-- prefix", lines)
	}
	if !strings.Contains(lines[0], "request-id=3") {
		t.Errorf("header %q missing request id", lines[0])
	}
}

func TestFormatMessageMultiValue(t *testing.T) {
	m := NewRequest(goipp.OpCreatePrinterSubscriptions, 1)
	events := goipp.Attribute{Name: "notify-events"}
	events.Values.Add(goipp.TagKeyword, goipp.String("job-fetchable"))
	events.Values.Add(goipp.TagKeyword, goipp.String("job-state-changed"))
	m.Subscription.Add(events)

	var sawSet bool
	for _, line := range FormatMessage(true, m) {
		if strings.Contains(line, "notify-events") && strings.Contains(line, "1setOf") {
			sawSet = true
		}
	}
	if !sawSet {
		t.Error("multi-valued attribute not rendered as 1setOf")
	}
}
