package proxy

import (
	"testing"

	"github.com/OpenPrinting/goipp"
	"github.com/google/go-cmp/cmp"
)

func keyword(name string, values ...string) goipp.Attribute {
	attr := goipp.Attribute{Name: name}
	for _, v := range values {
		attr.Values.Add(goipp.TagKeyword, goipp.String(v))
	}
	return attr
}

func TestAttrsEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b goipp.Attribute
		want bool
	}{
		{
			"equal keywords",
			keyword("sides-supported", "one-sided", "two-sided-long-edge"),
			keyword("sides-supported", "one-sided", "two-sided-long-edge"),
			true,
		},
		{
			"different order",
			keyword("sides-supported", "one-sided", "two-sided-long-edge"),
			keyword("sides-supported", "two-sided-long-edge", "one-sided"),
			false,
		},
		{
			"different length",
			keyword("sides-supported", "one-sided"),
			keyword("sides-supported", "one-sided", "two-sided-long-edge"),
			false,
		},
		{
			"equal integers",
			goipp.MakeAttribute("copies-default", goipp.TagInteger, goipp.Integer(1)),
			goipp.MakeAttribute("copies-default", goipp.TagInteger, goipp.Integer(1)),
			true,
		},
		{
			"different integers",
			goipp.MakeAttribute("copies-default", goipp.TagInteger, goipp.Integer(1)),
			goipp.MakeAttribute("copies-default", goipp.TagInteger, goipp.Integer(2)),
			false,
		},
		{
			"different value tags",
			goipp.MakeAttribute("printer-state", goipp.TagEnum, goipp.Integer(3)),
			goipp.MakeAttribute("printer-state", goipp.TagInteger, goipp.Integer(3)),
			false,
		},
		{
			"equal booleans",
			goipp.MakeAttribute("color-supported", goipp.TagBoolean, goipp.Boolean(true)),
			goipp.MakeAttribute("color-supported", goipp.TagBoolean, goipp.Boolean(true)),
			true,
		},
		{
			// anything the comparator cannot cheaply compare counts
			// as changed, so collections always re-push
			"collections never equal",
			goipp.MakeAttribute("media-col-default", goipp.TagBeginCollection, goipp.Collection{}),
			goipp.MakeAttribute("media-col-default", goipp.TagBeginCollection, goipp.Collection{}),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := attrsEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("attrsEqual() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeltaAttrs(t *testing.T) {
	probed := goipp.Attributes{
		keyword("media-supported", "iso_a4_210x297mm"),
		keyword("sides-supported", "one-sided"),
		goipp.MakeAttribute("printer-state", goipp.TagEnum, goipp.Integer(3)),
		// not in the tracked set, never pushed
		keyword("printer-make-and-model", "Example LaserJet"),
	}

	// first push reports every tracked attribute
	delta := deltaAttrs(nil, probed)
	var names []string
	for _, a := range delta {
		names = append(names, a.Name)
	}
	want := []string{"media-supported", "printer-state", "sides-supported"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("initial delta (-want +got):\n%s", diff)
	}

	// nothing changed, nothing to push
	if delta = deltaAttrs(probed, probed); len(delta) != 0 {
		t.Errorf("unchanged delta has %d attributes, want 0", len(delta))
	}

	// one change pushes exactly that attribute
	changed := goipp.Attributes{
		keyword("media-supported", "iso_a4_210x297mm"),
		keyword("sides-supported", "one-sided"),
		goipp.MakeAttribute("printer-state", goipp.TagEnum, goipp.Integer(5)),
		keyword("printer-make-and-model", "Example LaserJet"),
	}
	delta = deltaAttrs(probed, changed)
	if len(delta) != 1 || delta[0].Name != "printer-state" {
		t.Errorf("changed delta = %v, want just printer-state", delta)
	}
}
