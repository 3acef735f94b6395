package ipp

import (
	"fmt"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"
)

// DumpMessage logs msg line by line at trace level. Document payloads are
// never part of msg and never appear in the dump.
func DumpMessage(log zerolog.Logger, request bool, msg *goipp.Message) {
	for _, line := range FormatMessage(request, msg) {
		log.Trace().Msg(line)
	}
}

// FormatMessage renders msg as ipptool-style text: a header line with the
// operation or status name, then one block per attribute group separated
// by the group's delimiter tag.
func FormatMessage(request bool, msg *goipp.Message) []string {
	dir, code := "<--", goipp.Status(msg.Code).String()
	if request {
		dir, code = "-->", goipp.Op(msg.Code).String()
	}

	ver := uint16(msg.Version)
	lines := []string{fmt.Sprintf("%s %s request-id=%d version=%d.%d",
		dir, code, msg.RequestID, ver>>8, ver&0xff)}

	for _, g := range msg.AttrGroups() {
		lines = append(lines, fmt.Sprintf("---- %s ----", g.Tag))
		for _, a := range g.Attrs {
			lines = append(lines, formatAttr(a))
		}
	}
	return lines
}

func formatAttr(a goipp.Attribute) string {
	if len(a.Values) == 0 {
		return fmt.Sprintf("%s (no-value)", a.Name)
	}
	tag := a.Values[0].T
	if len(a.Values) == 1 {
		return fmt.Sprintf("%s (%s) = %s", a.Name, tag, a.Values[0].V)
	}
	return fmt.Sprintf("%s (1setOf %s) = %s", a.Name, tag, a.Values)
}
