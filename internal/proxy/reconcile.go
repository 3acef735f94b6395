package proxy

import (
	"context"
	"fmt"

	"github.com/OpenPrinting/goipp"

	"github.com/istopwg/ippinfra/internal/device"
	"github.com/istopwg/ippinfra/internal/ipp"
)

// updateDeviceAttrs reports the probed device capabilities to the
// infrastructure printer. Only tracked attributes that changed since the
// last accepted update are sent; an unchanged set still issues the
// request with an empty printer group.
func (p *Proxy) updateDeviceAttrs(ctx context.Context, probed goipp.Attributes) error {
	req := p.newRequest(goipp.OpupdateOutputDeviceAttributes)
	delta := deltaAttrs(p.deviceAttrs, probed)
	req.Printer = append(req.Printer, delta...)

	if _, err := p.cli.Do(ctx, req); err != nil {
		return fmt.Errorf("unable to update the output device with %q: %w", p.printerURI, err)
	}

	p.deviceAttrs = probed
	p.log.Debug().Int("changed", len(delta)).Msg("device attributes updated")
	return nil
}

// deltaAttrs returns the tracked attributes of probed that differ from
// the previously accepted set.
func deltaAttrs(prev, probed goipp.Attributes) goipp.Attributes {
	var delta goipp.Attributes
	for _, name := range device.TrackedAttributes {
		attr, ok := ipp.FindAttr(probed, name)
		if !ok {
			continue
		}
		old, had := ipp.FindAttr(prev, name)
		if !had || !attrsEqual(old, attr) {
			delta.Add(attr)
		}
	}
	return delta
}

// attrsEqual compares two attributes under the conservative contract:
// equal only with the same value tags, the same value count, and
// element-wise equal integer, boolean or string values. Anything the
// proxy cannot cheaply compare counts as changed and gets pushed.
func attrsEqual(a, b goipp.Attribute) bool {
	if len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if a.Values[i].T != b.Values[i].T {
			return false
		}
		switch av := a.Values[i].V.(type) {
		case goipp.Integer:
			if bv, ok := b.Values[i].V.(goipp.Integer); !ok || av != bv {
				return false
			}
		case goipp.Boolean:
			if bv, ok := b.Values[i].V.(goipp.Boolean); !ok || av != bv {
				return false
			}
		case goipp.String:
			if bv, ok := b.Values[i].V.(goipp.String); !ok || av != bv {
				return false
			}
		default:
			return false
		}
	}
	return true
}
