package device

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/istopwg/ippinfra/internal/ipp"
)

// TrackedAttributes is the set of printer attributes the proxy probes on
// the output device and mirrors to the infrastructure printer. The list
// is kept sorted.
var TrackedAttributes = []string{
	"copies-default",
	"copies-supported",
	"document-format-default",
	"document-format-supported",
	"finishings-col-database",
	"finishings-col-default",
	"finishings-col-ready",
	"finishings-col-supported",
	"finishings-default",
	"finishings-supported",
	"jpeg-k-octets-supported",
	"media-bottom-margin-supported",
	"media-col-database",
	"media-col-default",
	"media-col-ready",
	"media-col-supported",
	"media-default",
	"media-left-margin-supported",
	"media-ready",
	"media-right-margin-supported",
	"media-size-supported",
	"media-source-supported",
	"media-supported",
	"media-top-margin-supported",
	"media-type-supported",
	"pdf-k-octets-supported",
	"print-color-mode-default",
	"print-color-mode-supported",
	"print-darkness-default",
	"print-darkness-supported",
	"print-quality-default",
	"print-quality-supported",
	"print-scaling-default",
	"print-scaling-supported",
	"printer-darkness-configured",
	"printer-darkness-supported",
	"printer-resolution-default",
	"printer-resolution-supported",
	"printer-state",
	"printer-state-reasons",
	"pwg-raster-document-resolution-supported",
	"pwg-raster-document-sheet-back",
	"pwg-raster-document-type-supported",
	"sides-default",
	"sides-supported",
	"urf-supported",
}

// Probe returns the capability attributes of the output device. IPP(S)
// devices are queried with Get-Printer-Attributes, retrying the
// connection until ctx ends; an IPP error status yields an empty set.
// AppSocket devices cannot be queried and get the synthesized profile.
func Probe(ctx context.Context, deviceURI string, opts ipp.ClientOptions, log zerolog.Logger) (goipp.Attributes, error) {
	u, err := url.Parse(deviceURI)
	if err != nil {
		return nil, fmt.Errorf("bad device URI %q: %w", deviceURI, err)
	}

	switch u.Scheme {
	case "socket":
		return SocketProfile(), nil
	case "ipp", "ipps":
	default:
		return nil, fmt.Errorf("unsupported device URI scheme %q", u.Scheme)
	}

	cli, err := ipp.NewClient(deviceURI, opts, log)
	if err != nil {
		return nil, err
	}
	if err := cli.ConnectBackoff(ctx); err != nil {
		return nil, err
	}

	req := cli.NewRequest(goipp.OpGetPrinterAttributes)
	req.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String(deviceURI)))
	req.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(opts.Username)))
	req.Operation.Add(keywordList("requested-attributes", TrackedAttributes))

	rsp, err := cli.Do(ctx, req)
	if err != nil {
		// An unwilling device is reported as having no capabilities;
		// the attribute update then pushes nothing.
		log.Error().Err(err).Str("device", deviceURI).Msg("device refused attribute query")
		return goipp.Attributes{}, nil
	}

	var attrs goipp.Attributes
	for _, g := range rsp.AttrGroups() {
		if g.Tag == goipp.TagPrinterGroup {
			attrs = append(attrs, g.Attrs...)
		}
	}
	return reconcileRaster(attrs), nil
}

// reconcileRaster fills in the PWG raster attributes of an AirPrint-only
// device from its compact urf-supported encoding. Attributes the device
// already reports are left alone.
func reconcileRaster(attrs goipp.Attributes) goipp.Attributes {
	urf := ipp.AttrStrings(attrs, "urf-supported")
	if len(urf) == 0 {
		return attrs
	}

	if _, ok := ipp.FindAttr(attrs, "pwg-raster-document-resolution-supported"); !ok {
		attr := goipp.Attribute{Name: "pwg-raster-document-resolution-supported"}
		for _, token := range urf {
			if !strings.HasPrefix(token, "RS") {
				continue
			}
			for _, field := range strings.Split(token[2:], "-") {
				if res, err := strconv.Atoi(field); err == nil && res > 0 {
					attr.Values.Add(goipp.TagResolution,
						goipp.Resolution{Xres: res, Yres: res, Units: goipp.UnitsDpi})
				}
			}
		}
		if len(attr.Values) > 0 {
			attrs.Add(attr)
		}
	}

	if _, ok := ipp.FindAttr(attrs, "pwg-raster-document-sheet-back"); !ok {
		for _, token := range urf {
			if !strings.HasPrefix(token, "DM") {
				continue
			}
			var back string
			switch token {
			case "DM1":
				back = "normal"
			case "DM2":
				back = "flipped"
			case "DM3":
				back = "rotated"
			default:
				back = "manual-tumble"
			}
			attrs.Add(goipp.MakeAttribute("pwg-raster-document-sheet-back",
				goipp.TagKeyword, goipp.String(back)))
			break
		}
	}

	if _, ok := ipp.FindAttr(attrs, "pwg-raster-document-type-supported"); !ok {
		types := map[string]string{
			"ADOBERGB24": "adobe-rgb_8",
			"ADOBERGB48": "adobe-rgb_16",
			"SRGB24":     "srgb_8",
			"W8":         "sgray_8",
			"W16":        "sgray_16",
		}
		attr := goipp.Attribute{Name: "pwg-raster-document-type-supported"}
		for _, token := range urf {
			if pwg, ok := types[token]; ok {
				attr.Values.Add(goipp.TagKeyword, goipp.String(pwg))
			}
		}
		if len(attr.Values) > 0 {
			attrs.Add(attr)
		}
	}

	return attrs
}
