package device

import (
	"github.com/OpenPrinting/goipp"

	"github.com/istopwg/ippinfra/internal/ipp"
)

// Default media for socket-connected laser printers. Dimensions are in
// hundredths of millimeters, margins are 6.35 mm all around.
const defaultMargin = 635

var defaultMedia = []struct {
	name   string
	width  int
	length int
}{
	{"na_letter_8.5x11in", 21590, 27940},
	{"na_legal_8.5x14in", 21590, 35560},
	{"iso_a4_210x297mm", 21000, 29700},
}

var mediaColSupported = []string{
	"media-bottom-margin",
	"media-left-margin",
	"media-right-margin",
	"media-size",
	"media-size-name",
	"media-top-margin",
}

var sidesSupported = []string{
	"one-sided",
	"two-sided-long-edge",
	"two-sided-short-edge",
}

// SocketProfile synthesizes the attribute set for a raw AppSocket device.
// There is nothing to query on port 9100, so the device is assumed to be
// a generic monochrome PCL laser printer with standard media sizes.
func SocketProfile() goipp.Attributes {
	var attrs goipp.Attributes

	attrs.Add(goipp.MakeAttribute("copies-supported",
		goipp.TagRange, goipp.Range{Lower: 1, Upper: 1}))
	attrs.Add(goipp.MakeAttribute("document-format-supported",
		goipp.TagMimeType, goipp.String("application/vnd.hp-pcl")))
	attrs.Add(goipp.MakeAttribute("media-bottom-margin-supported",
		goipp.TagInteger, goipp.Integer(defaultMargin)))

	database := goipp.Attribute{Name: "media-col-database"}
	for _, m := range defaultMedia {
		database.Values.Add(goipp.TagBeginCollection,
			mediaCol(m.name, m.width, m.length, defaultMargin))
	}
	attrs.Add(database)

	attrs.Add(goipp.MakeAttribute("media-col-default", goipp.TagBeginCollection,
		mediaCol(defaultMedia[0].name, defaultMedia[0].width, defaultMedia[0].length, defaultMargin)))
	attrs.Add(goipp.MakeAttribute("media-col-ready", goipp.TagBeginCollection,
		mediaCol(defaultMedia[0].name, defaultMedia[0].width, defaultMedia[0].length, defaultMargin)))
	attrs.Add(keywordList("media-col-supported", mediaColSupported))
	attrs.Add(goipp.MakeAttribute("media-default",
		goipp.TagKeyword, goipp.String(defaultMedia[0].name)))
	attrs.Add(goipp.MakeAttribute("media-left-margin-supported",
		goipp.TagInteger, goipp.Integer(defaultMargin)))
	attrs.Add(goipp.MakeAttribute("media-ready",
		goipp.TagKeyword, goipp.String(defaultMedia[0].name)))
	attrs.Add(goipp.MakeAttribute("media-right-margin-supported",
		goipp.TagInteger, goipp.Integer(defaultMargin)))

	sizes := goipp.Attribute{Name: "media-size-supported"}
	for _, m := range defaultMedia {
		sizes.Values.Add(goipp.TagBeginCollection, mediaSize(m.width, m.length))
	}
	attrs.Add(sizes)

	media := goipp.Attribute{Name: "media-supported"}
	for _, m := range defaultMedia {
		media.Values.Add(goipp.TagKeyword, goipp.String(m.name))
	}
	attrs.Add(media)

	attrs.Add(goipp.MakeAttribute("media-top-margin-supported",
		goipp.TagInteger, goipp.Integer(defaultMargin)))
	attrs.Add(goipp.MakeAttribute("print-color-mode-default",
		goipp.TagKeyword, goipp.String("monochrome")))
	attrs.Add(goipp.MakeAttribute("print-color-mode-supported",
		goipp.TagKeyword, goipp.String("monochrome")))
	attrs.Add(goipp.MakeAttribute("print-quality-default",
		goipp.TagEnum, goipp.Integer(ipp.QualityNormal)))

	quality := goipp.Attribute{Name: "print-quality-supported"}
	for _, q := range []int{ipp.QualityDraft, ipp.QualityNormal, ipp.QualityHigh} {
		quality.Values.Add(goipp.TagEnum, goipp.Integer(q))
	}
	attrs.Add(quality)

	attrs.Add(goipp.MakeAttribute("printer-resolution-default",
		goipp.TagResolution, goipp.Resolution{Xres: 300, Yres: 300, Units: goipp.UnitsDpi}))

	resolutions := goipp.Attribute{Name: "printer-resolution-supported"}
	for _, dpi := range []int{300, 600} {
		resolutions.Values.Add(goipp.TagResolution,
			goipp.Resolution{Xres: dpi, Yres: dpi, Units: goipp.UnitsDpi})
	}
	attrs.Add(resolutions)

	attrs.Add(goipp.MakeAttribute("printer-state",
		goipp.TagEnum, goipp.Integer(int(ipp.PrinterStateIdle))))
	attrs.Add(goipp.MakeAttribute("printer-state-reasons",
		goipp.TagKeyword, goipp.String("none")))
	attrs.Add(goipp.MakeAttribute("sides-default",
		goipp.TagKeyword, goipp.String("two-sided-long-edge")))
	attrs.Add(keywordList("sides-supported", sidesSupported))

	return attrs
}

func mediaCol(name string, width, length, margin int) goipp.Collection {
	var col goipp.Collection
	col.Add(goipp.MakeAttribute("media-key", goipp.TagKeyword, goipp.String(name)))
	col.Add(goipp.MakeAttribute("media-size", goipp.TagBeginCollection, mediaSize(width, length)))
	col.Add(goipp.MakeAttribute("media-size-name", goipp.TagKeyword, goipp.String(name)))
	col.Add(goipp.MakeAttribute("media-bottom-margin", goipp.TagInteger, goipp.Integer(margin)))
	col.Add(goipp.MakeAttribute("media-left-margin", goipp.TagInteger, goipp.Integer(margin)))
	col.Add(goipp.MakeAttribute("media-right-margin", goipp.TagInteger, goipp.Integer(margin)))
	col.Add(goipp.MakeAttribute("media-top-margin", goipp.TagInteger, goipp.Integer(margin)))
	return col
}

func mediaSize(width, length int) goipp.Collection {
	var col goipp.Collection
	col.Add(goipp.MakeAttribute("x-dimension", goipp.TagInteger, goipp.Integer(width)))
	col.Add(goipp.MakeAttribute("y-dimension", goipp.TagInteger, goipp.Integer(length)))
	return col
}

func keywordList(name string, values []string) goipp.Attribute {
	attr := goipp.Attribute{Name: name}
	for _, v := range values {
		attr.Values.Add(goipp.TagKeyword, goipp.String(v))
	}
	return attr
}
