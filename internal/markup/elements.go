package markup

import (
	"strings"

	"golang.org/x/net/html/atom"
)

// voidElements never have children or closing tags.
var voidElements = map[string]bool{
	"area":   true,
	"base":   true,
	"br":     true,
	"col":    true,
	"embed":  true,
	"hr":     true,
	"img":    true,
	"input":  true,
	"link":   true,
	"meta":   true,
	"param":  true,
	"source": true,
	"track":  true,
	"wbr":    true,
}

// rawTextElements hold unparsed character data up to their closing tag.
var rawTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"textarea": true,
}

// elementNames are the HTML tag names, current and legacy. The atom table
// also carries attribute names such as name, value and async, so a hit
// there alone does not make a tag an element.
const elementNames = `
a abbr address applet area article aside audio b base basefont bdi bdo big
blockquote body br button canvas caption center cite code col colgroup
command data datalist dd del details dfn dialog dir div dl dt em embed
fieldset figcaption figure font footer form frame frameset h1 h2 h3 h4 h5
h6 head header hgroup hr html i iframe image img input ins kbd keygen label
legend li link listing main map mark marquee math menu menuitem meta meter
nav nobr noembed noframes noscript object ol optgroup option output p param
picture plaintext pre progress q rb rp rt rtc ruby s samp script section
select slot small source span strike strong style sub summary sup svg table
tbody td template textarea tfoot th thead time title tr track tt u ul var
video wbr xmp
`

var htmlElements = func() map[atom.Atom]bool {
	m := make(map[atom.Atom]bool)
	for _, name := range strings.Fields(elementNames) {
		if a := atom.Lookup([]byte(name)); a != 0 {
			m[a] = true
		}
	}
	return m
}()

// foreignElements are SVG names the atom table does not carry.
var foreignElements = map[string]bool{
	"circle":         true,
	"clipPath":       true,
	"defs":           true,
	"ellipse":        true,
	"g":              true,
	"line":           true,
	"linearGradient": true,
	"mask":           true,
	"polygon":        true,
	"polyline":       true,
	"radialGradient": true,
	"rect":           true,
	"stop":           true,
	"symbol":         true,
	"text":           true,
	"tspan":          true,
	"use":            true,
}

// IsKnownElement reports whether tag is a standard HTML (or inline SVG)
// element name. The lookup is case-sensitive, so `Button` is not `button`.
func IsKnownElement(tag string) bool {
	if tag == "" {
		return false
	}
	if htmlElements[atom.Lookup([]byte(tag))] {
		return true
	}
	return foreignElements[tag]
}

// IsVoidElement reports whether tag is written without a closing tag.
func IsVoidElement(tag string) bool {
	return voidElements[tag]
}
