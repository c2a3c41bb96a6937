package combine

import (
	"net/url"
	"path"
	"strings"
	"unicode/utf8"
)

// itemSep separates entries in the item list.
const itemSep = ","

// Request is a parsed combine URL.
type Request struct {
	// Base is the URL text before the identifier, "/" for the site root.
	Base string
	// Items are the raw specifiers in list order, query suffixes included.
	Items []string
}

// DecodeURL percent-decodes raw. Malformed escapes, including ones that
// decode to invalid UTF-8, are not an error: the raw string is returned
// unchanged so the request can still be handled.
func DecodeURL(raw string) string {
	s, err := url.PathUnescape(raw)
	if err != nil || !utf8.ValidString(s) {
		return raw
	}
	return s
}

// parse splits decoded on the first occurrence of identifier. Later
// occurrences are kept verbatim inside the item list.
func parse(decoded, identifier string) (Request, bool) {
	base, list, ok := strings.Cut(decoded, identifier)
	if !ok {
		return Request{}, false
	}
	return Request{
		Base:  base,
		Items: strings.Split(list, itemSep),
	}, true
}

// StripQuery drops a trailing "?..." cache-busting suffix from an item.
func StripQuery(item string) string {
	if i := strings.IndexByte(item, '?'); i >= 0 {
		return item[:i]
	}
	return item
}

var contentTypes = map[string]string{
	".css": "text/css",
	".js":  "application/javascript",
}

// ContentTypeFor derives the response Content-Type from the outer URL: the
// extension of its last path element, cut at the first '?'. For
// "/??a.css?t=1,b.css?t=2" that is ".css". Unknown extensions yield "".
func ContentTypeFor(decoded string) string {
	return contentTypes[urlExt(decoded)]
}

func urlExt(p string) string {
	return StripQuery(path.Ext(path.Base(p)))
}

// eligible reports whether name has one of the combinable extensions.
// The match is case-sensitive.
func eligible(name string) bool {
	_, ok := contentTypes[path.Ext(name)]
	return ok
}
