// Package static serves single files from a root directory. It is the
// innermost layer of the site pipeline: a request the combine engine did not
// claim is mapped to one file (or a directory's index file) and sent with
// Last-Modified and a max-age Cache-Control directive.
//
// In defer mode the handler lets the rest of the chain answer first and only
// serves a file when nothing downstream did.
package static
