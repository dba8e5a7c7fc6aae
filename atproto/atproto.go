// Package atproto implements the byte/string framing primitives of the
// AT-command wire dialect: argument formatting for outgoing commands and
// the buffer types shared by the dispatcher and parser.
package atproto

const (
	// CommandScratchMax bounds a single assembled "AT..." command line.
	CommandScratchMax = 256

	// LineBufferMin is the minimum size of the parser's rolling line
	// buffer (spec.md §3, "Parser line buffer").
	LineBufferMin = 128

	// Prompt is the mid-line sequence that gates CIPSEND bulk payloads.
	Prompt = "\n> "

	// CRLF terminates every AT command and most textual responses.
	CRLF = "\r\n"
)
