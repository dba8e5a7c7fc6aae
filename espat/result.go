// Package espat implements the host-side AT-command engine that drives an
// Espressif Wi-Fi coprocessor: the command dispatcher, the byte-stream
// response parser, and the connection table (spec.md §4).
package espat

import "fmt"

// Result is the closed set of outcome codes a submitted command can
// resolve to (spec.md §7). It satisfies the error interface so callers
// that only care "did this fail" can treat it as a plain error, while
// callers that branch on the specific code can compare it directly or via
// errors.Is.
type Result int

const (
	Ok Result = iota
	OkIgnoreMore

	Error
	ParErr
	NoMem
	NoDevice
	BlockingNotAllowed
	QueueFull

	Timeout
	CommandNotSupported

	ConnFail
	ConnTimeout
	ConnAlreadyActive
	NoFreeConn
	Closed
	NoIP

	Pass
	NoAp
)

var resultNames = map[Result]string{
	Ok:                  "Ok",
	OkIgnoreMore:        "OkIgnoreMore",
	Error:               "Error",
	ParErr:              "ParErr",
	NoMem:               "NoMem",
	NoDevice:            "NoDevice",
	BlockingNotAllowed:  "BlockingNotAllowed",
	QueueFull:           "QueueFull",
	Timeout:             "Timeout",
	CommandNotSupported: "CommandNotSupported",
	ConnFail:            "ConnFail",
	ConnTimeout:         "ConnTimeout",
	ConnAlreadyActive:   "ConnAlreadyActive",
	NoFreeConn:          "NoFreeConn",
	Closed:              "Closed",
	NoIP:                "NoIP",
	Pass:                "Pass",
	NoAp:                "NoAp",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Error implements the error interface so a Result can be returned (and
// compared with errors.Is) wherever Go idiom expects an error.
func (r Result) Error() string {
	return "espat: " + r.String()
}

// IsOk reports whether the result represents a successful completion.
func (r Result) IsOk() bool {
	return r == Ok || r == OkIgnoreMore
}
