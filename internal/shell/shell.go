// Package shell provides POSIX shell escaping for the few places where a
// command line must cross a shell boundary (in-container `sh -c`, SSH).
// Everywhere else the engine passes argv vectors directly to the spawn
// primitive; never rebuild a shell string from user-controlled text outside
// these helpers.
package shell

import "strings"

// Escape wraps s in single quotes, escaping embedded single quotes so a
// POSIX shell parsing the result yields back exactly s.
//
//	Escape("a'b") == `'a'\''b'`
func Escape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Join renders an argv vector as a shell command line with every argument
// after the program name escaped.
func Join(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(argv[0])
	for _, a := range argv[1:] {
		b.WriteByte(' ')
		b.WriteString(Escape(a))
	}
	return b.String()
}
