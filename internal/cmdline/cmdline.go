// Package cmdline builds single-string command lines from argument vectors.
//
// The output follows the tokenizer used by the Microsoft C runtime and
// CommandLineToArgvW, which is what a child process on Windows uses to
// rebuild its argv from the string handed to CreateProcess.
package cmdline

import "strings"

// NeedsQuoting reports whether arg contains a double quote, space or tab.
// Arguments without any of those are emitted verbatim so pre-quoted or
// glob-like tokens pass through untouched.
func NeedsQuoting(arg string) bool {
	return strings.ContainsAny(arg, "\" \t")
}

// Quote returns arg in a form that survives re-tokenization.
//
// Inside the quotes a double quote becomes \" and a run of backslashes is
// doubled only when it is followed by a double quote or by the closing
// quote; anywhere else backslashes are literal to the tokenizer.
//
// The empty string is returned as "" so it is not lost when joined, even
// though NeedsQuoting reports false for it.
func Quote(arg string) string {
	if arg == "" {
		return `""`
	}
	if !NeedsQuoting(arg) {
		return arg
	}

	var b strings.Builder
	b.Grow(len(arg) + 2)
	b.WriteByte('"')

	for i := 0; i < len(arg); {
		switch arg[i] {
		case '"':
			b.WriteString(`\"`)
			i++
		case '\\':
			j := i
			for j < len(arg) && arg[j] == '\\' {
				j++
			}
			run := arg[i:j]
			if j == len(arg) || arg[j] == '"' {
				b.WriteString(run)
			}
			b.WriteString(run)
			i = j
		default:
			b.WriteByte(arg[i])
			i++
		}
	}

	b.WriteByte('"')
	return b.String()
}

// Join quotes each argument and joins them with single spaces.
// The first element is normally the program path.
func Join(args []string) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(Quote(arg))
	}
	return b.String()
}
