// Package relroot computes the relative-root prefix injected into page
// templates as relativeRoot.
//
// A page rendered from a nested source directory references root-level
// assets through this prefix so the output stays correct at any depth:
//
//	<link rel="stylesheet" href="{{.relativeRoot}}assets/css/style.css">
package relroot

import "strings"

// Token is the path segment repeated once per directory level.
const Token = "../"

// Resolve returns the relative-root prefix for sourcePath.
//
// The separators of one family are counted: forward slashes, or, when
// the path holds none, backslashes. For n separators the result is n
// empty elements joined with Token, which is n-1 repetitions of Token.
// Callers pass the path relative to the content root with a leading
// separator ("/blog/post.html"), which makes the prefix equal the output
// directory depth.
func Resolve(sourcePath string) string {
	n := Depth(sourcePath)
	if n < 2 {
		return ""
	}
	return strings.Repeat(Token, n-1)
}

// Depth returns the number of separators Resolve counts for sourcePath.
func Depth(sourcePath string) int {
	if n := strings.Count(sourcePath, "/"); n > 0 {
		return n
	}
	return strings.Count(sourcePath, `\`)
}
