//go:build property
// +build property

package relroot

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestResolveProperties checks the prefix length and token shape
// over generated paths.
func TestResolveProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: output length is (n-1)*3 for n >= 1 separators, empty for n = 0
	properties.Property("prefix length follows separator count", prop.ForAll(
		func(segments []string, backslash bool) bool {
			sep := "/"
			if backslash {
				sep = `\`
			}
			path := strings.Join(segments, sep)
			n := strings.Count(path, sep)
			got := Resolve(path)
			if n <= 1 {
				return got == ""
			}
			return len(got) == (n-1)*len(Token)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Bool(),
	))

	// Property: the prefix is made only of "../" tokens
	properties.Property("prefix is repeated tokens", prop.ForAll(
		func(path string) bool {
			got := Resolve(path)
			return strings.Count(got, Token)*len(Token) == len(got)
		},
		gen.RegexMatch(`^[a-z/\\.]{0,40}$`),
	))

	// Property: the function is pure
	properties.Property("same input same output", prop.ForAll(
		func(path string) bool {
			return Resolve(path) == Resolve(path)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
