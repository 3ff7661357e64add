package errors

import (
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
)

func TestESBuildMessages(t *testing.T) {
	err := ESBuildMessages([]api.Message{
		{Text: "Expected \";\"", Location: &api.Location{File: "src/js/app.js", Line: 3, Column: 7}},
		{Text: "Could not resolve \"./missing\""},
	})
	assert.EqualError(t, err, "src/js/app.js:3:7: Expected \";\"\nCould not resolve \"./missing\"")
}
