package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("unexpected EOF")
	err := NewRenderError(ErrCodeRenderFailed, "template execution failed", cause).
		WithStage("html").
		WithPath("src/html/index.html").
		WithLine(12)

	assert.Equal(t,
		"[ERR_RENDER_FAILED] stage:html src/html/index.html:12 template execution failed: unexpected EOF",
		err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestErrorIs(t *testing.T) {
	err := NewConfigError(ErrCodeSiteMetaInvalid, "bad json", nil)
	wrapped := fmt.Errorf("startup: %w", err)

	assert.True(t, stderrors.Is(wrapped, &Error{Type: ErrorTypeConfig, Code: ErrCodeSiteMetaInvalid}))
	assert.False(t, stderrors.Is(wrapped, &Error{Type: ErrorTypeConfig, Code: ErrCodeConfigInvalid}))
}

func TestHasErrorTypeAndCode(t *testing.T) {
	inner := NewIOError(ErrCodeFileNotFound, "read failed", nil)
	outer := NewBuildError(ErrCodeStyleFailed, "css failed", inner)

	assert.True(t, HasErrorType(outer, ErrorTypeBuild))
	assert.True(t, HasErrorType(outer, ErrorTypeIO))
	assert.False(t, HasErrorType(outer, ErrorTypeNetwork))
	assert.True(t, HasErrorCode(outer, ErrCodeFileNotFound))
	assert.False(t, HasErrorCode(stderrors.New("plain"), ErrCodeFileNotFound))
}

func TestWithContext(t *testing.T) {
	err := NewInternalError(ErrCodeInternalError, "oops", nil).
		WithContext("attempt", 2)
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestStageCollector(t *testing.T) {
	c := NewStageCollector("assets")
	assert.NoError(t, c.Err())

	var wg sync.WaitGroup
	for _, name := range []string{"js", "css", "html"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			c.Add(name, fmt.Errorf("%s broke", name))
		}(name)
	}
	wg.Wait()
	c.Add("images", nil)

	require.True(t, c.HasErrors())
	err := c.Err()
	require.Error(t, err)

	var se *StageError
	require.True(t, stderrors.As(err, &se))
	assert.Equal(t, []string{"css", "html", "js"}, se.FailedStages())
	assert.Contains(t, err.Error(), "3 stages failed")
	assert.Contains(t, err.Error(), "css, html, js")
}

func TestStageErrorSingleFailure(t *testing.T) {
	cause := NewBuildError(ErrCodeBundleFailed, "bundle failed", nil)
	se := &StageError{Stage: "assets", Failures: []StageFailure{{Stage: "js", Err: cause}}}

	assert.Equal(t, "stage js failed: [ERR_BUNDLE_FAILED] bundle failed", se.Error())
	assert.True(t, HasErrorCode(se, ErrCodeBundleFailed))
	assert.True(t, stderrors.Is(se, &Error{Type: ErrorTypeBuild, Code: ErrCodeBundleFailed}))
}

func TestStageErrorNestedFailedStages(t *testing.T) {
	inner := &StageError{Stage: "assets", Failures: []StageFailure{
		{Stage: "css", Err: stderrors.New("x")},
		{Stage: "js", Err: stderrors.New("y")},
	}}
	outer := &StageError{Stage: "build", Failures: []StageFailure{{Stage: "assets", Err: inner}}}

	assert.Equal(t, []string{"css", "js"}, outer.FailedStages())
}

func TestValidationErrorCollection(t *testing.T) {
	vec := &ValidationErrorCollection{}
	assert.False(t, vec.HasErrors())
	assert.NoError(t, vec.ToError())

	vec.AddField("port", 70000, "port out of range", "use 1024-65535")
	vec.AddField("path.dest.root", "", "must not be empty")

	assert.True(t, vec.HasErrors())
	assert.Equal(t, []string{"port", "path.dest.root"}, vec.Fields())
	assert.Contains(t, vec.Error(), "validation failed with 2 errors")

	err := vec.ToError()
	require.Error(t, err)
	assert.True(t, HasErrorType(err, ErrorTypeConfig))
	assert.True(t, HasErrorCode(err, ErrCodeValidationFailed))
}

type recordingLogger struct {
	errors []string
	warns  []string
}

func (r *recordingLogger) Error(_ context.Context, _ error, msg string, fields ...interface{}) {
	r.errors = append(r.errors, fmt.Sprint(append([]interface{}{msg}, fields...)...))
}

func (r *recordingLogger) Warn(_ context.Context, _ error, msg string, _ ...interface{}) {
	r.warns = append(r.warns, msg)
}

func TestErrorHandler(t *testing.T) {
	logger := &recordingLogger{}
	h := NewErrorHandler(logger)

	h.Handle(context.Background(), nil)
	assert.Empty(t, logger.errors)

	h.Handle(context.Background(), NewValidationError(ErrCodeInvalidPath, "bad"))
	assert.Equal(t, []string{"Validation error occurred"}, logger.warns)

	se := &StageError{Stage: "assets", Failures: []StageFailure{
		{Stage: "css", Err: stderrors.New("a")},
		{Stage: "js", Err: stderrors.New("b")},
	}}
	h.Handle(context.Background(), se)
	require.Len(t, logger.errors, 2)
	assert.Contains(t, logger.errors[0], "css")
	assert.Contains(t, logger.errors[1], "js")
}

func TestByStage(t *testing.T) {
	assert.Empty(t, ByStage(nil, "build"))

	css := stderrors.New("bad css")
	js := NewBuildError(ErrCodeBundleFailed, "bad js", nil).WithStage("js")
	nested := &StageError{Stage: "build", Failures: []StageFailure{
		{Stage: "assets", Err: &StageError{Stage: "assets", Failures: []StageFailure{
			{Stage: "css", Err: css},
			{Stage: "js", Err: js},
		}}},
	}}
	byStage := ByStage(nested, "build")
	assert.Len(t, byStage, 2)
	assert.Equal(t, css, byStage["css"])
	assert.Equal(t, error(js), byStage["js"])

	sitemap := NewBuildError(ErrCodeSitemapFailed, "bad sitemap", nil).WithStage("sitemap")
	assert.Equal(t, map[string]error{"sitemap": sitemap}, ByStage(sitemap, "build"))

	plain := stderrors.New("plain")
	assert.Equal(t, map[string]error{"build": plain}, ByStage(plain, "build"))
}
