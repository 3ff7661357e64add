package cmd

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
)

// setupProject creates a minimal source tree in a fresh working directory.
func setupProject(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())

	files := map[string]string{
		"src/html/_layout.html":  `<html><head><title>{{.page.title}}</title></head><body>{{.content}}</body></html>`,
		"src/html/index.html":    `<html><head><title>{{.siteMeta.name}}</title></head><body>home</body></html>`,
		"src/html/blog/first.md": "---\ntitle: First\n---\n# Hello\n",
		"src/css/app.css":        "body { margin: 0; }\n",
		"src/js/app.js":          "console.log('psbg');\n",
		"src/img/dot.svg":        `<svg xmlns="http://www.w3.org/2000/svg"></svg>`,
		"src/assets/robots.txt":  "User-agent: *\n",
		"src/data/site.json":     `{"name": "Example"}`,
	}
	for rel, content := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(rel), 0o755))
		require.NoError(t, os.WriteFile(rel, []byte(content), 0o644))
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestBuildCommand(t *testing.T) {
	setupProject(t)

	_, err := execute(t, "build", "--log-level", "error")
	require.NoError(t, err)

	index, err := os.ReadFile("dist/index.html")
	require.NoError(t, err)
	assert.Contains(t, string(index), "<title>Example</title>")

	post, err := os.ReadFile("dist/blog/first.html")
	require.NoError(t, err)
	assert.Contains(t, string(post), "<title>First</title>")
	assert.Contains(t, string(post), "<h1>Hello</h1>")

	assert.FileExists(t, "dist/assets/css/app.css")
	assert.FileExists(t, "dist/assets/css/app.css.map")
	assert.FileExists(t, "dist/assets/js/app.js")
	assert.FileExists(t, "dist/assets/img/dot.svg")
	assert.FileExists(t, "dist/assets/robots.txt")
	assert.FileExists(t, "dist/sitemap.xml")
}

func TestBuildProduction(t *testing.T) {
	setupProject(t)

	_, err := execute(t, "build", "--production", "--log-level", "error")
	require.NoError(t, err)

	assert.FileExists(t, "dist/assets/css/app.css")
	assert.NoFileExists(t, "dist/assets/css/app.css.map")

	js, err := os.ReadFile("dist/assets/js/app.js")
	require.NoError(t, err)
	assert.NotContains(t, string(js), "sourceMappingURL")
}

func TestBuildProductionFromEnvironment(t *testing.T) {
	setupProject(t)
	t.Setenv("PSBG_PRODUCTION", "true")

	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "production: true")
}

func TestBuildMalformedSiteMeta(t *testing.T) {
	setupProject(t)
	require.NoError(t, os.WriteFile("src/data/site.json", []byte(`{"name": `), 0o644))

	_, err := execute(t, "build", "--log-level", "error")
	require.Error(t, err)
	assert.True(t, perrors.HasErrorCode(err, perrors.ErrCodeSiteMetaInvalid))
	assert.NoDirExists(t, "dist")
}

func TestConfigCommand(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setupProject(t)
		out, err := execute(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "port: 8000")
		assert.Contains(t, out, "html: src/html/")
	})

	t.Run("config file", func(t *testing.T) {
		setupProject(t)
		require.NoError(t, os.WriteFile(".psbg.yml", []byte("host: 0.0.0.0\narchive_name: site\n"), 0o644))

		out, err := execute(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "host: 0.0.0.0")
		assert.Contains(t, out, "archive_name: site")
	})

	t.Run("explicit config flag", func(t *testing.T) {
		setupProject(t)
		require.NoError(t, os.WriteFile("custom.yml", []byte("port: 3000\n"), 0o644))

		out, err := execute(t, "config", "--config", "custom.yml")
		require.NoError(t, err)
		assert.Contains(t, out, "port: 3000")
	})

	t.Run("config file from environment", func(t *testing.T) {
		setupProject(t)
		require.NoError(t, os.WriteFile("env.yml", []byte("port: 3100\n"), 0o644))
		t.Setenv("PSBG_CONFIG_FILE", "env.yml")

		out, err := execute(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "port: 3100")
	})

	t.Run("environment overrides file", func(t *testing.T) {
		setupProject(t)
		require.NoError(t, os.WriteFile(".psbg.yml", []byte("port: 3000\n"), 0o644))
		t.Setenv("PSBG_PORT", "9100")

		out, err := execute(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "port: 9100")
	})

	t.Run("json", func(t *testing.T) {
		setupProject(t)
		out, err := execute(t, "config", "--format", "json")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "{"))
		assert.Contains(t, out, `"Port": 8000`)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		setupProject(t)
		_, err := execute(t, "config", "--config", "nope.yml")
		require.Error(t, err)
		assert.True(t, perrors.HasErrorType(err, perrors.ErrorTypeConfig))
	})

	t.Run("invalid value", func(t *testing.T) {
		setupProject(t)
		require.NoError(t, os.WriteFile(".psbg.yml", []byte("port: 70000\n"), 0o644))
		_, err := execute(t, "config")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
	})
}

func TestCleanCommand(t *testing.T) {
	setupProject(t)
	require.NoError(t, os.MkdirAll("dist/old", 0o755))

	_, err := execute(t, "clean", "--log-level", "error")
	require.NoError(t, err)
	assert.NoDirExists(t, "dist")
}

func TestShipCommand(t *testing.T) {
	setupProject(t)

	_, err := execute(t, "ship", "--log-level", "error")
	require.NoError(t, err)
	assert.FileExists(t, "archive.zip")
}

func TestVersionCommand(t *testing.T) {
	setupProject(t)
	// version works even with a broken configuration.
	require.NoError(t, os.WriteFile(".psbg.yml", []byte("port: 70000\n"), 0o644))

	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)

	_, err = execute(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailed, ExitCode(stderrors.New("boom")))
	assert.Equal(t, ExitConfig, ExitCode(perrors.NewConfigError(perrors.ErrCodeSiteMetaInvalid, "bad", nil)))
	assert.Equal(t, ExitServer, ExitCode(perrors.NewNetworkError(perrors.ErrCodeServerFailed, "failed to listen", nil)))

	setupProject(t)
	require.NoError(t, os.WriteFile(".psbg.yml", []byte("port: 70000\n"), 0o644))
	_, err := execute(t, "config")
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestReportLogsFailure(t *testing.T) {
	a := newApp()
	root := a.rootCommand()
	var errOut bytes.Buffer
	root.SetErr(&errOut)

	a.report(context.Background(), root, perrors.NewConfigError(perrors.ErrCodeSiteMetaInvalid, "malformed site metadata", nil))
	assert.Contains(t, errOut.String(), "malformed site metadata")
	assert.Contains(t, errOut.String(), "level=ERROR")
}
