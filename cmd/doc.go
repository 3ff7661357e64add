// Command overview:
//
//   - build: render, compile and copy the site into the output root
//   - serve: build, serve with live reload and rebuild on change (default)
//   - watch: build and rebuild on change without serving
//   - ship: build and package the output root as a zip archive
//   - clean: remove the output root
//   - config: print the effective configuration
//   - version: show build information
//
// # Command Examples
//
//	// Development server on another port
//	psbg serve --port 3000
//
//	// Release build and archive
//	psbg ship --production
//
//	// Inspect what a PSBG_* variable changes
//	PSBG_PATH_SRC_HTML=pages/ psbg config
package cmd
