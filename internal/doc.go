// Package internal contains the implementation packages of the psbg CLI.
//
// # Package Organization
//
// The internal packages are organized by pipeline stage:
//
//   - relroot: relative root prefix for a page path
//   - config: configuration loading, validation and site metadata
//   - pipeline: series/parallel task graphs and their runner
//   - renderer: page templates and Markdown rendering
//   - tags: analytics snippet injection
//   - styles, scripts: esbuild stylesheet and script bundling
//   - images, assets: image optimisation and static file copies
//   - sitemap, archive: sitemap.xml and the zip archive
//   - watcher: file system monitoring with debouncing
//   - server: dev server with live reload and error overlay
//   - tasks: the concrete build, watch and ship graphs
//
// # Inter-Package Communication
//
//   - tasks builds stage functions from the config and hands them to pipeline
//   - pipeline reports durations and outcomes through metrics
//   - watcher batches change events that tasks maps back to stages
//   - server receives rebuild outcomes from tasks and pushes them to browsers
//
// For detailed documentation, see the individual package documentation.
package internal
