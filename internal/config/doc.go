// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, CLI flags) with precedence: CLI flags > Environment
// variables > YAML config > Defaults. It locates the Gradle root project and
// app module, and carries the toolchain defaults used when local.properties
// does not pin them.
package config
