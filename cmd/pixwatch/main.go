// Package main is the single-binary entrypoint for pixwatch.
package main

import "github.com/pixwatch/pixwatch/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
