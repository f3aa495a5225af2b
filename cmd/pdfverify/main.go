// Command pdfverify verifies the digital signatures of PDF files and
// reports, per signature, integrity, authenticity, certificate validity,
// timestamp status and the accumulated DocMDP permission state.
//
// Run "pdfverify help" for usage.
package main

import (
	"os"

	"github.com/georgepadayatti/pdfverify/cli"
)

// Overridden at release time:
//
//	go build -ldflags "-X main.version=... -X main.buildTime=..." ./cmd/pdfverify
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime
	cli.Run(os.Args)
}
