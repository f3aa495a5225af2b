// Package cli provides the command-line interface for signature
// verification.
package cli

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run dispatches to the requested subcommand.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	switch cmd := args[1]; cmd {
	case "verify":
		VerifyCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "%s: %q is not a known command\n\n", os.Args[0], cmd)
		Usage()
		osExit(2)
	}
}

// Usage prints the top-level help text.
func Usage() {
	prog := os.Args[0]
	fmt.Printf("pdfverify checks the digital signatures embedded in a PDF:\n")
	fmt.Printf("byte-range integrity, signer authenticity, certificate validity,\n")
	fmt.Printf("timestamp tokens and DocMDP permissions, one report per signature.\n\n")
	fmt.Printf("Usage:\n\n")
	fmt.Printf("  %s verify [options] <input.pdf>   verify a signed PDF\n", prog)
	fmt.Printf("  %s version                        print build information\n", prog)
	fmt.Printf("  %s help                           print this text\n\n", prog)
	fmt.Printf("Run '%s verify -h' for the verification options.\n\n", prog)
	fmt.Printf("Typical invocations:\n\n")
	fmt.Printf("  %s verify contract.pdf\n", prog)
	fmt.Printf("  %s verify -trust-roots roots.pem -json contract.pdf\n", prog)
	fmt.Printf("  %s verify -at 2024-06-01T00:00:00Z archived.pdf\n", prog)
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("pdfverify %s (built %s)\n", Version, BuildTime)
}
