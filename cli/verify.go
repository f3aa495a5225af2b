package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/georgepadayatti/pdfverify/config"
	"github.com/georgepadayatti/pdfverify/keys"
	"github.com/georgepadayatti/pdfverify/pdf/document"
	"github.com/georgepadayatti/pdfverify/verify"
	"github.com/georgepadayatti/pdfverify/verify/certs"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	ConfigFile             string
	TrustRootsFile         string
	TrustStorePassphrase   string
	TrustSignatureTime     bool
	AllowExpiredCerts      bool
	ValidateTimestampCerts bool
	VerificationTime       string
	JSON                   bool
	Verbose                bool
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	var opts VerifyOptions

	verifyFlags.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	verifyFlags.StringVar(&opts.TrustRootsFile, "trust-roots", "", "File containing trusted root certificates (PEM, DER or PKCS#12)")
	verifyFlags.StringVar(&opts.TrustStorePassphrase, "trust-store-passphrase", "", "Passphrase for a PKCS#12 trust store")
	verifyFlags.BoolVar(&opts.TrustSignatureTime, "trust-signature-time", false, "Trust the signature time if no timestamp is present (insecure)")
	verifyFlags.BoolVar(&opts.AllowExpiredCerts, "allow-expired-certs", false, "Accept certificates that have expired since signing")
	verifyFlags.BoolVar(&opts.ValidateTimestampCerts, "validate-timestamp-certs", true, "Validate timestamp token certificates")
	verifyFlags.StringVar(&opts.VerificationTime, "at", "", "Verify as of a fixed RFC 3339 time instead of now")
	verifyFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	verifyFlags.BoolVar(&opts.Verbose, "verbose", false, "Show detailed verification information")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify [options] <input.pdf>\n\n", os.Args[0])
		fmt.Println("Verify the digital signature(s) of a PDF file.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input.pdf  PDF file to verify")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s verify document.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -json document.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -trust-roots trusted-cas.pem document.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -at 2024-06-01T00:00:00Z document.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(verifyFlags.Args()) < 1 {
		verifyFlags.Usage()
		osExit(1)
	}

	inputPath := verifyFlags.Arg(0)

	output, err := verifyPDF(inputPath, &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	// Output results
	if opts.JSON {
		outputJSON(output)
	} else {
		outputText(output, opts.Verbose)
	}

	// Exit with non-zero code if any signature is invalid
	for _, result := range output.Signatures {
		if result.Status == "INVALID" {
			osExit(1)
		}
	}
}

// VerifyOutput is the complete verification output.
type VerifyOutput struct {
	File       string          `json:"file"`
	Signatures []*VerifyResult `json:"signatures"`
}

// VerifyResult is a JSON-serializable verification result for a single signature.
type VerifyResult struct {
	SignatureName       string           `json:"signature_name"`
	Status              string           `json:"status"`
	IntegrityValid      bool             `json:"integrity_valid"`
	AuthenticityValid   bool             `json:"authenticity_valid"`
	CoversWholeDocument bool             `json:"covers_whole_document"`
	RevisionIndex       int              `json:"revision_index"`
	TotalRevisions      int              `json:"total_revisions"`
	SignerName          string           `json:"signer_name,omitempty"`
	SigningTime         string           `json:"signing_time,omitempty"`
	TimeSource          string           `json:"time_source,omitempty"`
	CertValidAtSigning  string           `json:"cert_valid_at_signing,omitempty"`
	CertValidNow        string           `json:"cert_valid_now,omitempty"`
	TimestampTime       string           `json:"timestamp_time,omitempty"`
	TimestampTrusted    bool             `json:"timestamp_trusted"`
	Permissions         *PermissionsInfo `json:"permissions,omitempty"`
	Error               string           `json:"error,omitempty"`
	Warnings            []string         `json:"warnings,omitempty"`
	Certificate         *CertificateInfo `json:"certificate,omitempty"`
}

// PermissionsInfo describes the cumulative permission state for JSON output.
type PermissionsInfo struct {
	CertificationSignature bool     `json:"certification_signature"`
	FillInAllowed          bool     `json:"fill_in_allowed"`
	AnnotationsAllowed     bool     `json:"annotations_allowed"`
	LockedFields           []string `json:"locked_fields,omitempty"`
}

// CertificateInfo contains certificate information for JSON output.
type CertificateInfo struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
}

// verifyPDF performs the actual verification.
func verifyPDF(inputPath string, opts *VerifyOptions) (*VerifyOutput, error) {
	doc, err := document.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	settings, err := buildSettings(opts)
	if err != nil {
		return nil, err
	}

	records := verify.New(settings).VerifyDocument(doc)
	if len(records) == 0 {
		return nil, fmt.Errorf("no signatures found in %s", inputPath)
	}

	output := &VerifyOutput{File: inputPath}
	for _, rec := range records {
		output.Signatures = append(output.Signatures, toResult(rec))
	}
	return output, nil
}

// buildSettings merges the configuration file, if any, with command-line
// flags; flags win.
func buildSettings(opts *VerifyOptions) (*verify.Settings, error) {
	settings := verify.DefaultSettings()

	if opts.ConfigFile != "" {
		cfg, err := config.LoadConfig(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		settings, err = cfg.Verification.BuildSettings()
		if err != nil {
			return nil, err
		}
	}

	if opts.TrustSignatureTime {
		settings.TrustSignatureTime = true
	}
	if opts.AllowExpiredCerts {
		settings.AllowExpiredCerts = true
	}
	settings.ValidateTimestampCertificates = opts.ValidateTimestampCerts

	if opts.TrustRootsFile != "" {
		pool, err := keys.NewTrustPool([]string{opts.TrustRootsFile}, opts.TrustStorePassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load trusted roots: %w", err)
		}
		settings.TrustRoots = pool
	}

	if opts.VerificationTime != "" {
		t, err := time.Parse(time.RFC3339, opts.VerificationTime)
		if err != nil {
			return nil, fmt.Errorf("invalid -at time: %w", err)
		}
		settings.VerificationTime = t
	}

	return settings, nil
}

// toResult converts a verification record into its JSON form.
func toResult(rec *verify.Record) *VerifyResult {
	result := &VerifyResult{
		SignatureName:       rec.SignatureName,
		Status:              status(rec),
		IntegrityValid:      rec.IntegrityOK,
		AuthenticityValid:   rec.AuthenticityOK,
		CoversWholeDocument: rec.CoversWholeDocument,
		RevisionIndex:       rec.RevisionIndex,
		TotalRevisions:      rec.TotalRevisions,
		SignerName:          rec.SignerName,
		TimeSource:          string(rec.TimeSource),
		Warnings:            rec.Warnings,
	}

	if rec.Err != nil {
		result.Error = rec.Err.Error()
		return result
	}

	if !rec.SigningTime.IsZero() {
		result.SigningTime = rec.SigningTime.Format(time.RFC3339)
	}
	result.CertValidAtSigning = rec.CertValidAtSigning.String()
	result.CertValidNow = rec.CertValidNow.String()

	if rec.Timestamp != nil {
		result.TimestampTime = rec.Timestamp.GenTime.Format(time.RFC3339)
		result.TimestampTrusted = rec.Timestamp.Trusted()
	}

	result.Permissions = &PermissionsInfo{
		CertificationSignature: rec.Permissions.CertificationSignature,
		FillInAllowed:          rec.Permissions.FillInAllowed,
		AnnotationsAllowed:     rec.Permissions.AnnotationsAllowed,
	}
	for _, lock := range rec.Permissions.FieldLocks {
		result.Permissions.LockedFields = append(result.Permissions.LockedFields, lock.Fields...)
	}

	if rec.SignerCertificate != nil {
		result.Certificate = &CertificateInfo{
			Subject:   rec.SignerCertificate.Subject.String(),
			Issuer:    rec.SignerCertificate.Issuer.String(),
			Serial:    rec.SignerCertificate.SerialNumber.String(),
			NotBefore: rec.SignerCertificate.NotBefore.Format(time.RFC3339),
			NotAfter:  rec.SignerCertificate.NotAfter.Format(time.RFC3339),
		}
	}

	return result
}

// status folds a record into a display status.
func status(rec *verify.Record) string {
	switch {
	case rec.Err != nil:
		return "ERROR"
	case !rec.IntegrityOK || !rec.AuthenticityOK:
		return "INVALID"
	case rec.CertValidAtSigning != certs.ValidityValid:
		return "WARNING"
	case len(rec.Warnings) > 0:
		return "WARNING"
	default:
		return "VALID"
	}
}

// outputJSON outputs the results in JSON format.
func outputJSON(output *VerifyOutput) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		osExit(1)
	}
}

// outputText outputs the results in human-readable text format.
func outputText(output *VerifyOutput, verbose bool) {
	fmt.Printf("PDF Verification Results\n")
	fmt.Printf("========================\n\n")
	fmt.Printf("Found %d signature(s) in %s\n\n", len(output.Signatures), output.File)

	for _, result := range output.Signatures {
		fmt.Printf("%s\n", result.SignatureName)
		fmt.Printf("------------\n")

		statusIcon := getStatusIcon(result.Status)
		fmt.Printf("  Status: %s %s\n", statusIcon, result.Status)

		if result.Error != "" {
			fmt.Printf("  Error: %s\n", result.Error)
			fmt.Println()
			continue
		}

		fmt.Printf("  Integrity: %s\n", boolToStatus(result.IntegrityValid))
		fmt.Printf("  Authenticity: %s\n", boolToStatus(result.AuthenticityValid))
		fmt.Printf("  Revision: %d of %d\n", result.RevisionIndex, result.TotalRevisions)
		if result.CoversWholeDocument {
			fmt.Printf("  Coverage: entire document\n")
		} else {
			fmt.Printf("  Coverage: document was revised after this signature\n")
		}

		if result.SignerName != "" {
			fmt.Printf("  Signer: %s\n", result.SignerName)
		}
		if result.SigningTime != "" {
			fmt.Printf("  Signing Time: %s (%s)\n", result.SigningTime, result.TimeSource)
		}
		fmt.Printf("  Certificate at signing: %s\n", result.CertValidAtSigning)
		fmt.Printf("  Certificate now: %s\n", result.CertValidNow)

		if result.TimestampTime != "" {
			fmt.Printf("  Timestamp: %s (trusted: %v)\n", result.TimestampTime, result.TimestampTrusted)
		}

		if result.Permissions != nil && result.Permissions.CertificationSignature {
			fmt.Printf("  Certified document: fill-in %s, annotations %s\n",
				allowed(result.Permissions.FillInAllowed), allowed(result.Permissions.AnnotationsAllowed))
			if len(result.Permissions.LockedFields) > 0 {
				fmt.Printf("  Locked fields: %v\n", result.Permissions.LockedFields)
			}
		}

		if verbose && result.Certificate != nil {
			fmt.Printf("\n  Certificate Details:\n")
			fmt.Printf("    Subject: %s\n", result.Certificate.Subject)
			fmt.Printf("    Issuer: %s\n", result.Certificate.Issuer)
			fmt.Printf("    Serial: %s\n", result.Certificate.Serial)
			fmt.Printf("    Valid: %s to %s\n", result.Certificate.NotBefore, result.Certificate.NotAfter)
		}

		if len(result.Warnings) > 0 {
			fmt.Printf("\n  Warnings:\n")
			for _, w := range result.Warnings {
				fmt.Printf("    - %s\n", w)
			}
		}

		fmt.Println()
	}
}

// getStatusIcon returns an icon for the status.
func getStatusIcon(status string) string {
	switch status {
	case "VALID":
		return "[OK]"
	case "INVALID":
		return "[FAIL]"
	case "WARNING":
		return "[WARN]"
	case "ERROR":
		return "[ERR]"
	default:
		return "[?]"
	}
}

// boolToStatus converts a boolean to a status string.
func boolToStatus(b bool) string {
	if b {
		return "OK"
	}
	return "FAILED"
}

// allowed converts a boolean to allowed/forbidden.
func allowed(b bool) string {
	if b {
		return "allowed"
	}
	return "forbidden"
}
