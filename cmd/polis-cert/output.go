package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	gwtls "github.com/polisai/polis-gateway/internal/tls"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type bundleJSON struct {
	Dir               string                                    `json:"dir"`
	State             string                                    `json:"state"`
	Present           map[string]bool                           `json:"present"`
	Certificates      map[string]*gwtls.DetailedCertificateInfo `json:"certificates"`
	ChainValid        bool                                      `json:"chain_valid"`
	ChainError        string                                    `json:"chain_error,omitempty"`
	CAFingerprint     string                                    `json:"ca_fingerprint,omitempty"`
	ServerFingerprint string                                    `json:"server_fingerprint,omitempty"`
}

func newBundleJSON(report *gwtls.BundleReport) bundleJSON {
	out := bundleJSON{
		Dir:               report.Dir,
		State:             report.State.String(),
		Present:           make(map[string]bool),
		Certificates:      make(map[string]*gwtls.DetailedCertificateInfo),
		ChainValid:        report.ChainValid,
		ChainError:        report.ChainError,
		CAFingerprint:     report.CAFingerprint,
		ServerFingerprint: report.ServerFingerprint,
	}
	for _, f := range gwtls.Artifacts() {
		out.Present[f.Name()] = report.Present.Has(f)
		if info, ok := report.Certificates[f]; ok {
			out.Certificates[f.Name()] = info
		}
	}
	return out
}

func printBundleText(w io.Writer, report *gwtls.BundleReport) {
	fmt.Fprintf(w, "Artifact directory: %s\n", report.Dir)
	fmt.Fprintf(w, "  State: %s\n", report.State)
	for _, f := range gwtls.Artifacts() {
		mark := "✅"
		if !report.Present.Has(f) {
			mark = "❌"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, f.Name())
	}
	if report.ChainValid {
		fmt.Fprintf(w, "  Chain: ✅ valid\n")
		fmt.Fprintf(w, "  CA fingerprint: %s\n", report.CAFingerprint)
		fmt.Fprintf(w, "  Server fingerprint: %s\n", report.ServerFingerprint)
	} else {
		fmt.Fprintf(w, "  Chain: ❌ %s\n", report.ChainError)
	}

	for _, f := range gwtls.Artifacts() {
		if info, ok := report.Certificates[f]; ok {
			fmt.Fprintln(w)
			printCertificateText(w, info)
		}
	}
}

func printCertificateText(w io.Writer, info *gwtls.DetailedCertificateInfo) {
	fmt.Fprintf(w, "Certificate Information:\n")
	fmt.Fprintf(w, "  File: %s\n", info.CertFile)
	fmt.Fprintf(w, "  Subject: %s\n", info.Subject)
	fmt.Fprintf(w, "  Issuer: %s\n", info.Issuer)
	fmt.Fprintf(w, "  Serial: %s\n", info.SerialNumber)
	fmt.Fprintf(w, "  Key: %s (%d bits)\n", info.PublicKeyAlgorithm, info.KeySize)
	fmt.Fprintf(w, "  Valid From: %s\n", info.NotBefore.Format(time.RFC3339))
	fmt.Fprintf(w, "  Valid Until: %s\n", info.NotAfter.Format(time.RFC3339))
	fmt.Fprintf(w, "  Fingerprint: %s\n", info.Fingerprint)

	status := info.ValidationStatus
	switch {
	case status.Expired:
		fmt.Fprintf(w, "  Status: ❌ EXPIRED\n")
	case status.NotYetValid:
		fmt.Fprintf(w, "  Status: ⏳ NOT YET VALID\n")
	default:
		fmt.Fprintf(w, "  Status: ✅ VALID (expires in %d days)\n", status.ExpiresInDays)
	}
	if info.IsCA {
		fmt.Fprintf(w, "  CA: yes\n")
	}
	if len(info.DNSNames) > 0 {
		fmt.Fprintf(w, "  DNS Names: %s\n", strings.Join(info.DNSNames, ", "))
	}
	if len(info.IPAddresses) > 0 {
		ips := make([]string, len(info.IPAddresses))
		for i, ip := range info.IPAddresses {
			ips[i] = ip.String()
		}
		fmt.Fprintf(w, "  IP Addresses: %s\n", strings.Join(ips, ", "))
	}
	if len(info.ExtKeyUsage) > 0 {
		fmt.Fprintf(w, "  Extended Key Usage: %s\n", strings.Join(info.ExtKeyUsage, ", "))
	}
	for _, warning := range status.Warnings {
		fmt.Fprintf(w, "  ⚠️  %s\n", warning)
	}
}
