package verify

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
)

// Credential-looking assignment keywords checked on added lines.
var secretKeywords = []string{
	"password",
	"passwd",
	"api_key",
	"apikey",
	"secret",
	"token",
	"private_key",
	"access_key",
}

// Filename patterns that commonly hold credentials or key material.
var secretFilePatterns = []string{
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*.crt",
	"id_rsa*",
	"id_ed25519*",
	".env",
	".env.*",
	"credentials*",
	"*.keystore",
}

// tokenPattern matches candidate high-entropy strings: long runs of
// base64-ish characters.
var tokenPattern = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)

// entropyThreshold is the Shannon entropy (bits per character) above which
// a candidate token is treated as a secret.
const entropyThreshold = 4.2

// SecretFinding describes one suspected secret in the change set.
type SecretFinding struct {
	File   string
	Reason string
}

func (f SecretFinding) String() string {
	return fmt.Sprintf("%s: %s", f.File, f.Reason)
}

// ScanSecretFiles flags changed paths matching credential filename
// patterns or key/cert extensions.
func ScanSecretFiles(files []string) []SecretFinding {
	var findings []SecretFinding
	for _, f := range files {
		base := filepath.Base(f)
		for _, pattern := range secretFilePatterns {
			if ok, _ := filepath.Match(pattern, base); ok {
				findings = append(findings, SecretFinding{
					File:   f,
					Reason: fmt.Sprintf("filename matches credential pattern %q", pattern),
				})
				break
			}
		}
	}
	return findings
}

// ScanAddedLines flags credential-keyword assignments and high-entropy
// tokens on added lines.
func ScanAddedLines(lines []AddedLine) []SecretFinding {
	var findings []SecretFinding
	for _, line := range lines {
		lower := strings.ToLower(line.Text)

		keywordHit := false
		for _, kw := range secretKeywords {
			if strings.Contains(lower, kw) && strings.ContainsAny(line.Text, "=:") {
				findings = append(findings, SecretFinding{
					File:   line.File,
					Reason: fmt.Sprintf("possible credential assignment (%s)", kw),
				})
				keywordHit = true
				break
			}
		}
		if keywordHit {
			continue
		}

		for _, token := range tokenPattern.FindAllString(line.Text, -1) {
			if shannonEntropy(token) >= entropyThreshold {
				findings = append(findings, SecretFinding{
					File:   line.File,
					Reason: fmt.Sprintf("high-entropy token (%d chars)", len(token)),
				})
				break
			}
		}
	}
	return findings
}

// shannonEntropy returns bits per character for the string.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	entropy := 0.0
	n := float64(len(s))
	for _, count := range freq {
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
