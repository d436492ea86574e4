// Package result scans a device log for search outcome markers.
//
// Parsing is tolerant by contract: malformed lines are ignored and read failures
// yield a zero Result, so callers never need to handle a parse error. An over-long
// line is scanned in pieces rather than treated as a failure.
package result

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const maxLineBytes = 1024 * 1024

var foundCountPattern = regexp.MustCompile(`found:\s*(\d+)`)

// Line markers, matched against the lower-cased line content.
const (
	markerFound   = "found:"
	markerPrivHex = "priv (hex):"
	markerPrivWIF = "priv (wif):"
	markerAddress = "address:"
)

// Result is the structured outcome of one batch.
type Result struct {
	Found            bool   `json:"found"`
	FoundCount       int    `json:"found_count"`
	Address          string `json:"address,omitempty"`
	PrivateKeyHex    string `json:"private_key_hex,omitempty"`
	PrivateKeyWIF    string `json:"private_key_wif,omitempty"`
	IsSpecialAddress bool   `json:"is_special_address"`
}

// Key returns the key material to persist: the WIF when present, else the hex key.
func (r Result) Key() string {
	if r.PrivateKeyWIF != "" {
		return r.PrivateKeyWIF
	}
	return r.PrivateKeyHex
}

// Parser holds the redacted target used to flag special addresses.
type Parser struct {
	redactedTarget string
}

// NewParser returns a Parser. An empty redactedTarget never matches.
func NewParser(redactedTarget string) Parser {
	return Parser{redactedTarget: strings.TrimSpace(redactedTarget)}
}

// IsRedacted reports whether addr is the configured redacted target.
func (p Parser) IsRedacted(addr string) bool {
	return p.redactedTarget != "" && strings.TrimSpace(addr) == p.redactedTarget
}

// ParseBytes scans a full log held in memory.
func (p Parser) ParseBytes(data []byte, target string) Result {
	return p.Parse(bytes.NewReader(data), target)
}

// Parse scans every line from r. target is the address the batch searched for.
func (p Parser) Parse(r io.Reader, target string) Result {
	res := Result{}
	if r == nil {
		res.IsSpecialAddress = p.IsRedacted(target)
		return res
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanLogLines)
	for scanner.Scan() {
		p.scanLine(&res, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		res = Result{}
	}

	if p.IsRedacted(target) {
		res.IsSpecialAddress = true
	}
	return res
}

// scanLogLines is bufio.ScanLines that cuts a line filling the whole buffer instead of failing.
func scanLogLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= maxLineBytes {
		return maxLineBytes, data[:maxLineBytes], nil
	}
	return advance, token, err
}

func (p Parser) scanLine(res *Result, raw string) {
	content := StripTimestamp(raw)
	lower := strings.ToLower(content)

	if strings.Contains(lower, markerFound) {
		if m := foundCountPattern.FindStringSubmatch(lower); m != nil {
			if count, err := strconv.Atoi(m[1]); err == nil && count > 0 {
				res.Found = true
				res.FoundCount = count
			}
		}
	}
	if strings.Contains(lower, markerPrivHex) {
		res.Found = true
		res.PrivateKeyHex = lastField(content)
	}
	if strings.Contains(lower, markerPrivWIF) {
		res.Found = true
		res.PrivateKeyWIF = lastField(content)
	}
	if strings.Contains(lower, markerAddress) {
		addr := lastField(content)
		res.Address = addr
		if p.IsRedacted(addr) {
			res.IsSpecialAddress = true
		}
	}
}

// StripTimestamp removes a leading "[...]" log prefix when present.
func StripTimestamp(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	if _, after, ok := strings.Cut(trimmed, "]"); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(line)
}

func lastField(content string) string {
	idx := strings.LastIndex(content, ":")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(content[idx+1:])
}

// IsKeyMaterial reports whether a log line carries a private key.
func IsKeyMaterial(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, markerPrivWIF) || strings.Contains(lower, markerPrivHex)
}
