package denylist

import (
	"bufio"
	"io"
	"strings"
)

// Parser extracts host entries from a denylist format.
type Parser interface {
	Parse(r io.Reader) ([]string, error)
}

// HostfileParser parses hosts-file format: "127.0.0.1 domain" or "0.0.0.0 domain".
type HostfileParser struct{}

// Parse returns the lowercased host fields of each mapping line in first-seen
// order. Blank lines, '#' comments and loopback names are skipped, and
// duplicate hosts collapse to one entry.
func (p *HostfileParser) Parse(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var hosts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, f := range fields[1:] {
			host := strings.ToLower(f)
			if host == "localhost" || host == "localhost.localdomain" ||
				host == "broadcasthost" || host == "local" {
				continue
			}
			if _, ok := seen[host]; ok {
				continue
			}
			seen[host] = struct{}{}
			hosts = append(hosts, host)
		}
	}
	return hosts, scanner.Err()
}

// DomainListParser parses one-host-per-line format, the layout of the
// bundled cookie host asset.
type DomainListParser struct{}

// Parse returns each trimmed, lowercased line in first-seen order. Unlike a
// raw line reader it drops blank lines and lines starting with '#', and
// repeated hosts collapse to one entry.
func (p *DomainListParser) Parse(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var hosts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		host := strings.ToLower(line)
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	return hosts, scanner.Err()
}

// ParserForFormat returns the appropriate parser for a format string.
func ParserForFormat(format string) Parser {
	switch strings.ToLower(format) {
	case "hostfile":
		return &HostfileParser{}
	default:
		return &DomainListParser{}
	}
}
