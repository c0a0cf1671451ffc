// Package curl converts curl command lines into request descriptors.
package curl

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/core/descriptor"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// Converter converts curl commands to descriptors.
type Converter struct {
	generateAssertions bool
}

// Option is a functional option for Converter.
type Option func(*Converter)

// WithAssertions configures whether to generate status expectations.
func WithAssertions(generate bool) Option {
	return func(c *Converter) {
		c.generateAssertions = generate
	}
}

// NewConverter creates a new curl converter.
func NewConverter(opts ...Option) *Converter {
	c := &Converter{
		generateAssertions: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParsedCurl represents a parsed curl command.
type ParsedCurl struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            string
	Form            map[string]string
	User            string
	NTLM            bool
	Insecure        bool
	FollowRedirects bool
	MaxTime         float64
	Cert            string
	Key             string
	CertType        string
	Passphrase      string
	Proxy           string
	Name            string
}

// Result is the outcome of converting a list of commands.
type Result struct {
	Requests []*descriptor.Descriptor
	// Warnings name the curl options that have no per request equivalent.
	Warnings []string
}

// YAML renders the descriptors as a descriptor file.
func (r *Result) YAML() ([]byte, error) {
	doc := struct {
		Requests []*descriptor.Descriptor `yaml:"requests"`
	}{r.Requests}
	return yaml.Marshal(doc)
}

// Convert reads curl commands from r, one per line. Lines ending with a
// backslash continue on the next line; blank lines and # comments are
// skipped.
func (c *Converter) Convert(r io.Reader) (*Result, error) {
	var commands []string
	var currentCmd strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "\\") {
			currentCmd.WriteString(strings.TrimSuffix(line, "\\"))
			currentCmd.WriteString(" ")
			continue
		}
		currentCmd.WriteString(line)
		commands = append(commands, currentCmd.String())
		currentCmd.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read commands: %w", err)
	}
	if currentCmd.Len() > 0 {
		commands = append(commands, currentCmd.String())
	}
	if len(commands) == 0 {
		return nil, fmt.Errorf("no curl command found")
	}

	result := &Result{}
	names := make(map[string]int)
	for i, cmd := range commands {
		parsed, err := c.Parse(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to convert command %d: %w", i+1, err)
		}
		d := c.ToDescriptor(parsed)
		if n := names[d.Name]; n > 0 {
			d.Name = fmt.Sprintf("%s_%d", d.Name, n+1)
		}
		names[parsed.Name]++
		result.Requests = append(result.Requests, d)

		if parsed.Insecure {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: --insecure has no descriptor field, pass --insecure to hitwire", d.Name))
		}
		if parsed.Proxy != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: proxy %s has no descriptor field, pass --proxy to hitwire", d.Name, parsed.Proxy))
		}
	}
	return result, nil
}

// Parse parses a curl command string into a ParsedCurl struct.
func (c *Converter) Parse(curlCmd string) (*ParsedCurl, error) {
	parsed := &ParsedCurl{
		Headers: make(map[string]string),
	}

	curlCmd = strings.TrimSpace(curlCmd)
	if curlCmd == "curl" {
		return nil, fmt.Errorf("no URL specified")
	}
	curlCmd = strings.TrimPrefix(curlCmd, "curl ")

	tokens := tokenize(curlCmd)
	explicitMethod := false

	value := func(i int) (string, error) {
		if i+1 < len(tokens) {
			return tokens[i+1], nil
		}
		return "", fmt.Errorf("missing value for %s", tokens[i])
	}

	for i := 0; i < len(tokens); i++ {
		token := tokens[i]

		switch token {
		case "-I", "--head":
			parsed.Method, explicitMethod = "HEAD", true
			continue
		case "-k", "--insecure":
			parsed.Insecure = true
			continue
		case "-L", "--location":
			parsed.FollowRedirects = true
			continue
		case "--ntlm":
			parsed.NTLM = true
			continue
		case "-s", "--silent", "-S", "--show-error", "-v", "--verbose", "-i", "--include", "--compressed", "-f", "--fail":
			continue
		}

		if !strings.HasPrefix(token, "-") {
			if parsed.URL == "" && isURL(token) {
				parsed.URL = token
			}
			continue
		}
		if token == "--url" {
			v, err := value(i)
			if err != nil {
				return nil, err
			}
			parsed.URL = v
			i++
			continue
		}

		v, err := value(i)
		if err != nil {
			if isKnownWithValue(token) {
				return nil, err
			}
			continue
		}
		switch token {
		case "-X", "--request":
			parsed.Method, explicitMethod = strings.ToUpper(v), true
		case "-H", "--header":
			if key, val, ok := strings.Cut(v, ":"); ok {
				parsed.Headers[strings.TrimSpace(key)] = strings.TrimSpace(val)
			}
		case "-d", "--data", "--data-raw", "--data-binary", "--data-ascii":
			if parsed.Body != "" {
				parsed.Body += "&" + v
			} else {
				parsed.Body = v
			}
		case "--json":
			parsed.Body = v
			parsed.Headers["Content-Type"] = "application/json"
			parsed.Headers["Accept"] = "application/json"
		case "-F", "--form":
			if key, val, ok := strings.Cut(v, "="); ok {
				if parsed.Form == nil {
					parsed.Form = make(map[string]string)
				}
				parsed.Form[key] = val
			}
		case "-u", "--user":
			parsed.User = v
		case "-A", "--user-agent":
			parsed.Headers["User-Agent"] = v
		case "-e", "--referer":
			parsed.Headers["Referer"] = v
		case "-b", "--cookie":
			parsed.Headers["Cookie"] = v
		case "-m", "--max-time":
			seconds, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s value %q", token, v)
			}
			parsed.MaxTime = seconds
		case "-E", "--cert":
			// curl reads cert:passphrase
			if cert, pass, ok := strings.Cut(v, ":"); ok && !looksLikeWindowsPath(v) {
				parsed.Cert, parsed.Passphrase = cert, pass
			} else {
				parsed.Cert = v
			}
		case "--key":
			parsed.Key = v
		case "--cert-type":
			parsed.CertType = strings.ToLower(v)
		case "--pass":
			parsed.Passphrase = v
		case "-x", "--proxy":
			parsed.Proxy = v
		default:
			// unknown flag, skip its value when it has one
			if strings.HasPrefix(v, "-") || isURL(v) {
				continue
			}
		}
		i++
	}

	if parsed.URL == "" {
		return nil, fmt.Errorf("no URL found in curl command")
	}
	if !explicitMethod {
		parsed.Method = "GET"
		if parsed.Body != "" || len(parsed.Form) > 0 {
			parsed.Method = "POST"
		}
	}
	parsed.Name = sanitizeName(generateName(parsed.URL, parsed.Method))

	return parsed, nil
}

func isKnownWithValue(flag string) bool {
	switch flag {
	case "-X", "--request", "-H", "--header", "-d", "--data", "--data-raw", "--data-binary", "--data-ascii",
		"--json", "-F", "--form", "-u", "--user", "-A", "--user-agent", "-e", "--referer", "-b", "--cookie",
		"-m", "--max-time", "-E", "--cert", "--key", "--cert-type", "--pass", "-x", "--proxy":
		return true
	}
	return false
}

// ToDescriptor converts a ParsedCurl to a request descriptor.
func (c *Converter) ToDescriptor(parsed *ParsedCurl) *descriptor.Descriptor {
	d := &descriptor.Descriptor{
		Name:   parsed.Name,
		Method: parsed.Method,
		URL:    parsed.URL,
		Body:   parsed.Body,
		Form:   parsed.Form,
	}

	headers := make(map[string]any, len(parsed.Headers))
	for key, value := range parsed.Headers {
		headers[key] = value
	}

	if parsed.User != "" {
		user, password, _ := strings.Cut(parsed.User, ":")
		if parsed.NTLM {
			auth := &transport.LegacyAuth{Method: transport.AuthMethodNTLM, Username: user, Password: password}
			if domain, name, ok := strings.Cut(user, `\`); ok {
				auth.Domain, auth.Username = domain, name
			}
			d.Auth = auth
		} else {
			headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(parsed.User))
		}
	}
	if len(headers) > 0 {
		d.Headers = headers
	}

	cfg := &transport.RequestConfig{FollowRedirects: &parsed.FollowRedirects}
	if parsed.MaxTime > 0 {
		ms := int(parsed.MaxTime * 1000)
		cfg.Timeout = &ms
	}
	d.Config = cfg

	if parsed.Cert != "" {
		certType := parsed.CertType
		switch {
		case certType == "p12", certType == "pfx":
			certType = config.CertificateTypeP12
		case certType == "":
			certType = config.CertificateTypePEM
			if lower := strings.ToLower(parsed.Cert); strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
				certType = config.CertificateTypeP12
			}
		}
		cert := &config.ClientCertificate{
			Type: certType,
			Cert: []config.Certificate{{File: parsed.Cert, Passphrase: parsed.Passphrase}},
		}
		if parsed.Key != "" {
			cert.Key = []config.Certificate{{File: parsed.Key, Passphrase: parsed.Passphrase}}
		}
		d.ClientCertificate = cert
	}

	if c.generateAssertions {
		d.Expect = []string{"status >= 200", "status < 400"}
	}

	return d
}

// tokenize splits a curl command into tokens, respecting quotes.
func tokenize(cmd string) []string {
	var tokens []string
	var current strings.Builder
	inSingleQuote := false
	inDoubleQuote := false
	escaped := false

	for _, r := range cmd {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		switch r {
		case '\\':
			if inSingleQuote {
				current.WriteRune(r)
			} else {
				escaped = true
			}
		case '\'':
			if !inDoubleQuote {
				inSingleQuote = !inSingleQuote
			} else {
				current.WriteRune(r)
			}
		case '"':
			if !inSingleQuote {
				inDoubleQuote = !inDoubleQuote
			} else {
				current.WriteRune(r)
			}
		case ' ', '\t':
			if inSingleQuote || inDoubleQuote {
				current.WriteRune(r)
			} else if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// isURL checks if a string looks like a URL.
func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "{{")
}

func looksLikeWindowsPath(s string) bool {
	return len(s) > 2 && s[1] == ':' && (s[2] == '\\' || s[2] == '/')
}

var urlPattern = regexp.MustCompile(`https?://[^/]+(/[^?#]*)?`)

// generateName generates a request name from the URL and method.
func generateName(url, method string) string {
	matches := urlPattern.FindStringSubmatch(url)

	path := "/"
	if len(matches) > 1 && matches[1] != "" {
		path = matches[1]
	}

	path = strings.Trim(path, "/")
	if path == "" {
		path = "root"
	}
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.ReplaceAll(path, "-", "_")

	return strings.ToLower(method) + "_" + path
}

var nonIdentifier = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// sanitizeName sanitizes a name for use as an identifier.
func sanitizeName(name string) string {
	result := nonIdentifier.ReplaceAllString(name, "_")
	return strings.Trim(result, "_")
}
