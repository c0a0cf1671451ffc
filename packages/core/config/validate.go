package config

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/hosts"
	"github.com/rs/zerolog"
)

// validOptions maps every accepted option key to its expected kind.
var validOptions = map[string]string{
	"validateCertificates": "boolean",
	"followRedirects":      "boolean",
	"timeout":              "number",
	"logger":               "object",
	"hosts":                "array",
	"sentMessageLimit":     "number",
	"defaultHeaders":       "boolean",
	"defaultUserAgent":     "string",
	"defaultAccept":        "string",
	"clientCertificate":    "object",
	"nativeTransport":      "boolean",
	"proxy":                "string",
	"proxyUsername":        "string",
	"proxyPassword":        "string",
	"identityChecker":      "function",
}

// NewOptions builds options from a loosely typed map, as decoded from JSON or
// YAML or assembled by a caller. Unknown keys and values of the wrong kind are
// dropped and reported in Warnings. Missing values get their defaults.
func NewOptions(raw map[string]any) *Options {
	opts := DefaultOptions()
	values := opts.validateOptionsList(raw)

	for key, value := range values {
		switch key {
		case "validateCertificates":
			opts.ValidateCertificates = boolPtr(value.(bool))
		case "followRedirects":
			opts.FollowRedirects = boolPtr(value.(bool))
		case "defaultHeaders":
			opts.DefaultHeaders = boolPtr(value.(bool))
		case "nativeTransport":
			opts.NativeTransport = boolPtr(value.(bool))
		case "timeout":
			opts.Timeout = toInt(value)
		case "defaultUserAgent":
			opts.DefaultUserAgent = value.(string)
		case "defaultAccept":
			opts.DefaultAccept = value.(string)
		case "proxy":
			opts.Proxy = value.(string)
		case "proxyUsername":
			opts.ProxyUsername = value.(string)
		case "proxyPassword":
			opts.ProxyPassword = value.(string)
		case "hosts":
			opts.Hosts = toRules(value)
		}
	}

	opts.validateLogger(values)
	opts.validateIdentityChecker(values)
	opts.validateMessageLimit(values)
	opts.validateCertificate(values)

	return opts
}

func (o *Options) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

func (o *Options) validateOptionsList(raw map[string]any) map[string]any {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := make(map[string]any, len(raw))
	var unknown []string
	var mismatches []string
	for _, key := range keys {
		expected, ok := validOptions[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		value := raw[key]
		actual := kindOf(value)
		if actual == "undefined" {
			continue
		}
		if actual != expected {
			mismatches = append(mismatches, fmt.Sprintf("Property %s expected to be %s but found %s.", key, expected, actual))
			continue
		}
		values[key] = value
	}

	if len(unknown) > 0 {
		message := "Unknown option"
		if len(unknown) > 1 {
			message += "s"
		}
		o.warn("%s: %s", message, strings.Join(unknown, ", "))
	}
	o.Warnings = append(o.Warnings, mismatches...)
	return values
}

func (o *Options) validateLogger(values map[string]any) {
	value, ok := values["logger"]
	if !ok {
		return
	}
	switch l := value.(type) {
	case *zerolog.Logger:
		if l != nil {
			o.Logger = l
			return
		}
	case zerolog.Logger:
		o.Logger = &l
		return
	}
	o.warn("Invalid logger passed as an option. Will use own logger.")
}

func (o *Options) validateIdentityChecker(values map[string]any) {
	value, ok := values["identityChecker"]
	if !ok {
		return
	}
	switch fn := value.(type) {
	case IdentityChecker:
		o.IdentityChecker = fn
	case func(string, *x509.Certificate) error:
		o.IdentityChecker = fn
	default:
		o.warn("Invalid identity checker passed as an option. It will be ignored.")
	}
}

func (o *Options) validateMessageLimit(values map[string]any) {
	value, ok := values["sentMessageLimit"]
	if !ok {
		return
	}
	limit := toInt(value)
	if limit < 0 {
		o.warn(`"sentMessageLimit" cannot be negative number.`)
		limit = DefaultSentMessageLimit
	}
	o.SentMessageLimit = IntPtr(limit)
}

func (o *Options) validateCertificate(values map[string]any) {
	value, ok := values["clientCertificate"]
	if !ok {
		return
	}
	cert := toClientCertificate(value)
	if cert == nil {
		o.warn("The certificate has no type. It will be ignored.")
		return
	}
	if err := cert.Validate(); err != nil {
		o.Warnings = append(o.Warnings, err.Error())
		return
	}
	o.ClientCertificate = cert
}

// kindOf names the kind of a value the way option warnings report it.
func kindOf(v any) string {
	if v == nil {
		return "undefined"
	}
	switch v.(type) {
	case json.Number:
		return "number"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Func:
		return "function"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Ptr:
		if rv.IsNil() {
			return "undefined"
		}
		return "object"
	default:
		return "object"
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		f, _ := n.Float64()
		return int(math.Round(f))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return int(math.Round(rv.Float()))
	}
	return 0
}

func toRules(v any) []hosts.Rule {
	if rules, ok := v.([]hosts.Rule); ok {
		return rules
	}
	rv := reflect.ValueOf(v)
	rules := make([]hosts.Rule, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		switch item := rv.Index(i).Interface().(type) {
		case hosts.Rule:
			rules = append(rules, item)
		case map[string]any:
			from, _ := item["from"].(string)
			to, _ := item["to"].(string)
			rules = append(rules, hosts.Rule{From: from, To: to})
		case map[string]string:
			rules = append(rules, hosts.Rule{From: item["from"], To: item["to"]})
		}
	}
	return rules
}

func toClientCertificate(v any) *ClientCertificate {
	switch c := v.(type) {
	case *ClientCertificate:
		return c
	case ClientCertificate:
		return &c
	case map[string]any:
		cert := &ClientCertificate{}
		cert.Type, _ = c["type"].(string)
		cert.Cert = toCertificates(c["cert"])
		cert.Key = toCertificates(c["key"])
		return cert
	}
	return nil
}

// toCertificates accepts a single item or a list of items. An item is either
// the raw data or a map with data, file and passphrase.
func toCertificates(v any) []Certificate {
	switch c := v.(type) {
	case nil:
		return nil
	case []Certificate:
		return c
	case Certificate:
		return []Certificate{c}
	case []any:
		var out []Certificate
		for _, item := range c {
			out = append(out, toCertificates(item)...)
		}
		return out
	case string:
		return []Certificate{{Data: []byte(c)}}
	case []byte:
		return []Certificate{{Data: c}}
	case map[string]any:
		item := Certificate{}
		switch data := c["data"].(type) {
		case string:
			item.Data = []byte(data)
		case []byte:
			item.Data = data
		}
		item.File, _ = c["file"].(string)
		item.Passphrase, _ = c["passphrase"].(string)
		return []Certificate{item}
	}
	return nil
}
