// Package descriptor loads request descriptor files. A descriptor is a YAML
// or JSON document holding one request, or a list of requests under
// "requests", plus optional variables shared by all of them.
package descriptor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/hitwire/packages/assertions"
	"github.com/abdul-hamid-achik/hitwire/packages/capture"
	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/core/vars"
	"github.com/abdul-hamid-achik/hitwire/packages/headers"
	"github.com/abdul-hamid-achik/hitwire/packages/payload"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// Descriptor describes one request.
type Descriptor struct {
	Name              string                    `json:"name,omitempty" yaml:"name,omitempty"`
	Method            string                    `json:"method,omitempty" yaml:"method,omitempty"`
	URL               string                    `json:"url" yaml:"url"`
	Headers           any                       `json:"headers,omitempty" yaml:"headers,omitempty"` // block or map
	Body              string                    `json:"body,omitempty" yaml:"body,omitempty"`
	JSON              any                       `json:"json,omitempty" yaml:"json,omitempty"`
	Form              map[string]string         `json:"form,omitempty" yaml:"form,omitempty"` // "@path" values are files
	Auth              *transport.LegacyAuth     `json:"auth,omitempty" yaml:"auth,omitempty"`
	Authorization     []transport.Authorization `json:"authorization,omitempty" yaml:"authorization,omitempty"`
	ClientCertificate *config.ClientCertificate `json:"clientCertificate,omitempty" yaml:"clientCertificate,omitempty"`
	Config            *transport.RequestConfig  `json:"config,omitempty" yaml:"config,omitempty"`
	Select            []string                  `json:"select,omitempty" yaml:"select,omitempty"`
	Schema            string                    `json:"schema,omitempty" yaml:"schema,omitempty"`
	Expect            []string                  `json:"expect,omitempty" yaml:"expect,omitempty"`
}

// File is a loaded descriptor file.
type File struct {
	Path      string
	Variables map[string]any
	Requests  []*Descriptor
}

type document struct {
	Variables  map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Requests   []*Descriptor  `json:"requests,omitempty" yaml:"requests,omitempty"`
	Descriptor `yaml:",inline"`
}

// Load reads the descriptor file at path. .json files are decoded as JSON,
// everything else as YAML.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	f, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse decodes a descriptor document.
func Parse(data []byte, isJSON bool) (*File, error) {
	var doc document
	var err error
	if isJSON {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, err
	}

	f := &File{Variables: doc.Variables, Requests: doc.Requests}
	if doc.URL != "" {
		single := doc.Descriptor
		f.Requests = append([]*Descriptor{&single}, f.Requests...)
	}
	if len(f.Requests) == 0 {
		return nil, fmt.Errorf("no request found")
	}
	for i, d := range f.Requests {
		if strings.TrimSpace(d.URL) == "" {
			return nil, fmt.Errorf("request %d has no url", i+1)
		}
		if d.Name == "" {
			d.Name = fmt.Sprintf("request%d", i+1)
		}
		if _, err := assertions.ParseAll(d.Expect); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	return f, nil
}

// Dir is the directory relative paths of f are resolved against.
func (f *File) Dir() string {
	if f.Path == "" {
		return "."
	}
	return filepath.Dir(f.Path)
}

// Captures parses the select expressions of d.
func (d *Descriptor) Captures() []capture.Capture {
	captures := make([]capture.Capture, 0, len(d.Select))
	for _, expr := range d.Select {
		captures = append(captures, capture.Parse(expr))
	}
	return captures
}

// Assertions resolves the templates of the expect expressions and parses
// them.
func (d *Descriptor) Assertions(r *vars.Resolver) ([]*assertions.Assertion, error) {
	if r == nil {
		r = vars.NewResolver()
	}
	exprs := make([]string, len(d.Expect))
	for i, expr := range d.Expect {
		exprs[i] = r.Resolve(expr)
	}
	list, err := assertions.ParseAll(exprs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	return list, nil
}

// SchemaPath returns the schema file resolved against baseDir, or "".
func (d *Descriptor) SchemaPath(baseDir string) string {
	if d.Schema == "" || filepath.IsAbs(d.Schema) {
		return d.Schema
	}
	return filepath.Join(baseDir, d.Schema)
}

// Build resolves the templates of d and returns the transport request.
// Relative form files and certificate files are resolved against baseDir.
func (d *Descriptor) Build(r *vars.Resolver, baseDir string) (*transport.Request, error) {
	if r == nil {
		r = vars.NewResolver()
	}
	req := &transport.Request{
		Method: strings.ToUpper(r.Resolve(d.Method)),
		URL:    r.Resolve(d.URL),
		Config: d.Config,
	}

	h, err := d.headers(r)
	if err != nil {
		return nil, err
	}

	set := 0
	for _, present := range []bool{d.Body != "", d.JSON != nil, len(d.Form) > 0} {
		if present {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("%s: only one of body, json and form may be set", d.Name)
	}

	switch {
	case d.Body != "":
		req.Payload = r.Resolve(d.Body)
	case d.JSON != nil:
		body, err := json.Marshal(normalize(r.ResolveValue(d.JSON)))
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode json body: %w", d.Name, err)
		}
		if !h.Has("content-type") {
			h.Set("Content-Type", "application/json")
		}
		req.Payload = string(body)
	case len(d.Form) > 0:
		req.Payload = d.form(r, baseDir)
	}
	req.Headers = h.String()

	if d.Auth != nil {
		auth := *d.Auth
		auth.Username = r.Resolve(auth.Username)
		auth.Password = r.Resolve(auth.Password)
		auth.Domain = r.Resolve(auth.Domain)
		req.Auth = &auth
	}
	for _, a := range d.Authorization {
		a.Config.Username = r.Resolve(a.Config.Username)
		a.Config.Password = r.Resolve(a.Config.Password)
		a.Config.Domain = r.Resolve(a.Config.Domain)
		req.Authorization = append(req.Authorization, a)
	}

	if d.ClientCertificate != nil {
		cert := *d.ClientCertificate
		cert.Cert = resolveCertificates(r, cert.Cert)
		cert.Key = resolveCertificates(r, cert.Key)
		if err := cert.Resolve(baseDir); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		req.ClientCertificate = &cert
	}

	return req, nil
}

func resolveCertificates(r *vars.Resolver, items []config.Certificate) []config.Certificate {
	out := make([]config.Certificate, len(items))
	for i, item := range items {
		item.File = r.Resolve(item.File)
		item.Passphrase = r.Resolve(item.Passphrase)
		out[i] = item
	}
	return out
}

func (d *Descriptor) headers(r *vars.Resolver) (*headers.Headers, error) {
	switch v := d.Headers.(type) {
	case nil:
		return headers.New(nil), nil
	case string:
		return headers.Parse(r.Resolve(v)), nil
	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		pairs := make([][2]string, 0, len(names))
		for _, name := range names {
			pairs = append(pairs, [2]string{r.Resolve(name), r.Resolve(fmt.Sprint(v[name]))})
		}
		return headers.New(pairs), nil
	}
	return nil, fmt.Errorf("%s: headers must be a block or a map, got %T", d.Name, d.Headers)
}

func (d *Descriptor) form(r *vars.Resolver, baseDir string) *payload.Form {
	names := make([]string, 0, len(d.Form))
	for name := range d.Form {
		names = append(names, name)
	}
	sort.Strings(names)

	form := payload.NewForm(baseDir)
	for _, name := range names {
		value := r.Resolve(d.Form[name])
		if path, ok := strings.CutPrefix(value, "@"); ok && path != "" {
			form.AddFile(name, path)
			continue
		}
		form.Add(name, value)
	}
	return form
}

// normalize turns the map[any]any values some YAML documents decode to into
// maps encoding/json accepts.
func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}
