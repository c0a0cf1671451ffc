package payload

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// FormField is one part of a multipart form. A field with a Path is read from
// disk, a field with Data is an inline file, anything else is a text value.
type FormField struct {
	Name        string `json:"name" yaml:"name"`
	Value       string `json:"value,omitempty" yaml:"value,omitempty"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	Data        []byte `json:"-" yaml:"-"`
	Filename    string `json:"filename,omitempty" yaml:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
}

// IsFile reports whether the field is serialized as a file part.
func (f *FormField) IsFile() bool {
	return f.Path != "" || f.Data != nil
}

// Form is a multipart/form-data payload.
type Form struct {
	Fields []*FormField
	// BaseDir resolves relative file paths. Files outside of it are rejected.
	BaseDir string
	// Boundary overrides the random boundary, mostly for tests.
	Boundary string
}

func NewForm(baseDir string) *Form {
	return &Form{BaseDir: baseDir}
}

// Add appends a text field.
func (f *Form) Add(name, value string) *Form {
	f.Fields = append(f.Fields, &FormField{Name: name, Value: value})
	return f
}

// AddFile appends a file read from disk when the form is encoded.
func (f *Form) AddFile(name, path string) *Form {
	f.Fields = append(f.Fields, &FormField{Name: name, Path: path})
	return f
}

// AddBlob appends an inline file part.
func (f *Form) AddBlob(name, filename, contentType string, data []byte) *Form {
	if data == nil {
		data = []byte{}
	}
	f.Fields = append(f.Fields, &FormField{Name: name, Filename: filename, ContentType: contentType, Data: data})
	return f
}

// Encode serializes the form and returns the body with its content type.
func (f *Form) Encode() ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if f.Boundary != "" {
		if err := writer.SetBoundary(f.Boundary); err != nil {
			return nil, "", fmt.Errorf("invalid multipart boundary: %w", err)
		}
	}

	for _, field := range f.Fields {
		var err error
		switch {
		case field.Path != "":
			err = f.writeFile(writer, field)
		case field.Data != nil:
			err = writeBlob(writer, field, field.Filename, bytes.NewReader(field.Data))
		default:
			err = writer.WriteField(field.Name, field.Value)
		}
		if err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

func (f *Form) writeFile(writer *multipart.Writer, field *FormField) error {
	filePath := field.Path
	if !filepath.IsAbs(filePath) && f.BaseDir != "" {
		filePath = filepath.Join(f.BaseDir, filePath)
	}
	if err := validatePathWithinBase(filePath, f.BaseDir); err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open form file %s: %w", field.Name, err)
	}
	defer file.Close()

	filename := field.Filename
	if filename == "" {
		filename = filepath.Base(filePath)
	}
	return writeBlob(writer, field, filename, file)
}

func writeBlob(writer *multipart.Writer, field *FormField, filename string, r io.Reader) error {
	contentType := field.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := fmt.Sprintf(`form-data; name="%s"`, escapeQuotes(field.Name))
	if filename != "" {
		disposition += fmt.Sprintf(`; filename="%s"`, escapeQuotes(filename))
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// validatePathWithinBase checks that the resolved path stays within the base
// directory.
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}

	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}

	return nil
}
