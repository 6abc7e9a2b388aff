package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"slices"
	"strings"
)

var (
	ErrTemplateMissing     = errors.New("template asset not found")
	ErrTemplateMalformed   = errors.New("template asset is not a valid docx")
	ErrPlaceholderMismatch = errors.New("template placeholders do not match")
)

// TemplateError is returned for any problem with the template asset.
type TemplateError struct {
	Path    string
	Missing []string
	Unknown []string
	Err     error
}

func (e *TemplateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "template %s: %v", e.Path, e.Err)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing: %s)", strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		fmt.Fprintf(&b, " (unknown: %s)", strings.Join(e.Unknown, ", "))
	}
	return b.String()
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Engine fills a template asset with string values.
type Engine interface {
	Render(path string, data map[string]string) ([]byte, error)
}

// DocxEngine substitutes {{ name }} placeholders in the body, header and footer parts of a
// .docx archive. Word may split a placeholder across several runs; the markup between the
// braces is dropped together with the placeholder.
type DocxEngine struct{}

func NewDocxEngine() *DocxEngine {
	return &DocxEngine{}
}

var (
	placeholderRe = regexp.MustCompile(`\{(?:<[^>]*>)*\{((?:<[^>]*>|[^<{}])*?)\}(?:<[^>]*>)*\}`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	identRe       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func isTemplatedPart(name string) bool {
	if name == "word/document.xml" {
		return true
	}
	for _, prefix := range []string{"word/header", "word/footer"} {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".xml") {
			return true
		}
	}
	return false
}

func (e *DocxEngine) Render(path string, data map[string]string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &TemplateError{Path: path, Err: ErrTemplateMissing}
		}
		return nil, &TemplateError{Path: path, Err: err}
	}
	return renderArchive(path, raw, data)
}

func renderArchive(path string, raw []byte, data map[string]string) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, &TemplateError{Path: path, Err: fmt.Errorf("%w: %v", ErrTemplateMalformed, err)}
	}

	var (
		out     bytes.Buffer
		found   = map[string]bool{}
		unknown []string
		hasBody bool
	)
	w := zip.NewWriter(&out)
	for _, f := range reader.File {
		if !isTemplatedPart(f.Name) {
			if err := w.Copy(f); err != nil {
				return nil, &TemplateError{Path: path, Err: fmt.Errorf("%w: copy %s: %v", ErrTemplateMalformed, f.Name, err)}
			}
			continue
		}
		if f.Name == "word/document.xml" {
			hasBody = true
		}

		content, err := readPart(f)
		if err != nil {
			return nil, &TemplateError{Path: path, Err: fmt.Errorf("%w: read %s: %v", ErrTemplateMalformed, f.Name, err)}
		}
		filled, names, err := fillPart(content, data)
		if err != nil {
			return nil, &TemplateError{Path: path, Err: fmt.Errorf("%w: %s: %v", ErrTemplateMalformed, f.Name, err)}
		}
		for _, name := range names {
			if _, ok := data[name]; !ok && !slices.Contains(unknown, name) {
				unknown = append(unknown, name)
			}
			found[name] = true
		}

		part, err := w.CreateHeader(&zip.FileHeader{Name: f.Name, Method: f.Method, Modified: f.Modified})
		if err != nil {
			return nil, &TemplateError{Path: path, Err: err}
		}
		if _, err := part.Write(filled); err != nil {
			return nil, &TemplateError{Path: path, Err: err}
		}
	}
	if !hasBody {
		return nil, &TemplateError{Path: path, Err: fmt.Errorf("%w: word/document.xml not found", ErrTemplateMalformed)}
	}

	var missing []string
	for name := range data {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 || len(unknown) > 0 {
		slices.Sort(missing)
		slices.Sort(unknown)
		return nil, &TemplateError{Path: path, Missing: missing, Unknown: unknown, Err: ErrPlaceholderMismatch}
	}

	if err := w.Close(); err != nil {
		return nil, &TemplateError{Path: path, Err: err}
	}
	return out.Bytes(), nil
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// fillPart replaces every placeholder in one XML part and reports the names it saw.
func fillPart(content []byte, data map[string]string) ([]byte, []string, error) {
	var (
		names  []string
		badErr error
	)
	filled := placeholderRe.ReplaceAllFunc(content, func(match []byte) []byte {
		inner := placeholderRe.FindSubmatch(match)[1]
		name := strings.TrimSpace(string(tagRe.ReplaceAll(inner, nil)))
		if !identRe.MatchString(name) {
			if badErr == nil {
				badErr = fmt.Errorf("invalid placeholder %q", name)
			}
			return match
		}
		names = append(names, name)
		value, ok := data[name]
		if !ok {
			return match
		}
		return escapeRunText(value)
	})
	if badErr != nil {
		return nil, nil, badErr
	}
	return filled, names, nil
}

// escapeRunText escapes value for use inside <w:t>; newlines become line breaks within the run.
func escapeRunText(value string) []byte {
	var b bytes.Buffer
	for i, line := range strings.Split(value, "\n") {
		if i > 0 {
			b.WriteString(`</w:t><w:br/><w:t xml:space="preserve">`)
		}
		_ = xml.EscapeText(&b, []byte(line))
	}
	return b.Bytes()
}
