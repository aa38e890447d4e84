package entrygen

import (
	"bytes"
	"fmt"
	"go/format"
	"os"
	"path/filepath"

	"goa.design/goa/v3/codegen"
)

// OutputFile имя сгенерированного файла по умолчанию.
const OutputFile = "plugin_entry_gen.go"

const apiImport = "plugkit/pkg/pluginapi"

const headerT = `// Code generated by plugkit-gen. DO NOT EDIT.

package {{ .Package }}

import (
{{- range .Imports }}
	{{ if .Name }}{{ .Name }} {{ end }}"{{ .Path }}"
{{- end }}
)
`

const entryT = `
// {{ .Create }} передает host новый экземпляр {{ .Type }}.
func {{ .Create }}() (pluginapi.Plugin, error) {
	return pluginapi.Load[{{ .Type }}]()
}

// {{ .Unload }} освобождает экземпляр, полученный от {{ .Create }}. nil допустим.
func {{ .Unload }}(p pluginapi.Plugin) error {
	return pluginapi.Unload[{{ .Type }}](p)
}

// Символы проверяются компилятором на соответствие контракту загрузчика.
var (
	_ pluginapi.CreateFunc = {{ .Create }}
	_ pluginapi.UnloadFunc = {{ .Unload }}
)
`

type headerData struct {
	Package string
	Imports []*codegen.ImportSpec
}

type entryData struct {
	Type   string
	Create string
	Unload string
}

// File собирает codegen.File с граничными символами для t.
func File(t *Target, path string) *codegen.File {
	return &codegen.File{
		Path: path,
		SectionTemplates: []*codegen.SectionTemplate{
			{
				Name:   "entry-header",
				Source: headerT,
				Data: headerData{
					Package: t.Package,
					Imports: []*codegen.ImportSpec{{Path: apiImport}},
				},
			},
			{
				Name:   "entry-symbols",
				Source: entryT,
				Data: entryData{
					Type:   t.Type,
					Create: "CreatePlugin",
					Unload: "UnloadPlugin",
				},
			},
		},
	}
}

// Render возвращает отформатированный исходник для t.
func Render(t *Target) ([]byte, error) {
	f := File(t, OutputFile)
	var buf bytes.Buffer
	for _, s := range f.SectionTemplates {
		if err := s.Write(&buf); err != nil {
			return nil, fmt.Errorf("render section %s: %w", s.Name, err)
		}
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated code: %w", err)
	}
	return src, nil
}

// Generate разбирает dir и записывает файл с символами в dir/out.
func Generate(dir, out string) (*Target, error) {
	t, err := ParseDir(dir)
	if err != nil {
		return nil, err
	}
	src, err := Render(t)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, out), src, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", out, err)
	}
	return t, nil
}

// Check сообщает об ошибке, если dir/out отличается от свежей генерации.
func Check(dir, out string) (*Target, error) {
	t, err := ParseDir(dir)
	if err != nil {
		return nil, err
	}
	src, err := Render(t)
	if err != nil {
		return nil, err
	}
	cur, err := os.ReadFile(filepath.Join(dir, out))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", out, err)
	}
	if !bytes.Equal(cur, src) {
		return nil, fmt.Errorf("%s is stale, run plugkit-gen", out)
	}
	return t, nil
}
