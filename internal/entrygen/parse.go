// Package entrygen генерирует граничные символы CreatePlugin/UnloadPlugin
// для типа, помеченного директивой //plugkit:entry.
package entrygen

import (
	"errors"
	"fmt"
	"go/ast"
	"go/build"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Directive помечает тип плагина в package main.
const Directive = "//plugkit:entry"

var errNoEntry = errors.New("no type annotated with " + Directive)

// Target найденный тип плагина.
type Target struct {
	Package string
	Type    string
	Pos     token.Position
}

// PosError ошибка с позицией в исходнике.
type PosError struct {
	Pos token.Position
	Msg string
}

func (e *PosError) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

// ParseDir ищет единственный тип с директивой среди .go файлов dir.
// Тесты, ранее сгенерированный файл и файлы, исключенные build-тегами,
// пропускаются.
func ParseDir(dir string) (*Target, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasSuffix(n, ".go") || strings.HasSuffix(n, "_test.go") || n == OutputFile {
			continue
		}
		ok, err := build.Default.MatchFile(dir, n)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", n, err)
		}
		if !ok {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)

	fset := token.NewFileSet()
	files := make([]*ast.File, 0, len(names))
	for _, n := range names {
		f, err := parser.ParseFile(fset, filepath.Join(dir, n), nil, parser.ParseComments)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	t, err := Find(fset, files)
	if errors.Is(err, errNoEntry) {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	return t, err
}

// Find применяет правила директивы к уже разобранным файлам одного пакета.
// Директива вне doc-комментария объявления считается ошибкой.
func Find(fset *token.FileSet, files []*ast.File) (*Target, error) {
	var found *Target
	for _, f := range files {
		for _, m := range marks(fset, f) {
			if m.decl == nil {
				return nil, &PosError{Pos: m.pos, Msg: Directive + " must annotate a type declaration"}
			}
			t, err := target(fset, f, m)
			if err != nil {
				return nil, err
			}
			if found != nil {
				return nil, &PosError{Pos: m.pos, Msg: fmt.Sprintf("second %s type %s; already declared %s at %s", Directive, t.Type, found.Type, found.Pos)}
			}
			found = t
		}
	}
	if found == nil {
		return nil, errNoEntry
	}
	return found, nil
}

// mark вхождение директивы. decl пуст, если директива не является
// doc-комментарием объявления; spec задан, если она стоит на отдельной
// спецификации внутри группы.
type mark struct {
	pos  token.Position
	decl ast.Decl
	spec ast.Spec
}

// marks возвращает все директивы файла в порядке появления.
func marks(fset *token.FileSet, f *ast.File) []mark {
	attached := make(map[token.Pos]mark)
	attach := func(doc *ast.CommentGroup, decl ast.Decl, spec ast.Spec) {
		if c := directive(doc); c != nil {
			attached[c.Pos()] = mark{pos: fset.Position(c.Pos()), decl: decl, spec: spec}
		}
	}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			attach(d.Doc, d, nil)
		case *ast.GenDecl:
			attach(d.Doc, d, nil)
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					attach(s.Doc, d, s)
				case *ast.ValueSpec:
					attach(s.Doc, d, s)
				case *ast.ImportSpec:
					attach(s.Doc, d, s)
				}
			}
		}
	}

	var out []mark
	for _, cg := range f.Comments {
		for _, c := range cg.List {
			if !isDirective(c) {
				continue
			}
			if m, ok := attached[c.Pos()]; ok {
				out = append(out, m)
				continue
			}
			out = append(out, mark{pos: fset.Position(c.Pos())})
		}
	}
	return out
}

func isDirective(c *ast.Comment) bool {
	return strings.TrimSpace(c.Text) == Directive
}

func directive(doc *ast.CommentGroup) *ast.Comment {
	if doc == nil {
		return nil
	}
	for _, c := range doc.List {
		if isDirective(c) {
			return c
		}
	}
	return nil
}

func target(fset *token.FileSet, f *ast.File, m mark) (*Target, error) {
	gd, ok := m.decl.(*ast.GenDecl)
	if !ok || gd.Tok != token.TYPE {
		return nil, &PosError{Pos: m.pos, Msg: Directive + " must annotate a type declaration"}
	}
	spec := m.spec
	if spec == nil {
		if len(gd.Specs) != 1 {
			return nil, &PosError{Pos: m.pos, Msg: Directive + " must annotate a single type, not a group"}
		}
		spec = gd.Specs[0]
	}
	ts := spec.(*ast.TypeSpec)
	if ts.Assign.IsValid() {
		return nil, &PosError{Pos: m.pos, Msg: fmt.Sprintf("%s cannot annotate alias %s", Directive, ts.Name.Name)}
	}
	if ts.TypeParams != nil && len(ts.TypeParams.List) > 0 {
		return nil, &PosError{Pos: m.pos, Msg: fmt.Sprintf("%s cannot annotate generic type %s", Directive, ts.Name.Name)}
	}
	if f.Name.Name != "main" {
		return nil, &PosError{Pos: m.pos, Msg: fmt.Sprintf("%s type %s must be in package main, not %s", Directive, ts.Name.Name, f.Name.Name)}
	}
	return &Target{
		Package: f.Name.Name,
		Type:    ts.Name.Name,
		Pos:     fset.Position(ts.Name.Pos()),
	}, nil
}
