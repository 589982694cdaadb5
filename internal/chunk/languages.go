package chunk

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how a language's AST maps to symbol chunks.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// SymbolTypes maps AST node types to the symbol kind they define.
	SymbolTypes map[string]string

	// ContextTypes are root-level node types carried as file context
	// (package clause, imports) into each symbol chunk.
	ContextTypes []string
}

// Symbol kinds recorded on code chunks.
const (
	SymbolFunction  = "function"
	SymbolMethod    = "method"
	SymbolClass     = "class"
	SymbolInterface = "interface"
	SymbolType      = "type"
	SymbolBlock     = "code_block"
)

// LanguageRegistry maps file extensions to language configs and their
// tree-sitter grammars.
type LanguageRegistry struct {
	mu        sync.RWMutex
	configs   map[string]*LanguageConfig
	extToLang map[string]string
	grammars  map[string]*sitter.Language
}

// NewLanguageRegistry builds a registry with the default languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:   make(map[string]*LanguageConfig),
		extToLang: make(map[string]string),
		grammars:  make(map[string]*sitter.Language),
	}

	r.register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		SymbolTypes: map[string]string{
			"function_declaration": SymbolFunction,
			"method_declaration":   SymbolMethod,
			"type_declaration":     SymbolType,
		},
		ContextTypes: []string{"package_clause", "import_declaration"},
	}, golang.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py"},
		SymbolTypes: map[string]string{
			"function_definition": SymbolFunction,
			"class_definition":    SymbolClass,
		},
		ContextTypes: []string{"import_statement", "import_from_statement"},
	}, python.GetLanguage())

	jsSymbols := map[string]string{
		"function_declaration": SymbolFunction,
		"method_definition":    SymbolMethod,
		"class_declaration":    SymbolClass,
	}
	r.register(&LanguageConfig{
		Name:         "javascript",
		Extensions:   []string{".js", ".mjs", ".jsx"},
		SymbolTypes:  jsSymbols,
		ContextTypes: []string{"import_statement"},
	}, javascript.GetLanguage())

	tsSymbols := map[string]string{
		"function_declaration":   SymbolFunction,
		"method_definition":      SymbolMethod,
		"class_declaration":      SymbolClass,
		"interface_declaration":  SymbolInterface,
		"type_alias_declaration": SymbolType,
	}
	r.register(&LanguageConfig{
		Name:         "typescript",
		Extensions:   []string{".ts"},
		SymbolTypes:  tsSymbols,
		ContextTypes: []string{"import_statement"},
	}, typescript.GetLanguage())
	r.register(&LanguageConfig{
		Name:         "tsx",
		Extensions:   []string{".tsx"},
		SymbolTypes:  tsSymbols,
		ContextTypes: []string{"import_statement"},
	}, tsx.GetLanguage())

	return r
}

func (r *LanguageRegistry) register(cfg *LanguageConfig, grammar *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[cfg.Name] = cfg
	r.grammars[cfg.Name] = grammar
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

// ByExtension resolves a language config from a filename extension.
func (r *LanguageRegistry) ByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// ByName resolves a language config by language name.
func (r *LanguageRegistry) ByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[name]
	return cfg, ok
}

// Grammar returns the tree-sitter grammar for a language name.
func (r *LanguageRegistry) Grammar(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.grammars[name]
	return g, ok
}

// SupportedExtensions lists all registered file extensions.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}

// IsCodeFile reports whether filename has a registered code extension.
func IsCodeFile(filename string) bool {
	_, ok := defaultRegistry.ByExtension(filepath.Ext(filename))
	return ok
}
