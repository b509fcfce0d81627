package suppress

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedLanguage is returned for languages without a single-line
// comment syntax the scanner recognizes.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language is an editor language identifier.
type Language string

const (
	LangC               Language = "c"
	LangClojure         Language = "clojure"
	LangCPP             Language = "cpp"
	LangCSharp          Language = "csharp"
	LangCSS             Language = "css"
	LangDart            Language = "dart"
	LangDockerfile      Language = "dockerfile"
	LangElixir          Language = "elixir"
	LangErlang          Language = "erlang"
	LangGo              Language = "go"
	LangGroovy          Language = "groovy"
	LangHaskell         Language = "haskell"
	LangHTML            Language = "html"
	LangJava            Language = "java"
	LangJavaScript      Language = "javascript"
	LangJavaScriptReact Language = "javascriptreact"
	LangJSON            Language = "json"
	LangJulia           Language = "julia"
	LangKotlin          Language = "kotlin"
	LangLua             Language = "lua"
	LangMakefile        Language = "makefile"
	LangMarkdown        Language = "markdown"
	LangOCaml           Language = "ocaml"
	LangPerl            Language = "perl"
	LangPHP             Language = "php"
	LangPlaintext       Language = "plaintext"
	LangPowerShell      Language = "powershell"
	LangPython          Language = "python"
	LangR               Language = "r"
	LangRuby            Language = "ruby"
	LangRust            Language = "rust"
	LangScala           Language = "scala"
	LangShell           Language = "shellscript"
	LangSolidity        Language = "solidity"
	LangSQL             Language = "sql"
	LangSwift           Language = "swift"
	LangTerraform       Language = "terraform"
	LangTOML            Language = "toml"
	LangTypeScript      Language = "typescript"
	LangTypeScriptReact Language = "typescriptreact"
	LangXML             Language = "xml"
	LangYAML            Language = "yaml"
)

// Languages enumerates every language the table knows about, supported or
// not.
var Languages = []Language{
	LangC, LangClojure, LangCPP, LangCSharp, LangCSS, LangDart, LangDockerfile,
	LangElixir, LangErlang, LangGo, LangGroovy, LangHaskell, LangHTML, LangJava,
	LangJavaScript, LangJavaScriptReact, LangJSON, LangJulia, LangKotlin, LangLua,
	LangMakefile, LangMarkdown, LangOCaml, LangPerl, LangPHP, LangPlaintext,
	LangPowerShell, LangPython, LangR, LangRuby, LangRust, LangScala, LangShell,
	LangSolidity, LangSQL, LangSwift, LangTerraform, LangTOML, LangTypeScript,
	LangTypeScriptReact, LangXML, LangYAML,
}

var commentTokens = map[Language]string{
	LangC:               "//",
	LangClojure:         ";",
	LangCPP:             "//",
	LangCSharp:          "//",
	LangDart:            "//",
	LangDockerfile:      "#",
	LangElixir:          "#",
	LangErlang:          "%",
	LangGo:              "//",
	LangGroovy:          "//",
	LangHaskell:         "--",
	LangJava:            "//",
	LangJavaScript:      "//",
	LangJavaScriptReact: "//",
	LangJulia:           "#",
	LangKotlin:          "//",
	LangLua:             "--",
	LangMakefile:        "#",
	LangPerl:            "#",
	LangPHP:             "//",
	LangPowerShell:      "#",
	LangPython:          "#",
	LangR:               "#",
	LangRuby:            "#",
	LangRust:            "//",
	LangScala:           "//",
	LangShell:           "#",
	LangSolidity:        "//",
	LangSQL:             "--",
	LangSwift:           "//",
	LangTerraform:       "#",
	LangTOML:            "#",
	LangTypeScript:      "//",
	LangTypeScriptReact: "//",
	LangYAML:            "#",
}

// Known languages with no single-line comment form.
var noLineComment = map[Language]bool{
	LangCSS:       true,
	LangHTML:      true,
	LangJSON:      true,
	LangMarkdown:  true,
	LangOCaml:     true,
	LangPlaintext: true,
	LangXML:       true,
}

var languageAliases = map[string]Language{
	"bash":        LangShell,
	"sh":          LangShell,
	"zsh":         LangShell,
	"golang":      LangGo,
	"js":          LangJavaScript,
	"jsx":         LangJavaScriptReact,
	"ts":          LangTypeScript,
	"tsx":         LangTypeScriptReact,
	"py":          LangPython,
	"c++":         LangCPP,
	"cs":          LangCSharp,
	"hcl":         LangTerraform,
	"tf":          LangTerraform,
	"yml":         LangYAML,
	"docker":      LangDockerfile,
	"text":        LangPlaintext,
	"jsonc":       LangJSON,
	"objective-c": LangC,
}

var extLanguages = map[string]Language{
	".c":      LangC,
	".h":      LangC,
	".clj":    LangClojure,
	".cljs":   LangClojure,
	".cc":     LangCPP,
	".cpp":    LangCPP,
	".cxx":    LangCPP,
	".hpp":    LangCPP,
	".cs":     LangCSharp,
	".css":    LangCSS,
	".dart":   LangDart,
	".ex":     LangElixir,
	".exs":    LangElixir,
	".erl":    LangErlang,
	".go":     LangGo,
	".groovy": LangGroovy,
	".gradle": LangGroovy,
	".hs":     LangHaskell,
	".html":   LangHTML,
	".htm":    LangHTML,
	".java":   LangJava,
	".js":     LangJavaScript,
	".mjs":    LangJavaScript,
	".cjs":    LangJavaScript,
	".jsx":    LangJavaScriptReact,
	".json":   LangJSON,
	".jl":     LangJulia,
	".kt":     LangKotlin,
	".kts":    LangKotlin,
	".lua":    LangLua,
	".mk":     LangMakefile,
	".md":     LangMarkdown,
	".ml":     LangOCaml,
	".pl":     LangPerl,
	".pm":     LangPerl,
	".php":    LangPHP,
	".txt":    LangPlaintext,
	".ps1":    LangPowerShell,
	".py":     LangPython,
	".pyi":    LangPython,
	".r":      LangR,
	".rb":     LangRuby,
	".rs":     LangRust,
	".scala":  LangScala,
	".sh":     LangShell,
	".bash":   LangShell,
	".zsh":    LangShell,
	".sol":    LangSolidity,
	".sql":    LangSQL,
	".swift":  LangSwift,
	".tf":     LangTerraform,
	".hcl":    LangTerraform,
	".toml":   LangTOML,
	".ts":     LangTypeScript,
	".mts":    LangTypeScript,
	".cts":    LangTypeScript,
	".tsx":    LangTypeScriptReact,
	".xml":    LangXML,
	".yaml":   LangYAML,
	".yml":    LangYAML,
}

var baseNameLanguages = map[string]Language{
	"dockerfile":  LangDockerfile,
	"makefile":    LangMakefile,
	"gnumakefile": LangMakefile,
}

func init() {
	if err := validateLanguageTables(); err != nil {
		panic("suppress: " + err.Error())
	}
}

// validateLanguageTables checks that every enumerated language is either
// mapped to a comment token or explicitly marked as having none, and that no
// lookup table points outside the enumeration.
func validateLanguageTables() error {
	known := make(map[Language]bool, len(Languages))
	for _, l := range Languages {
		if known[l] {
			return fmt.Errorf("language %q listed twice", l)
		}
		known[l] = true
		_, hasToken := commentTokens[l]
		if hasToken == noLineComment[l] {
			return fmt.Errorf("language %q must have exactly one of a comment token or an explicit no-comment entry", l)
		}
	}
	for l, tok := range commentTokens {
		if !known[l] {
			return fmt.Errorf("comment token for unknown language %q", l)
		}
		if strings.TrimSpace(tok) == "" {
			return fmt.Errorf("empty comment token for %q", l)
		}
	}
	for l := range noLineComment {
		if !known[l] {
			return fmt.Errorf("no-comment entry for unknown language %q", l)
		}
	}
	for alias, l := range languageAliases {
		if !known[l] {
			return fmt.Errorf("alias %q points to unknown language %q", alias, l)
		}
	}
	for ext, l := range extLanguages {
		if !known[l] {
			return fmt.Errorf("extension %q points to unknown language %q", ext, l)
		}
	}
	for name, l := range baseNameLanguages {
		if !known[l] {
			return fmt.Errorf("file name %q points to unknown language %q", name, l)
		}
	}
	return nil
}

// ParseLanguage normalizes an editor language id. Unrecognized ids are an
// error rather than a guess.
func ParseLanguage(id string) (Language, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	l := Language(id)
	if _, ok := commentTokens[l]; ok || noLineComment[l] {
		return l, nil
	}
	if alias, ok := languageAliases[id]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, id)
}

// DetectLanguage guesses a file's language from its name.
func DetectLanguage(path string) (Language, bool) {
	base := strings.ToLower(filepath.Base(path))
	if l, ok := baseNameLanguages[base]; ok {
		return l, true
	}
	if strings.HasPrefix(base, "dockerfile.") || strings.HasSuffix(base, ".dockerfile") {
		return LangDockerfile, true
	}
	l, ok := extLanguages[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// CommentToken returns the single-line comment token for a language id.
func CommentToken(id string) (string, error) {
	l, err := ParseLanguage(id)
	if err != nil {
		return "", err
	}
	tok, ok := commentTokens[l]
	if !ok {
		return "", fmt.Errorf("%w: %q has no single-line comment syntax", ErrUnsupportedLanguage, l)
	}
	return tok, nil
}
