// Package scanner discovers skills on disk and extracts ToolRecords from
// their script files by pattern/lexical scanning, never by executing skill
// code. Skills are directories with a SKILL.md manifest
// (YAML front matter + Markdown body, grounded on
// alex/internal/infra/skills's SKILL.md loader) and sibling script files
// that register commands with a "@skill_command(...)" decorator line, the
// convention original_source's omni.core.skills.tools_loader registry uses.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/logging"
)

// scriptExtensions enumerates the file extensions the Scanner treats as
// skill scripts. Skills are polyglot (the kernel never executes them), so
// this is not limited to Go.
var scriptExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".rb": true, ".lua": true, ".sh": true,
}

const manifestFile = "SKILL.md"
const packageInitFile = "__init__.py"

// Scanner produces DiscoveredSkills and ToolRecords from the filesystem.
type Scanner struct {
	logger logging.Logger
	// Concurrency caps the number of files parsed in parallel per
	// scan_directory call — the shared worker pool.
	Concurrency int
}

// New constructs a Scanner.
func New(logger logging.Logger) *Scanner {
	return &Scanner{logger: logging.OrNop(logger), Concurrency: 8}
}

// ScanDirectory walks root, grouping files by immediate child directory,
// and returns one DiscoveredSkill per subdirectory containing a SKILL.md
// manifest. Returns an empty slice (not an error) for a missing root.
func (s *Scanner) ScanDirectory(root string) ([]domain.DiscoveredSkill, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	results := make([]domain.DiscoveredSkill, len(dirs))
	g := new(errgroup.Group)
	g.SetLimit(max(1, s.Concurrency))
	for i, name := range dirs {
		i, name := i, name
		g.Go(func() error {
			skillDir := filepath.Join(root, name)
			manifestPath := filepath.Join(skillDir, manifestFile)
			raw, err := os.ReadFile(manifestPath)
			if err != nil {
				// Not every subdirectory of root is a skill; skip silently.
				return nil
			}
			manifest, _, err := parseManifest(raw)
			if err != nil {
				s.logger.Warn("skipping skill %s: invalid manifest: %v", name, err)
				return nil
			}
			skillName := manifest.Name
			if skillName == "" {
				skillName = name
			}
			records, err := s.scanSkillDir(skillDir, skillName, manifest.Keywords, nil)
			if err != nil {
				s.logger.Warn("scan skill %s: %v", name, err)
			}
			results[i] = domain.DiscoveredSkill{
				Name:     skillName,
				Path:     skillDir,
				Manifest: manifest,
				Records:  records,
				Rules:    parseSnifferRules(raw),
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.DiscoveredSkill, 0, len(results))
	for _, r := range results {
		if r.Name != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Scanner) scanSkillDir(dir, skillName string, keywords, intents []string) ([]domain.ToolRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && ShouldScan(e.Name()) {
			names = append(names, e.Name())
		}
	}

	// Per-file parsing is independent and I/O-bound; fan it out over the
	// shared worker pool the way alex's own per-task pools do
	// (the "shared worker pool").
	pool := pool.New().WithMaxGoroutines(s.Concurrency)
	perFile := make([][]domain.ToolRecord, len(names))
	for i, base := range names {
		i, base := i, base
		pool.Go(func() {
			content, err := os.ReadFile(filepath.Join(dir, base))
			if err != nil {
				s.logger.Warn("read %s: %v", base, err)
				return
			}
			perFile[i] = parseScriptContent(string(content), filepath.Join(dir, base), skillName, keywords, intents)
		})
	}
	pool.Wait()

	var records []domain.ToolRecord
	for _, recs := range perFile {
		records = append(records, recs...)
	}
	return records, nil
}

// ShouldScan implements the Scanner's file-skip rules: names starting with
// "_", the package init file, and non-script extensions are skipped. Exported
// so the Security Gate's directory scan walks the same file set.
func ShouldScan(basename string) bool {
	if strings.HasPrefix(basename, "_") {
		return false
	}
	if basename == packageInitFile {
		return false
	}
	return scriptExtensions[strings.ToLower(filepath.Ext(basename))]
}

// ScanPaths is the pure-function variant used by tests and incremental
// reindex: it scans in-memory file contents instead of touching disk.
func (s *Scanner) ScanPaths(virtualFiles map[string]string, skillName string, keywords, intents []string) []domain.ToolRecord {
	names := make([]string, 0, len(virtualFiles))
	for name := range virtualFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.ToolRecord
	for _, path := range names {
		base := filepath.Base(path)
		if !ShouldScan(base) {
			continue
		}
		out = append(out, parseScriptContent(virtualFiles[path], path, skillName, keywords, intents)...)
	}
	return out
}

// ParseScriptContent is the single-file scan: it extracts zero or more
// ToolRecords from one script's raw content.
func (s *Scanner) ParseScriptContent(content, path, skillName string, keywords, intents []string) []domain.ToolRecord {
	return parseScriptContent(content, path, skillName, keywords, intents)
}

var decoratorStart = regexp.MustCompile(`@skill_command\s*\(`)
var defRe = regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+(\w+)\s*\(`)

func parseScriptContent(content, path, skillName string, skillKeywords, intents []string) []domain.ToolRecord {
	hash := fileHash([]byte(content))
	var records []domain.ToolRecord

	locs := decoratorStart.FindAllStringIndex(content, -1)
	for _, loc := range locs {
		openParen := loc[1] - 1
		closeParen := matchingParen(content, openParen)
		if closeParen < 0 {
			continue
		}
		argsText := content[openParen+1 : closeParen]
		kwargs := parseKwArgs(argsText)

		rest := content[closeParen+1:]
		defLoc := defRe.FindStringSubmatchIndex(rest)
		if defLoc == nil {
			continue
		}
		funcName := rest[defLoc[2]:defLoc[3]]
		sigOpenAbs := closeParen + 1 + defLoc[1] - 1
		sigClose := matchingParen(content, sigOpenAbs)
		var sigText string
		if sigClose > sigOpenAbs {
			sigText = content[sigOpenAbs+1 : sigClose]
		}

		name := stringField(kwargs, "name", funcName)
		description := stringField(kwargs, "description", "")
		if description == "" {
			docFrom := closeParen + 1 + defLoc[1]
			if sigClose > sigOpenAbs {
				docFrom = sigClose + 1
			}
			description = firstDocstringLine(content, docFrom)
		}
		category := stringField(kwargs, "category", "general")
		dangerous, _ := kwargs["dangerous"].(bool)

		keywords := append([]string{}, skillKeywords...)
		keywords = append(keywords, skillName)
		if kwRaw, ok := kwargs["keywords"].([]any); ok {
			for _, k := range kwRaw {
				if str, ok := k.(string); ok {
					keywords = append(keywords, str)
				}
			}
		}
		keywords = append(keywords, intents...)
		keywords = dedupStrings(keywords)

		schema := parameterSchema(kwargs["input_schema"], sigText)

		alias, _ := kwargs["alias"].(string)
		entryPoint := path + "::" + funcName
		variants := parseVariants(kwargs["variants"], entryPoint)

		rec := domain.ToolRecord{
			ToolCommand: domain.ToolCommand{
				FQName:      skillName + "." + name,
				Skill:       skillName,
				Name:        name,
				Description: description,
				Parameters:  schema,
				Category:    category,
				Keywords:    keywords,
				Alias:       alias,
				EntryPoint:  entryPoint,
				Variants:    variants,
				Dangerous:   dangerous,
			},
			FileHash:  hash,
			FilePath:  path,
			SkillPath: filepath.Dir(path),
		}
		records = append(records, rec)
	}
	return records
}

func stringField(kwargs map[string]any, key, fallback string) string {
	if v, ok := kwargs[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// parseVariants reads a "variants=[{...}, {...}]" keyword argument into
// domain.Variants, the way original_source's omni.core.skills.variants
// module declares its "local" vs "accelerated" alternatives. A variant
// without an explicit "executor" falls back to the command's own entry
// point, so declaring "status" alone is enough to register a degraded
// or unavailable alias of the decorated function.
func parseVariants(raw any, fallbackExecutor string) []domain.Variant {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var variants []domain.Variant
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(m, "name", "")
		if name == "" {
			continue
		}
		status := domain.VariantStatus(stringField(m, "status", string(domain.VariantAvailable)))
		v := domain.Variant{
			Name:     name,
			Status:   status,
			Executor: stringField(m, "executor", fallbackExecutor),
		}
		if p, ok := m["priority"].(float64); ok {
			v.Priority = int(p)
		}
		variants = append(variants, v)
	}
	return variants
}

// matchingParen returns the index of the ')' matching the '(' at openIdx,
// respecting quoted strings and nested brackets. Returns -1 if unbalanced.
func matchingParen(s string, openIdx int) int {
	depth := 0
	var quote rune
	for i := openIdx; i < len(s); i++ {
		r := rune(s[i])
		switch {
		case quote != 0:
			if r == quote && !isEscaped(s, i) {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// firstDocstringLine returns the first line of the triple-quoted docstring
// immediately following a "def ...():" at searchFrom (the index just past
// the function signature's closing paren), or "" if there is none.
func firstDocstringLine(content string, searchFrom int) string {
	rest := content[searchFrom:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return ""
	}
	body := rest[colon+1:]
	trimmed := strings.TrimLeft(body, " \t\r\n")
	for _, q := range []string{`"""`, `'''`} {
		if strings.HasPrefix(trimmed, q) {
			remainder := trimmed[len(q):]
			end := strings.Index(remainder, q)
			var doc string
			if end >= 0 {
				doc = remainder[:end]
			} else {
				doc = remainder
			}
			doc = strings.TrimSpace(doc)
			if idx := strings.IndexByte(doc, '\n'); idx >= 0 {
				doc = doc[:idx]
			}
			return strings.TrimSpace(doc)
		}
	}
	return ""
}

// parameterSchema builds a ParameterSchema from an explicit input_schema
// keyword argument when present, else infers one from the function
// signature (primitive types from annotations, defaults marking a
// parameter optional), else falls back to an empty object schema —
// the dynamic discovery of command parameters from a function signature.
func parameterSchema(explicit any, sigText string) domain.ParameterSchema {
	if m, ok := explicit.(map[string]any); ok {
		return schemaFromMap(m)
	}
	return inferSchemaFromSignature(sigText)
}

func schemaFromMap(m map[string]any) domain.ParameterSchema {
	schema := domain.ParameterSchema{Type: "object", Properties: map[string]domain.ParameterProperty{}}
	if t, ok := m["type"].(string); ok {
		schema.Type = t
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for name, raw := range props {
			propMap, _ := raw.(map[string]any)
			prop := domain.ParameterProperty{}
			if propMap != nil {
				if t, ok := propMap["type"].(string); ok {
					prop.Type = t
				}
				if d, ok := propMap["description"].(string); ok {
					prop.Description = d
				}
				prop.Default = propMap["default"]
			}
			schema.Properties[name] = prop
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

var paramRe = regexp.MustCompile(`^\s*\*{0,2}(\w+)\s*(?::\s*([\w\[\], ]+))?\s*(?:=\s*(.+))?$`)

func inferSchemaFromSignature(sigText string) domain.ParameterSchema {
	schema := domain.ParameterSchema{Type: "object", Properties: map[string]domain.ParameterProperty{}}
	if strings.TrimSpace(sigText) == "" {
		return schema
	}
	for _, part := range splitTopLevel(sigText, ',') {
		part = strings.TrimSpace(part)
		if part == "" || part == "self" || part == "cls" {
			continue
		}
		m := paramRe.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		name, typeHint, defaultRaw := m[1], strings.TrimSpace(m[2]), strings.TrimSpace(m[3])
		prop := domain.ParameterProperty{Type: mapPyType(typeHint)}
		hasDefault := defaultRaw != ""
		if hasDefault {
			def := parsePyValue(defaultRaw)
			prop.Default = def
			if prop.Type == "" {
				prop.Type = inferTypeFromValue(def)
			}
		}
		if prop.Type == "" {
			prop.Type = "string"
		}
		schema.Properties[name] = prop
		if !hasDefault {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func mapPyType(hint string) string {
	switch {
	case hint == "":
		return ""
	case strings.HasPrefix(hint, "str"):
		return "string"
	case strings.HasPrefix(hint, "int"):
		return "integer"
	case strings.HasPrefix(hint, "float"):
		return "number"
	case strings.HasPrefix(hint, "bool"):
		return "boolean"
	case strings.HasPrefix(hint, "list") || strings.HasPrefix(hint, "List"):
		return "array"
	case strings.HasPrefix(hint, "dict") || strings.HasPrefix(hint, "Dict"):
		return "object"
	default:
		return ""
	}
}

func inferTypeFromValue(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "string"
	}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// fileHash computes the content hash of a raw file: identical content always
// yields identical hash, any byte change yields a different one.
func fileHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

var frontMatterRe = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n?(.*)$`)

// parseManifest splits a SKILL.md file into its YAML front matter and the
// remaining Markdown body.
func parseManifest(raw []byte) (domain.Manifest, string, error) {
	m := frontMatterRe.FindSubmatch(raw)
	if m == nil {
		return domain.Manifest{}, string(raw), nil
	}
	var manifest domain.Manifest
	if err := yaml.Unmarshal(m[1], &manifest); err != nil {
		return domain.Manifest{}, "", err
	}
	return manifest, string(m[2]), nil
}

var ruleExistsRe = regexp.MustCompile(`(?m)^\s*-\s*file_exists:\s*(.+)$`)
var rulePatternRe = regexp.MustCompile(`(?m)^\s*-\s*file_pattern:\s*(.+)$`)

// parseSnifferRules extracts declarative sniffer rules from a SKILL.md's
// front matter body, in the form of a "sniffer_rules:" YAML-ish list of
// "file_exists: <pattern>" / "file_pattern: <glob>" entries.
func parseSnifferRules(raw []byte) []domain.SnifferRule {
	var rules []domain.SnifferRule
	for _, m := range ruleExistsRe.FindAllSubmatch(raw, -1) {
		rules = append(rules, domain.SnifferRule{Kind: domain.RuleFileExists, Pattern: strings.TrimSpace(string(m[1]))})
	}
	for _, m := range rulePatternRe.FindAllSubmatch(raw, -1) {
		rules = append(rules, domain.SnifferRule{Kind: domain.RuleFilePattern, Pattern: strings.TrimSpace(string(m[1]))})
	}
	return rules
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
