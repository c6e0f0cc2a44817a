package structure

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// CacheFileName caches a repository's structure analysis so repeated
	// decompositions against the same project don't re-walk the tree.
	CacheFileName = ".agent-orchestrator/structure_cache.json"
	// CacheMaxAge bounds how stale a cached analysis may be before it is
	// recomputed.
	CacheMaxAge = 24 * time.Hour
)

// extToLanguage names the tech-stack entry a file extension implies.
var extToLanguage = map[string]string{
	".go":    "Go",
	".js":    "JavaScript",
	".ts":    "TypeScript",
	".jsx":   "JavaScript (React)",
	".tsx":   "TypeScript (React)",
	".py":    "Python",
	".rb":    "Ruby",
	".java":  "Java",
	".c":     "C",
	".cpp":   "C++",
	".h":     "C/C++ header",
	".hpp":   "C++ header",
	".rs":    "Rust",
	".php":   "PHP",
	".swift": "Swift",
	".kt":    "Kotlin",
}

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".agent-orchestrator": true,
}

// Analyzer walks a target repository and identifies directory-level code
// patterns, caching the result so the TaskDecomposer can cheaply embed
// tech-stack and file facts into its prompt per §4.1.
type Analyzer struct {
	repoPath string
	rules    *Rules
}

// NewAnalyzer constructs an Analyzer rooted at repoPath.
func NewAnalyzer(repoPath string) *Analyzer {
	return &Analyzer{repoPath: repoPath}
}

// Analyze scans the repository, reusing a cache younger than CacheMaxAge.
func (a *Analyzer) Analyze() error {
	if a.loadCache() {
		return nil
	}
	rules, err := a.walk()
	if err != nil {
		return err
	}
	a.rules = rules
	_ = a.saveCache() // caching is best-effort
	return nil
}

// Rules returns the analyzed rule set, or nil if Analyze has not run.
func (a *Analyzer) Rules() *Rules {
	return a.rules
}

// TechStack summarizes the languages detected across the repository, most
// frequent first, for embedding directly into decompose.ProjectContext.
func (a *Analyzer) TechStack() []string {
	if a.rules == nil {
		return nil
	}
	counts := make(map[string]int)
	for _, rule := range a.rules.Rules {
		lang := languageForPattern(rule.Pattern)
		if lang != "" {
			counts[lang] += len(rule.Examples)
		}
	}
	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return counts[langs[i]] > counts[langs[j]] })
	return langs
}

// RelevantFiles returns up to limit example file paths across every
// detected directory rule, for embedding into decompose.ProjectContext.
func (a *Analyzer) RelevantFiles(limit int) []string {
	if a.rules == nil {
		return nil
	}
	var files []string
	for _, rule := range a.rules.Rules {
		files = append(files, rule.Examples...)
		if len(files) >= limit {
			break
		}
	}
	if len(files) > limit {
		files = files[:limit]
	}
	return files
}

func languageForPattern(pattern string) string {
	ext := filepath.Ext(pattern)
	return extToLanguage[ext]
}

func (a *Analyzer) cachePath() string {
	return filepath.Join(a.repoPath, CacheFileName)
}

func (a *Analyzer) loadCache() bool {
	info, err := os.Stat(a.cachePath())
	if err != nil || time.Since(info.ModTime()) > CacheMaxAge {
		return false
	}
	data, err := os.ReadFile(a.cachePath())
	if err != nil {
		return false
	}
	var rules Rules
	if err := json.Unmarshal(data, &rules); err != nil {
		return false
	}
	a.rules = &rules
	return true
}

func (a *Analyzer) saveCache() error {
	if a.rules == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cachePath()), 0o755); err != nil {
		return err
	}
	a.rules.Timestamp = time.Now().Unix()
	data, err := json.MarshalIndent(a.rules, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.cachePath(), data, 0o644)
}

// walk scans the repository tree, grouping code files by directory and
// emitting one Rule per directory whose files share a common extension.
func (a *Analyzer) walk() (*Rules, error) {
	rules := &Rules{}
	dirFiles := make(map[string][]string)

	err := filepath.Walk(a.repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if skippedDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !isCodeFile(path) {
			return nil
		}
		relPath, err := filepath.Rel(a.repoPath, path)
		if err != nil {
			return nil
		}
		dir := filepath.Dir(relPath)
		if dir == "." {
			dir = ""
		}
		dirFiles[dir] = append(dirFiles[dir], relPath)
		return nil
	})
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(dirFiles))
	for dir := range dirFiles {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		files := dirFiles[dir]
		if len(files) < 2 {
			continue
		}
		ext := commonExtension(files)
		if ext == "" {
			continue
		}
		examples := files
		if len(examples) > 3 {
			examples = examples[:3]
		}
		rules.Rules = append(rules.Rules, Rule{
			Pattern:     filepath.Join(dir, "*"+ext),
			Description: describeDirectory(dir),
			Examples:    examples,
			Directory:   dir,
		})
	}
	return rules, nil
}

func isCodeFile(path string) bool {
	_, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]
	return ok
}

func commonExtension(files []string) string {
	counts := make(map[string]int)
	for _, f := range files {
		counts[filepath.Ext(f)]++
	}
	best, bestCount := "", 0
	for ext, n := range counts {
		if n > bestCount {
			best, bestCount = ext, n
		}
	}
	return best
}

func describeDirectory(dir string) string {
	if dir == "" {
		return "Root directory files"
	}
	parts := strings.Split(dir, string(filepath.Separator))
	last := parts[len(parts)-1]
	if last == "" {
		return "Root directory files"
	}
	return strings.ToUpper(last[:1]) + last[1:] + " files"
}
