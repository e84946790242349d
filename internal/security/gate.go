package security

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
	"github.com/skillkernel/kernel/internal/logging"
	"github.com/skillkernel/kernel/internal/scanner"
)

// Gate combines the code-pattern scanner and the manifest validator into
// the kernel's single security decision function, and caches each skill's last
// assessment so repeated dispatch calls don't re-scan unchanged skills.
type Gate struct {
	logger logging.Logger

	scannerBlock, scannerWarn int

	mu    sync.RWMutex
	cache map[string]domain.SecurityAssessment
}

// Option customizes Gate construction.
type Option func(*Gate)

// WithLogger sets the Gate's diagnostic logger.
func WithLogger(l logging.Logger) Option { return func(g *Gate) { g.logger = logging.OrNop(l) } }

// WithScannerThresholds overrides the code scanner's default block/warn
// score thresholds.
func WithScannerThresholds(block, warn int) Option {
	return func(g *Gate) { g.scannerBlock, g.scannerWarn = block, warn }
}

// New constructs a Gate.
func New(opts ...Option) *Gate {
	g := &Gate{
		logger:       logging.NewComponentLogger("SecurityGate"),
		scannerBlock: ScannerBlockThreshold,
		scannerWarn:  ScannerWarnThreshold,
		cache:        make(map[string]domain.SecurityAssessment),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Assess scans skillDir's script files and validates its manifest,
// producing a combined decision. A trusted source bypasses warnings (but
// never a hard block). A warm, non-invalidated cache entry for skillName is
// returned as-is without rescanning; call Invalidate after any change to
// the skill's files or manifest to force the next Assess to re-scan.
func (g *Gate) Assess(skillName, skillDir string, manifest domain.Manifest) (domain.SecurityAssessment, error) {
	if cached, ok := g.Cached(skillName); ok {
		return cached, nil
	}

	findings, err := scanDir(skillDir)
	if err != nil {
		return domain.SecurityAssessment{}, err
	}
	scannerScore := ScanTotal(findings)

	validation := ValidateManifest(manifest)

	trusted := false
	if manifest.Source != "" {
		trusted, _ = CheckTrustedSource(manifest.Source)
	}

	decision := domain.DecisionAllow
	switch {
	case scannerScore >= g.scannerBlock || validation.IsBlocked:
		decision = domain.DecisionBlock
	case scannerScore >= g.scannerWarn || (validation.IsWarning && !trusted):
		decision = domain.DecisionWarn
	}

	var warnings []string
	if !trusted {
		for _, w := range validation.Warnings {
			warnings = append(warnings, w.Permission+": "+w.Message)
		}
	}
	sort.Strings(warnings)

	assessment := domain.SecurityAssessment{
		Skill:      skillName,
		Decision:   decision,
		Score:      scannerScore + validation.Score,
		Findings:   findings,
		Warnings:   warnings,
		AssessedAt: time.Now(),
	}
	g.mu.Lock()
	g.cache[skillName] = assessment
	g.mu.Unlock()
	return assessment, nil
}

// Cached returns skillName's last assessment, if any.
func (g *Gate) Cached(skillName string) (domain.SecurityAssessment, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.cache[skillName]
	return a, ok
}

// Invalidate drops skillName's cached assessment, forcing the next Assess
// call to re-scan. Called on a reindex that touches the skill's files.
func (g *Gate) Invalidate(skillName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, skillName)
}

// scanDir reads every script file directly under dir (the Scanner's own
// file-skip rules apply) and runs the code-pattern scanner over each.
func scanDir(dir string) ([]domain.SecurityFinding, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var findings []domain.SecurityFinding
	for _, e := range entries {
		if e.IsDir() || !scanner.ShouldScan(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		findings = append(findings, ScanFile(path, string(content))...)
	}
	return findings, nil
}
