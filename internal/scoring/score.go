// Package scoring implements the deterministic production-readiness score.
package scoring

import "github.com/JakeFAU/prodscout/internal/discovery"

// DefaultThreshold is the minimum score classified as production.
const DefaultThreshold = 10

// Features are the only inputs to Score.
type Features struct {
	Stars           int
	Forks           int
	Commits         int
	Contributors    int
	HasCI           bool
	HasDockerfile   bool
	HasProcfile     bool
	HasPackageJSON  bool
	HasRequirements bool
	ReadmeLength    int
	HasLicense      bool
	// SecretFindings and LintFindings are negative when the scanner could not run.
	SecretFindings int
	LintFindings   int
}

// FromRecord extracts the scoring inputs of a record.
func FromRecord(r discovery.RepositoryRecord) Features {
	return Features{
		Stars:           r.Stars,
		Forks:           r.Forks,
		Commits:         r.Commits,
		Contributors:    r.Contributors,
		HasCI:           r.HasCI,
		HasDockerfile:   r.HasDockerfile,
		HasProcfile:     r.HasProcfile,
		HasPackageJSON:  r.HasPackageJSON,
		HasRequirements: r.HasRequirements,
		ReadmeLength:    r.ReadmeLength,
		HasLicense:      r.License != "",
		SecretFindings:  r.SecretFindings,
		LintFindings:    r.LintFindings,
	}
}

type tier struct {
	min    int
	points int
}

// Tiers are ordered highest first; only the first match counts.
var (
	starTiers        = []tier{{100, 5}, {30, 3}}
	forkTiers        = []tier{{50, 3}, {10, 2}}
	commitTiers      = []tier{{500, 5}, {100, 3}}
	contributorTiers = []tier{{10, 4}, {3, 2}}
	readmeTiers      = []tier{{2000, 2}, {500, 1}}
)

func tiered(value int, tiers []tier) int {
	for _, t := range tiers {
		if value >= t.min {
			return t.points
		}
	}
	return 0
}

func flag(present bool, points int) int {
	if present {
		return points
	}
	return 0
}

// Score computes the additive, tiered production score.
func Score(f Features) int {
	score := tiered(f.Stars, starTiers) +
		tiered(f.Forks, forkTiers) +
		tiered(f.Commits, commitTiers) +
		tiered(f.Contributors, contributorTiers) +
		tiered(f.ReadmeLength, readmeTiers)

	score += flag(f.HasCI, 3)
	score += flag(f.HasDockerfile, 2)
	score += flag(f.HasProcfile, 2)
	score += flag(f.HasPackageJSON || f.HasRequirements, 2)
	score += flag(f.HasLicense, 1)

	if f.SecretFindings > 0 {
		score -= 10 * f.SecretFindings
	}
	if f.LintFindings > 0 {
		score -= f.LintFindings / 5
	}
	return score
}

// Categorize classifies score against threshold.
func Categorize(score, threshold int) discovery.Category {
	if score >= threshold {
		return discovery.CategoryProduction
	}
	return discovery.CategoryNonProduction
}
