package sdk

import (
	"fmt"
	"time"
)

type AnalysisMode string

const (
	ModeLocal AnalysisMode = "local"
	ModeCloud AnalysisMode = "cloud"
)

func ParseAnalysisMode(s string) (AnalysisMode, error) {
	switch m := AnalysisMode(s); m {
	case ModeLocal, ModeCloud:
		return m, nil
	default:
		return "", fmt.Errorf("unknown analysis mode %q", s)
	}
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, critical first. Unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

type EcoRank string

const (
	RankEcoNoob        EcoRank = "🌱 Eco Noob"
	RankOptimizer      EcoRank = "🌿 Optimizer"
	RankGreenArchitect EcoRank = "⚡ Green Architect"
	RankEnergyMaster   EcoRank = "🏆 Energy Master"
)

type Hotspot struct {
	ID          string   `json:"id"`
	FileName    string   `json:"fileName"`
	LineNumber  int      `json:"lineNumber"`
	Rule        string   `json:"rule"`
	EnergyCost  float64  `json:"energyCost"` // mJ
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion"`
}

type FileAnalysis struct {
	FileName        string   `json:"fileName"`
	EnergyUsed      float64  `json:"energyUsed"`
	EfficiencyScore float64  `json:"efficiencyScore"`
	HotspotsCount   int      `json:"hotspotsCount"`
	Severity        Severity `json:"severity"`
	LinesAnalyzed   int      `json:"linesAnalyzed"`
}

type EnergySummary struct {
	TotalEnergy    float64      `json:"totalEnergy"`
	AverageScore   float64      `json:"averageScore"`
	FilesAnalyzed  int          `json:"filesAnalyzed"`
	TotalHotspots  int          `json:"totalHotspots"`
	CriticalIssues int          `json:"criticalIssues"`
	Mode           AnalysisMode `json:"mode"`
	Timestamp      time.Time    `json:"timestamp"`
}

type Achievement struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
	XPReward    int        `json:"xpReward"`
}

type AnalysisResults struct {
	RequestID string         `json:"requestId,omitempty"`
	Summary   EnergySummary  `json:"summary"`
	Hotspots  []Hotspot      `json:"hotspots"`
	Files     []FileAnalysis `json:"files"`
}

type XPGain struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type ModeChange struct {
	Mode AnalysisMode `json:"mode"`
}

type AnalysisRequest struct {
	Mode AnalysisMode `json:"mode"`
}

type FixRequest struct {
	HotspotID string `json:"hotspotId"`
}

type OpenFileRequest struct {
	FileName   string `json:"fileName"`
	LineNumber int    `json:"lineNumber"`
}

// RuleStat is how much of the current hotspot load one rule accounts for.
type RuleStat struct {
	Rule         string  `json:"rule"`
	Count        int     `json:"count"`
	EnergyImpact float64 `json:"energyImpact"`
}

// TrendPoint is the last summary seen on a given UTC day.
type TrendPoint struct {
	Date   string  `json:"date"` // 2006-01-02
	Score  float64 `json:"score"`
	Energy float64 `json:"energy"`
}

type DailyChallenge struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Progress    float64 `json:"progress"`
	Target      float64 `json:"target"`
	XPReward    int     `json:"xpReward"`
	Completed   bool    `json:"completed"`
}
