package panel

import (
	"slices"
	"time"

	"github.com/EchoPBX/energy-bridge/pkg/sdk"
)

const (
	xpPerLevel = 250
	// maxXPGrant caps a single grant so a hostile or buggy host cannot
	// overflow XP.
	maxXPGrant = 1_000_000
	maxLevel   = 1000
	dayLayout  = "2006-01-02"
)

type Profile struct {
	Level          int               `json:"level"`
	XP             int               `json:"xp"`
	XPForNextLevel int               `json:"xpForNextLevel"`
	EcoRank        sdk.EcoRank       `json:"ecoRank"`
	Achievements   []sdk.Achievement `json:"achievements"`

	// Streak counts consecutive UTC days with activity, ending at LastActiveDay.
	Streak           int     `json:"streak"`
	LastActiveDay    string  `json:"lastActiveDay,omitempty"`
	EnergySavedToday float64 `json:"energySavedToday"`
	FilesOptimized   int     `json:"filesOptimized"`
	HotspotsReduced  int     `json:"hotspotsReduced"`

	Today Daily `json:"today"`
}

// Daily is the fix activity of one UTC day. It starts over when the day changes.
type Daily struct {
	Day           string   `json:"day,omitempty"`
	HotspotsFixed int      `json:"hotspotsFixed"`
	EnergySaved   float64  `json:"energySaved"`
	Files         []string `json:"files,omitempty"`
	// Completed holds the ids of challenges already paid out today.
	Completed []string `json:"completed,omitempty"`
}

type challenge struct {
	id, title, desc string
	target          float64
	xp              int
	progress        func(Daily) float64
}

var dailyChallenges = []challenge{
	{"daily_1", "Quick Fix", "Fix 3 hotspots today", 3, 150,
		func(d Daily) float64 { return float64(d.HotspotsFixed) }},
	{"daily_2", "Energy Efficient", "Save 500mJ of energy", 500, 200,
		func(d Daily) float64 { return d.EnergySaved }},
	{"daily_3", "File Master", "Optimize 5 files", 5, 175,
		func(d Daily) float64 { return float64(len(d.Files)) }},
}

func newProfile() Profile {
	return Profile{Level: 1, XPForNextLevel: xpForNextLevel(1), EcoRank: rankFor(1)}
}

func xpForNextLevel(level int) int { return xpPerLevel * level }

func rankFor(level int) sdk.EcoRank {
	switch {
	case level < 10:
		return sdk.RankEcoNoob
	case level < 20:
		return sdk.RankOptimizer
	case level < 30:
		return sdk.RankGreenArchitect
	default:
		return sdk.RankEnergyMaster
	}
}

func dayOf(t time.Time) string { return t.UTC().Format(dayLayout) }

// gain adds xp and returns the number of levels gained.
func (p *Profile) gain(xp int) int {
	if xp <= 0 {
		return 0
	}
	xp = min(xp, maxXPGrant)
	p.normalize()
	p.XP += xp
	levels := 0
	for p.Level < maxLevel && p.XP >= xpForNextLevel(p.Level) {
		p.XP -= xpForNextLevel(p.Level)
		p.Level++
		levels++
	}
	p.normalize()
	return levels
}

// normalize clamps level and xp into range and recomputes the derived fields.
func (p *Profile) normalize() {
	p.Level = min(max(p.Level, 1), maxLevel)
	p.XPForNextLevel = xpForNextLevel(p.Level)
	p.XP = min(max(p.XP, 0), p.XPForNextLevel-1)
	p.EcoRank = rankFor(p.Level)
	p.Streak = max(p.Streak, 0)
}

// unlock records a, returning false when it was already unlocked.
func (p *Profile) unlock(a sdk.Achievement, now time.Time) bool {
	for _, have := range p.Achievements {
		if have.ID == a.ID {
			return false
		}
	}
	a.Unlocked = true
	if a.UnlockedAt == nil {
		at := now.UTC()
		a.UnlockedAt = &at
	}
	p.Achievements = append(p.Achievements, a)
	p.gain(a.XPReward)
	return true
}

// rollDay starts a fresh Daily when day differs from the one on record.
func (p *Profile) rollDay(day string) {
	if p.Today.Day != day {
		p.Today = Daily{Day: day}
	}
	p.EnergySavedToday = p.Today.EnergySaved
}

// active extends or resets the streak for activity on day.
func (p *Profile) active(now time.Time) {
	day := dayOf(now)
	switch p.LastActiveDay {
	case day:
		if p.Streak < 1 {
			p.Streak = 1
		}
		return
	case dayOf(now.UTC().AddDate(0, 0, -1)):
		p.Streak++
	default:
		p.Streak = 1
	}
	p.LastActiveDay = day
}

// fixed records a hotspot fix and pays out any challenge it completes. It
// returns the ids of those challenges.
func (p *Profile) fixed(h sdk.Hotspot, now time.Time) []string {
	p.rollDay(dayOf(now))
	p.active(now)

	p.HotspotsReduced++
	p.Today.HotspotsFixed++
	if h.EnergyCost > 0 {
		p.Today.EnergySaved += h.EnergyCost
	}
	if h.FileName != "" && !slices.Contains(p.Today.Files, h.FileName) {
		p.Today.Files = append(p.Today.Files, h.FileName)
		p.FilesOptimized++
	}
	p.EnergySavedToday = p.Today.EnergySaved

	var done []string
	for _, c := range dailyChallenges {
		if slices.Contains(p.Today.Completed, c.id) || c.progress(p.Today) < c.target {
			continue
		}
		p.Today.Completed = append(p.Today.Completed, c.id)
		p.gain(c.xp)
		done = append(done, c.id)
	}
	return done
}

// challenges reports today's challenges as of now.
func (p Profile) challenges(now time.Time) []sdk.DailyChallenge {
	d := p.Today
	if d.Day != dayOf(now) {
		d = Daily{}
	}
	out := make([]sdk.DailyChallenge, 0, len(dailyChallenges))
	for _, c := range dailyChallenges {
		out = append(out, sdk.DailyChallenge{
			ID:          c.id,
			Title:       c.title,
			Description: c.desc,
			Progress:    min(c.progress(d), c.target),
			Target:      c.target,
			XPReward:    c.xp,
			Completed:   slices.Contains(d.Completed, c.id),
		})
	}
	return out
}

func (p Profile) clone() Profile {
	p.Achievements = append([]sdk.Achievement(nil), p.Achievements...)
	p.Today.Files = append([]string(nil), p.Today.Files...)
	p.Today.Completed = append([]string(nil), p.Today.Completed...)
	return p
}
