// Package panel keeps the dashboard view built from host messages and turns
// user actions into requests for the host.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/EchoPBX/energy-bridge/internal/bridge"
	"github.com/EchoPBX/energy-bridge/pkg/sdk"
	"go.uber.org/zap"
)

var ErrInvalidRequest = errors.New("invalid request")

// maxTrendPoints bounds the trend to roughly a month of daily points.
const maxTrendPoints = 30

type View struct {
	Mode       sdk.AnalysisMode     `json:"mode"`
	Summary    *sdk.EnergySummary   `json:"summary,omitempty"`
	Hotspots   []sdk.Hotspot        `json:"hotspots"`
	Files      []sdk.FileAnalysis   `json:"files"`
	Rules      []sdk.RuleStat       `json:"rules"`
	Trend      []sdk.TrendPoint     `json:"trend"`
	Challenges []sdk.DailyChallenge `json:"challenges"`
	Profile    Profile              `json:"profile"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// persisted is the blob handed to the host across reloads.
type persisted struct {
	Mode    sdk.AnalysisMode `json:"mode"`
	Profile Profile          `json:"profile"`
}

type Panel struct {
	b   *bridge.Bridge
	log *zap.Logger
	now func() time.Time

	mu   sync.RWMutex
	view View
	// fixed holds hotspot ids already credited this session.
	fixed map[string]struct{}

	unsubs []func()
}

func New(b *bridge.Bridge, log *zap.Logger) *Panel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Panel{
		b:     b,
		log:   log,
		now:   time.Now,
		view:  View{Mode: sdk.ModeLocal, Profile: newProfile()},
		fixed: make(map[string]struct{}),
	}
}

// Attach subscribes the panel to every host message it renders and restores
// any state the host kept for it.
func (p *Panel) Attach() {
	p.unsubs = append(p.unsubs,
		bridge.On(p.b, sdk.AnalysisResultsTopic, p.onResults),
		bridge.On(p.b, sdk.HotspotData, p.onHotspots),
		bridge.On(p.b, sdk.EnergySummaryTopic, p.onSummary),
		bridge.On(p.b, sdk.FileAnalysisTopic, p.onFiles),
		bridge.On(p.b, sdk.ModeChanged, p.onModeChanged),
		bridge.On(p.b, sdk.AchievementUnlocked, p.onAchievement),
		bridge.On(p.b, sdk.XPGained, p.onXP),
	)
	p.b.OnRestore(func(json.RawMessage) { p.Restore() })
	p.Restore()
}

func (p *Panel) Detach() {
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.unsubs = nil
}

// Snapshot returns a copy of the current view.
func (p *Panel) Snapshot() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v := p.view
	if v.Summary != nil {
		s := *v.Summary
		v.Summary = &s
	}
	v.Hotspots = append([]sdk.Hotspot(nil), v.Hotspots...)
	v.Files = append([]sdk.FileAnalysis(nil), v.Files...)
	v.Rules = append([]sdk.RuleStat(nil), v.Rules...)
	v.Trend = append([]sdk.TrendPoint(nil), v.Trend...)
	v.Profile = v.Profile.clone()
	now := p.now()
	if v.Profile.Today.Day != dayOf(now) {
		v.Profile.EnergySavedToday = 0
	}
	v.Challenges = v.Profile.challenges(now)
	return v
}

// Restore loads mode and profile from the bridge's persisted state, if any.
func (p *Panel) Restore() {
	raw := p.b.PersistedState()
	if len(raw) == 0 {
		return
	}
	var st persisted
	if err := json.Unmarshal(raw, &st); err != nil {
		p.log.Warn("ignoring unreadable persisted state", zap.Error(err))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := sdk.ParseAnalysisMode(string(st.Mode)); err == nil {
		p.view.Mode = st.Mode
	}
	if st.Profile.Level >= 1 {
		st.Profile.normalize()
		p.view.Profile = st.Profile
	}
}

func (p *Panel) RequestAnalysis(ctx context.Context, mode sdk.AnalysisMode) error {
	if mode == "" {
		mode = p.Snapshot().Mode
	}
	if _, err := sdk.ParseAnalysisMode(string(mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return bridge.Publish(ctx, p.b, sdk.RequestAnalysis, sdk.AnalysisRequest{Mode: mode})
}

// FixHotspot asks the host to fix a hotspot. A hotspot that is in the current
// view is credited to the profile once, on the first successful request.
func (p *Panel) FixHotspot(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: hotspot id is required", ErrInvalidRequest)
	}
	if err := bridge.Publish(ctx, p.b, sdk.FixHotspot, sdk.FixRequest{HotspotID: id}); err != nil {
		return err
	}

	p.mu.Lock()
	i := slices.IndexFunc(p.view.Hotspots, func(h sdk.Hotspot) bool { return h.ID == id })
	_, seen := p.fixed[id]
	if i < 0 || seen {
		p.mu.Unlock()
		return nil
	}
	p.fixed[id] = struct{}{}
	done := p.view.Profile.fixed(p.view.Hotspots[i], p.now())
	p.touch()
	p.mu.Unlock()

	for _, c := range done {
		p.log.Info("daily challenge completed", zap.String("id", c))
	}
	p.persist(ctx)
	return nil
}

func (p *Panel) OpenFile(ctx context.Context, fileName string, line int) error {
	if fileName == "" {
		return fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	}
	if line < 1 {
		line = 1
	}
	return bridge.Publish(ctx, p.b, sdk.OpenFile, sdk.OpenFileRequest{FileName: fileName, LineNumber: line})
}

// SetMode records the preferred analysis mode and tells the host about it.
func (p *Panel) SetMode(ctx context.Context, mode sdk.AnalysisMode) error {
	if _, err := sdk.ParseAnalysisMode(string(mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	p.mu.Lock()
	p.view.Mode = mode
	p.mu.Unlock()
	if err := bridge.Publish(ctx, p.b, sdk.SetAnalysisMode, sdk.ModeChange{Mode: mode}); err != nil {
		return err
	}
	p.persist(ctx)
	return nil
}

func (p *Panel) persist(ctx context.Context) {
	p.mu.RLock()
	st := persisted{Mode: p.view.Mode, Profile: p.view.Profile.clone()}
	p.mu.RUnlock()
	raw, err := json.Marshal(st)
	if err != nil {
		p.log.Error("encode panel state", zap.Error(err))
		return
	}
	if err := p.b.SetPersistedState(ctx, raw); err != nil {
		p.log.Warn("persist panel state", zap.Error(err))
	}
}

func (p *Panel) touch() { p.view.UpdatedAt = p.now().UTC() }

func (p *Panel) onResults(r sdk.AnalysisResults) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := r.Summary
	p.view.Summary = &s
	p.view.Hotspots = sortHotspots(r.Hotspots)
	p.view.Rules = ruleStats(p.view.Hotspots)
	p.view.Files = sortFiles(r.Files)
	p.addTrend(s)
	p.touch()
}

func (p *Panel) onHotspots(hs []sdk.Hotspot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view.Hotspots = sortHotspots(hs)
	p.view.Rules = ruleStats(p.view.Hotspots)
	p.touch()
}

func (p *Panel) onSummary(s sdk.EnergySummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view.Summary = &s
	p.addTrend(s)
	p.touch()
}

// addTrend records s as the point for its day, replacing an earlier point
// for the same day. Summaries without a timestamp count as now.
func (p *Panel) addTrend(s sdk.EnergySummary) {
	at := s.Timestamp
	if at.IsZero() {
		at = p.now()
	}
	pt := sdk.TrendPoint{Date: dayOf(at), Score: s.AverageScore, Energy: s.TotalEnergy}
	tr := p.view.Trend
	i, found := slices.BinarySearchFunc(tr, pt.Date, func(e sdk.TrendPoint, d string) int {
		return strings.Compare(e.Date, d)
	})
	if found {
		tr = append([]sdk.TrendPoint(nil), tr...)
		tr[i] = pt
	} else {
		tr = slices.Insert(append([]sdk.TrendPoint(nil), tr...), i, pt)
	}
	if len(tr) > maxTrendPoints {
		tr = tr[len(tr)-maxTrendPoints:]
	}
	p.view.Trend = tr
}

// onFiles upserts by file name.
func (p *Panel) onFiles(files []sdk.FileAnalysis) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byName := make(map[string]int, len(p.view.Files))
	for i, f := range p.view.Files {
		byName[f.FileName] = i
	}
	merged := append([]sdk.FileAnalysis(nil), p.view.Files...)
	for _, f := range files {
		if i, ok := byName[f.FileName]; ok {
			merged[i] = f
			continue
		}
		byName[f.FileName] = len(merged)
		merged = append(merged, f)
	}
	p.view.Files = sortFiles(merged)
	p.touch()
}

func (p *Panel) onModeChanged(m sdk.ModeChange) {
	if _, err := sdk.ParseAnalysisMode(string(m.Mode)); err != nil {
		p.log.Warn("ignoring unknown mode from host", zap.String("mode", string(m.Mode)))
		return
	}
	p.mu.Lock()
	p.view.Mode = m.Mode
	p.touch()
	p.mu.Unlock()
}

func (p *Panel) onAchievement(a sdk.Achievement) {
	if a.ID == "" {
		p.log.Warn("ignoring achievement without id")
		return
	}
	p.mu.Lock()
	added := p.view.Profile.unlock(a, p.now())
	if added {
		p.view.Profile.active(p.now())
		p.touch()
	}
	p.mu.Unlock()
	if added {
		p.log.Info("achievement unlocked", zap.String("id", a.ID), zap.Int("xp", a.XPReward))
		p.persist(context.Background())
	}
}

func (p *Panel) onXP(x sdk.XPGain) {
	if x.Amount <= 0 {
		return
	}
	p.mu.Lock()
	levels := p.view.Profile.gain(x.Amount)
	p.view.Profile.active(p.now())
	level := p.view.Profile.Level
	p.touch()
	p.mu.Unlock()
	if levels > 0 {
		p.log.Info("level up", zap.Int("level", level))
	}
	p.persist(context.Background())
}

// sortHotspots orders by severity, then by energy cost descending.
func sortHotspots(in []sdk.Hotspot) []sdk.Hotspot {
	out := append([]sdk.Hotspot(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri < rj
		}
		return out[i].EnergyCost > out[j].EnergyCost
	})
	return out
}

// ruleStats groups hotspots by rule, heaviest energy impact first.
func ruleStats(hs []sdk.Hotspot) []sdk.RuleStat {
	idx := make(map[string]int)
	var out []sdk.RuleStat
	for _, h := range hs {
		rule := h.Rule
		if rule == "" {
			rule = "unknown"
		}
		i, ok := idx[rule]
		if !ok {
			i = len(out)
			idx[rule] = i
			out = append(out, sdk.RuleStat{Rule: rule})
		}
		out[i].Count++
		out[i].EnergyImpact += h.EnergyCost
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EnergyImpact != out[j].EnergyImpact {
			return out[i].EnergyImpact > out[j].EnergyImpact
		}
		return out[i].Rule < out[j].Rule
	})
	return out
}

// sortFiles puts the least efficient files first.
func sortFiles(in []sdk.FileAnalysis) []sdk.FileAnalysis {
	out := append([]sdk.FileAnalysis(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EfficiencyScore < out[j].EfficiencyScore
	})
	return out
}
