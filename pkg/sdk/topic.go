package sdk

// Topic binds a message type name to the Go type of its payload.
type Topic[T any] struct {
	Name string
}

func (t Topic[T]) String() string { return t.Name }

// UI -> host.
var (
	RequestAnalysis = Topic[AnalysisRequest]{"requestAnalysis"}
	FixHotspot      = Topic[FixRequest]{"fixHotspot"}
	OpenFile        = Topic[OpenFileRequest]{"openFile"}
	SetAnalysisMode = Topic[ModeChange]{"setAnalysisMode"}
)

// Host -> UI.
var (
	AnalysisResultsTopic = Topic[AnalysisResults]{"analysisResults"}
	HotspotData          = Topic[[]Hotspot]{"hotspotData"}
	EnergySummaryTopic   = Topic[EnergySummary]{"energySummary"}
	FileAnalysisTopic    = Topic[[]FileAnalysis]{"fileAnalysis"}
	ModeChanged          = Topic[ModeChange]{"modeChanged"}
	AchievementUnlocked  = Topic[Achievement]{"achievementUnlocked"}
	XPGained             = Topic[XPGain]{"xpGained"}
)

// Reserved types handled by the bridge itself and never dispatched to subscribers.
const (
	TypeSetState     = "setState"
	TypeRestoreState = "restoreState"
)
