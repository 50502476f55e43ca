// Package event defines the wire and storage types that flow from a browser
// SDK payload through enrichment into the columnar store.
package event

// ActionType is the closed vocabulary of action kinds a session payload may
// carry.
type ActionType string

const (
	ActionPageview ActionType = "pageview"
	ActionGoal     ActionType = "goal"
)

// Action is one entry in a SessionPayload's ordered action list. Only the
// fields relevant to its Type are populated by the client; unused fields
// are left at their zero value.
type Action struct {
	Type ActionType `json:"type"`

	// Pageview fields.
	Path       string `json:"path"`
	PageNumber int    `json:"page_number"`
	Duration   int    `json:"duration"`
	Scroll     int    `json:"scroll"`
	EnteredAt  int64  `json:"entered_at"`
	ExitedAt   int64  `json:"exited_at"`

	// Goal fields.
	Name       string         `json:"name"`
	Timestamp  int64          `json:"timestamp"`
	Value      *float64       `json:"value,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Attributes carries the session-scoped descriptive data a client typically
// sends with its first payload and omits afterward.
type Attributes struct {
	LandingPage string `json:"landing_page"`
	Referrer    string `json:"referrer"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`
	UTMID       string `json:"utm_id"`
	UTMIDFrom   string `json:"utm_id_from"`

	ScreenWidth    int `json:"screen_width"`
	ScreenHeight   int `json:"screen_height"`
	ViewportWidth  int `json:"viewport_width"`
	ViewportHeight int `json:"viewport_height"`

	Device         string `json:"device"`
	Browser        string `json:"browser"`
	BrowserType    string `json:"browser_type"`
	OS             string `json:"os"`
	UserAgent      string `json:"user_agent"`
	ConnectionType string `json:"connection_type"`
	Language       string `json:"language"`
	Timezone       string `json:"timezone"`
}

// SessionPayload is the deserialized form of the ingest endpoint's request
// body.
type SessionPayload struct {
	WorkspaceID string            `json:"workspace_id"`
	SessionID   string            `json:"session_id"`
	Actions     []Action          `json:"actions"`
	Checkpoint  *int              `json:"checkpoint,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	UpdatedAt   int64             `json:"updated_at"`
	SDKVersion  string            `json:"sdk_version,omitempty"`
	UserID      *string           `json:"user_id,omitempty"`
	Dimensions  map[string]string `json:"dimensions,omitempty"`
	Attributes  *Attributes       `json:"attributes,omitempty"`
}

// StartCheckpoint returns the checkpoint the payload declares, defaulting
// to -1 when absent.
func (p *SessionPayload) StartCheckpoint() int {
	if p.Checkpoint == nil {
		return -1
	}
	return *p.Checkpoint
}

// GeoInfo is the result of an IP-to-geo lookup, already subject to a
// workspace's suppression/precision settings.
type GeoInfo struct {
	Country   string
	City      string
	Region    string
	Latitude  float64
	Longitude float64
	HasCoords bool
}

// TrackingEvent is one row destined for the columnar store's events table.
type TrackingEvent struct {
	SessionID   string
	WorkspaceID string
	ReceivedAt  int64
	CreatedAt   int64
	UpdatedAt   int64
	Version     int64
	DedupToken  string
	Name        string // "screen_view" | "goal"

	// Traffic source / session attributes.
	ReferrerDomain string
	ReferrerPath   string
	IsDirect       bool
	LandingPage    string

	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMTerm     string
	UTMContent  string
	UTMID       string
	UTMIDFrom   string

	Device         string
	Browser        string
	BrowserType    string
	OS             string
	UserAgent      string
	ConnectionType string
	Language       string
	Timezone       string
	SDKVersion     string
	UserID         string

	Channel                       string
	ChannelGroup                  string
	Stm1, Stm2, Stm3, Stm4, Stm5  string
	Stm6, Stm7, Stm8, Stm9, Stm10 string

	Country   string
	City      string
	Region    string
	Latitude  float64
	Longitude float64

	// Pageview-only.
	Path         string
	PreviousPath string
	PageNumber   int
	Duration     int
	MaxScroll    int
	PageDuration int
	EnteredAt    int64
	ExitedAt     int64

	// Goal-only.
	GoalName      string
	GoalValue     float64
	GoalTimestamp string
	Properties    map[string]any
}

// FieldValue returns the string representation of one of the event's
// filter-readable source fields, used by the live evaluator. Unknown
// fields read as missing.
func (e *TrackingEvent) FieldValue(field string) (string, bool) {
	switch field {
	case "utm_source":
		return e.UTMSource, e.UTMSource != ""
	case "utm_medium":
		return e.UTMMedium, e.UTMMedium != ""
	case "utm_campaign":
		return e.UTMCampaign, e.UTMCampaign != ""
	case "utm_term":
		return e.UTMTerm, e.UTMTerm != ""
	case "utm_content":
		return e.UTMContent, e.UTMContent != ""
	case "utm_id":
		return e.UTMID, e.UTMID != ""
	case "utm_id_from":
		return e.UTMIDFrom, e.UTMIDFrom != ""
	case "referrer_domain":
		return e.ReferrerDomain, e.ReferrerDomain != ""
	case "referrer_path":
		return e.ReferrerPath, e.ReferrerPath != ""
	case "landing_page":
		return e.LandingPage, e.LandingPage != ""
	case "path":
		return e.Path, e.Path != ""
	case "device":
		return e.Device, e.Device != ""
	case "browser":
		return e.Browser, e.Browser != ""
	case "browser_type":
		return e.BrowserType, e.BrowserType != ""
	case "os":
		return e.OS, e.OS != ""
	case "user_agent":
		return e.UserAgent, e.UserAgent != ""
	case "connection_type":
		return e.ConnectionType, e.ConnectionType != ""
	case "language":
		return e.Language, e.Language != ""
	case "timezone":
		return e.Timezone, e.Timezone != ""
	case "is_direct":
		if e.IsDirect {
			return "true", true
		}
		return "false", true
	}
	return "", false
}

// SetDimension writes a WritableDimension by name, coercing is_direct back
// from the filter engine's string output to a bool.
func (e *TrackingEvent) SetDimension(dim, value string) {
	switch dim {
	case "channel":
		e.Channel = value
	case "channel_group":
		e.ChannelGroup = value
	case "referrer_domain":
		e.ReferrerDomain = value
	case "is_direct":
		e.IsDirect = value == "true"
	case "stm_1":
		e.Stm1 = value
	case "stm_2":
		e.Stm2 = value
	case "stm_3":
		e.Stm3 = value
	case "stm_4":
		e.Stm4 = value
	case "stm_5":
		e.Stm5 = value
	case "stm_6":
		e.Stm6 = value
	case "stm_7":
		e.Stm7 = value
	case "stm_8":
		e.Stm8 = value
	case "stm_9":
		e.Stm9 = value
	case "stm_10":
		e.Stm10 = value
	case "utm_source":
		e.UTMSource = value
	case "utm_medium":
		e.UTMMedium = value
	case "utm_campaign":
		e.UTMCampaign = value
	case "utm_term":
		e.UTMTerm = value
	case "utm_content":
		e.UTMContent = value
	case "utm_id":
		e.UTMID = value
	case "utm_id_from":
		e.UTMIDFrom = value
	}
}

// DimensionValue returns a writable dimension's current value, used by
// set_default_value operations to decide whether a write is still needed.
// Unknown dimensions read as empty.
func (e *TrackingEvent) DimensionValue(dim string) string {
	switch dim {
	case "channel":
		return e.Channel
	case "channel_group":
		return e.ChannelGroup
	case "referrer_domain":
		return e.ReferrerDomain
	case "is_direct":
		if e.IsDirect {
			return "true"
		}
		return "false"
	case "stm_1":
		return e.Stm1
	case "stm_2":
		return e.Stm2
	case "stm_3":
		return e.Stm3
	case "stm_4":
		return e.Stm4
	case "stm_5":
		return e.Stm5
	case "stm_6":
		return e.Stm6
	case "stm_7":
		return e.Stm7
	case "stm_8":
		return e.Stm8
	case "stm_9":
		return e.Stm9
	case "stm_10":
		return e.Stm10
	case "utm_source":
		return e.UTMSource
	case "utm_medium":
		return e.UTMMedium
	case "utm_campaign":
		return e.UTMCampaign
	case "utm_term":
		return e.UTMTerm
	case "utm_content":
		return e.UTMContent
	case "utm_id":
		return e.UTMID
	case "utm_id_from":
		return e.UTMIDFrom
	}
	return ""
}

// WritableDimensions is the closed vocabulary of dimensions a FilterOperation
// may target, in a stable order used by the SQL compiler.
var WritableDimensions = []string{
	"channel", "channel_group",
	"stm_1", "stm_2", "stm_3", "stm_4", "stm_5",
	"stm_6", "stm_7", "stm_8", "stm_9", "stm_10",
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"utm_id", "utm_id_from",
	"referrer_domain", "is_direct",
}
