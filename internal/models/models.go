package models

import "time"

// Record store paths shared by the capture and review flows
const (
	SubmissionsPath = "data"
	SignalPath      = "led"
	ImagePrefix     = "images/"
)

// Submission represents one captured incident as shown in the admin panel
type Submission struct {
	ID         string `json:"id"`
	ImageURL   string `json:"image_url"`
	Timestamp  string `json:"timestamp"`
	Identifier string `json:"identifier"`
}

// TimestampTime parses the stored ISO-8601 timestamp. Unparseable values yield the zero time.
func (s Submission) TimestampTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, s.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IdentifierScheme describes which identifying field a deployment collects
type IdentifierScheme struct {
	Name        string `json:"name"`
	Field       string `json:"field"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Required    bool   `json:"required"`
}

var (
	// VehicleScheme identifies submissions by a free-text vehicle number
	VehicleScheme = IdentifierScheme{
		Name:        "vehicle",
		Field:       "vehicleNumber",
		Label:       "vehicle number",
		Placeholder: "No Vehicle Number",
		Required:    true,
	}

	// EmailScheme identifies submissions by the submitter's email
	EmailScheme = IdentifierScheme{
		Name:        "email",
		Field:       "email",
		Label:       "email",
		Placeholder: "No Email",
		Required:    true,
	}
)

// SchemeByName returns the identifier scheme for a deployment variant
func SchemeByName(name string) (IdentifierScheme, bool) {
	switch name {
	case VehicleScheme.Name:
		return VehicleScheme, true
	case EmailScheme.Name:
		return EmailScheme, true
	}
	return IdentifierScheme{}, false
}

// NewRecord builds the stored representation of a submission
func (s IdentifierScheme) NewRecord(imageURL string, timestamp time.Time, identifier string) map[string]string {
	return map[string]string{
		"imageUrl":  imageURL,
		"timestamp": timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		s.Field:     identifier,
	}
}

// SignalState is the shared approve/disapprove indicator
type SignalState string

const (
	SignalOn  SignalState = "on"
	SignalOff SignalState = "off"
)

// SignalFor maps an approve/disapprove decision to the signal state
func SignalFor(approved bool) SignalState {
	if approved {
		return SignalOn
	}
	return SignalOff
}

// SignalRecord is the value stored at the signal path
type SignalRecord struct {
	LED SignalState `json:"led"`
}
