package client

import "strings"

// PublicEntry is the only registry view that is safe to publish. It never
// carries endpoint URLs, traps, replies or owner contact details.
type PublicEntry struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Detail    string `json:"detail"`
	LastCheck string `json:"last_check"`
}

// PublicView is the published status artifact.
type PublicView []PublicEntry

// PublicViewOptions controls how the public view is derived.
type PublicViewOptions struct {
	// MaskNames replaces display names with an anonymous agent label and the
	// detail with a generic status line.
	MaskNames bool
}

const (
	maskedNamePrefix   = "NEURAL-AGENT-"
	maskedDetailPrefix = "Vigilis Neural: "
)

// NewPublicView derives the sanitized view of the given records, in order.
func NewPublicView(records []Record, opts PublicViewOptions) PublicView {
	view := make(PublicView, 0, len(records))
	for _, rec := range records {
		name, detail := rec.Name, rec.Detail
		if opts.MaskNames {
			name = MaskedName(rec.ID)
			detail = maskedDetailPrefix + rec.CurrentStatus().String()
		}
		view = append(view, PublicEntry{
			ID:        rec.ID,
			Name:      name,
			Status:    rec.CurrentStatus(),
			Detail:    detail,
			LastCheck: rec.LastCheck,
		})
	}
	return view
}

// MaskedName returns the anonymous label for a client id.
func MaskedName(id ID) string {
	s := strings.TrimSpace(id.String())
	if r := []rune(s); len(r) > 4 {
		s = string(r[:4])
	}
	return maskedNamePrefix + strings.ToUpper(s)
}
