package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Announcement is the capability descriptor a server publishes on start
// and clients consume during discovery. Immutable once published.
type Announcement struct {
	Identity        string
	Name            string
	About           string
	AcceptedActions []string
	MaxFileSize     uint64
	ChunkSize       int
	RetentionSecs   int64
}

// announcementBody is the JSON content of an announcement envelope.
type announcementBody struct {
	Name            string   `json:"name"`
	About           string   `json:"about"`
	AcceptedActions []string `json:"accepted_actions"`
}

// Envelope wraps the announcement into a wire envelope. Numeric limits ride
// as tags so clients can filter servers without parsing content.
func (a *Announcement) Envelope() (*Envelope, error) {
	content, err := json.Marshal(announcementBody{
		Name:            a.Name,
		About:           a.About,
		AcceptedActions: a.AcceptedActions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode announcement: %w", err)
	}
	tags := [][]string{
		{TagAddress, ServiceAddress},
		{"max_file_size", strconv.FormatUint(a.MaxFileSize, 10)},
		{"chunk_size", strconv.Itoa(a.ChunkSize)},
		{"retention_seconds", strconv.FormatInt(a.RetentionSecs, 10)},
	}
	return NewEnvelope(KindAnnouncement, a.Identity, string(content), tags), nil
}

// ParseAnnouncement validates an announcement envelope into its typed form.
func ParseAnnouncement(env *Envelope) (*Announcement, error) {
	if env.Tag(TagAddress) != ServiceAddress {
		return nil, fmt.Errorf("announcement is not for %s: %q", ServiceAddress, env.Tag(TagAddress))
	}

	var body announcementBody
	if err := json.Unmarshal([]byte(env.Content), &body); err != nil {
		return nil, fmt.Errorf("failed to decode announcement content: %w", err)
	}

	a := &Announcement{
		Identity:        env.From,
		Name:            body.Name,
		About:           body.About,
		AcceptedActions: body.AcceptedActions,
	}

	if v := env.Tag("max_file_size"); v != "" {
		size, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("announcement has invalid max_file_size tag: %q", v)
		}
		a.MaxFileSize = size
	}
	if v := env.Tag("chunk_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("announcement has invalid chunk_size tag: %q", v)
		}
		a.ChunkSize = size
	}
	if v := env.Tag("retention_seconds"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("announcement has invalid retention_seconds tag: %q", v)
		}
		a.RetentionSecs = secs
	}

	return a, nil
}
