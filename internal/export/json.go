package export

import (
	"encoding/json"
	"fmt"
	"os"

	"mindfield/internal/session"
)

// jsonDocument is the on-disk JSON layout. The session's own JSON tags carry
// the snapshot and marker arrays; this wrapper adds a format version for
// downstream tooling.
type jsonDocument struct {
	FormatVersion int              `json:"format_version"`
	Summary       session.Summary  `json:"summary"`
	Session       *session.Session `json:"session"`
}

// jsonFormatVersion is bumped on breaking layout changes.
const jsonFormatVersion = 1

func writeJSON(path string, sess *session.Session) error {
	doc := jsonDocument{
		FormatVersion: jsonFormatVersion,
		Summary:       sess.Summary,
		Session:       sess,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}
