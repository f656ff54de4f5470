package index

import (
	"fmt"
	"strings"
)

// UpdateMode selects the writer tuning profile used for an operation.
type UpdateMode int

const (
	Interactive UpdateMode = iota
	Batch
)

func (m UpdateMode) String() string {
	switch m {
	case Interactive:
		return "interactive"
	case Batch:
		return "batch"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Escalate returns Batch if either mode is Batch.
func (m UpdateMode) Escalate(other UpdateMode) UpdateMode {
	if m == Batch || other == Batch {
		return Batch
	}
	return Interactive
}

// ParseUpdateMode accepts "interactive" or "batch" in any case; empty means
// Interactive.
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "interactive":
		return Interactive, nil
	case "batch":
		return Batch, nil
	default:
		return Interactive, fmt.Errorf("unknown update mode %q", s)
	}
}

// FlushPolicy controls what the engine does with the writer after each write.
type FlushPolicy int

const (
	FlushNone FlushPolicy = iota
	FlushCommit
	FlushClose
)

func (p FlushPolicy) String() string {
	switch p {
	case FlushNone:
		return "none"
	case FlushCommit:
		return "flush"
	case FlushClose:
		return "close"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseFlushPolicy accepts "none", "flush" or "close"; empty means flush.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return FlushNone, nil
	case "", "flush":
		return FlushCommit, nil
	case "close":
		return FlushClose, nil
	default:
		return FlushNone, fmt.Errorf("unknown flush policy %q", s)
	}
}

// Settings are the tuning knobs applied when a writer is opened.
type Settings struct {
	MergeFactor     int
	MaxBufferedDocs int
	MaxMergeDocs    int
	MaxFieldLength  int
}

// Profiles holds the writer settings for each update mode.
type Profiles struct {
	Interactive Settings
	Batch       Settings
}

// DefaultProfiles favors small, quickly visible segments for Interactive and
// large buffers with infrequent merges for Batch.
func DefaultProfiles() Profiles {
	return Profiles{
		Interactive: Settings{
			MergeFactor:     4,
			MaxBufferedDocs: 300,
			MaxMergeDocs:    5000,
			MaxFieldLength:  1000000,
		},
		Batch: Settings{
			MergeFactor:     50,
			MaxBufferedDocs: 10000,
			MaxMergeDocs:    1000000,
			MaxFieldLength:  1000000,
		},
	}
}

// For returns the settings used by writers opened in mode.
func (p Profiles) For(mode UpdateMode) Settings {
	if mode == Batch {
		return p.Batch
	}
	return p.Interactive
}
