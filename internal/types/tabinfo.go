package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// TabID identifies an inspected browser tab. Routing entries in the relay
// hub are keyed by it.
type TabID int64

func (t TabID) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// ParseTabID parses a decimal tab identifier as found in connection metadata.
func ParseTabID(s string) (TabID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tab id %q: %w", s, err)
	}
	return TabID(n), nil
}

// UnmarshalJSON accepts both numeric and quoted tab ids.
func (t *TabID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("tab id: %w", err)
	}
	v, err := ParseTabID(n.String())
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// TabInfo holds metadata about the browser target an agent is attached to.
type TabInfo struct {
	TabID    TabID
	TargetID string
	URL      string
}

// Registration is a handle returned by anything that attaches a listener.
// Deregister detaches it; calling it more than once is a no-op.
type Registration interface {
	Deregister()
}

// RegistrationFunc adapts a plain function to Registration.
type RegistrationFunc func()

func (f RegistrationFunc) Deregister() { f() }
