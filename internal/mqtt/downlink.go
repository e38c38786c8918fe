package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/presence-sensor/internal/event"
)

// Downlink parse errors.
var (
	ErrUnknownTopic   = errors.New("mqtt: unrecognized config topic")
	ErrInvalidPayload = errors.New("mqtt: invalid config payload")
)

// ParseDownlink converts a configuration message into a device event.
//
// The enabled topic accepts "true" or "false" in any case. The delay topic
// accepts a positive integer number of seconds; the dispatcher applies the
// upper bound.
func ParseDownlink(topics Topics, topic string, payload []byte) (event.Event, error) {
	value := strings.TrimSpace(string(payload))

	switch topic {
	case topics.EnabledTopic():
		switch {
		case strings.EqualFold(value, "true"):
			return event.DetectionToggled{Enabled: true}, nil
		case strings.EqualFold(value, "false"):
			return event.DetectionToggled{Enabled: false}, nil
		}
		return nil, fmt.Errorf("%w: enabled %q", ErrInvalidPayload, value)

	case topics.DelayTopic():
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: delay %q", ErrInvalidPayload, value)
		}
		return event.GracePeriodChanged{Seconds: n}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}
