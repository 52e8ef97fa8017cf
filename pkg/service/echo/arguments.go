package echo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
)

// Arguments is a service's echo configuration (the Go shape of the
// original's EchoArguments): which peer services to ping, on what
// cadence, with how much jitter, and how often to simulate a failure.
type Arguments struct {
	Peers     []string
	Frequency time.Duration
	Jitter    time.Duration
	ErrorRate float32
}

// DefaultFrequency matches the original's service default cadence.
const DefaultFrequency = 10 * time.Second

// ToStoreArguments converts Arguments to the ordered (key, value) list
// a circuit roster entry carries (§3 "Argument ... Position"), the
// inverse of FromStoreArguments.
func ToStoreArguments(a Arguments) []store.Argument {
	return []store.Argument{
		{Key: "peer_services", Value: strings.Join(a.Peers, ","), Position: 0},
		{Key: "frequency", Value: strconv.FormatInt(int64(a.Frequency/time.Second), 10), Position: 1},
		{Key: "jitter", Value: strconv.FormatInt(int64(a.Jitter/time.Second), 10), Position: 2},
		{Key: "error_rate", Value: strconv.FormatFloat(float64(a.ErrorRate), 'f', -1, 32), Position: 3},
	}
}

// FromStoreArguments parses a roster entry's ordered arguments back into
// Arguments, defaulting frequency to DefaultFrequency when absent.
func FromStoreArguments(args []store.Argument) (Arguments, error) {
	out := Arguments{Frequency: DefaultFrequency}
	for _, arg := range args {
		switch arg.Key {
		case "peer_services":
			if arg.Value != "" {
				out.Peers = strings.Split(arg.Value, ",")
			}
		case "frequency":
			secs, err := strconv.ParseInt(arg.Value, 10, 64)
			if err != nil {
				return Arguments{}, fmt.Errorf("echo: invalid frequency %q: %w", arg.Value, err)
			}
			out.Frequency = time.Duration(secs) * time.Second
		case "jitter":
			secs, err := strconv.ParseInt(arg.Value, 10, 64)
			if err != nil {
				return Arguments{}, fmt.Errorf("echo: invalid jitter %q: %w", arg.Value, err)
			}
			out.Jitter = time.Duration(secs) * time.Second
		case "error_rate":
			rate, err := strconv.ParseFloat(arg.Value, 32)
			if err != nil {
				return Arguments{}, fmt.Errorf("echo: invalid error_rate %q: %w", arg.Value, err)
			}
			out.ErrorRate = float32(rate)
		default:
			return Arguments{}, fmt.Errorf("%w: %q", ErrUnknownArgument, arg.Key)
		}
	}
	return out, nil
}

// ErrUnknownArgument is returned by FromStoreArguments for an
// unrecognized key.
var ErrUnknownArgument = fmt.Errorf("echo: unknown argument")
