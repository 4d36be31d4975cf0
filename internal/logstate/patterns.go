package logstate

import "regexp"

// EventClass is the effect a log event has on the connection verdict.
type EventClass int

const (
	// Ignored events are informational and never change state.
	Ignored EventClass = iota
	// Connect events show that values are being read from the PLC.
	Connect
	// Disconnect events show that the collector lost or never reached the PLC.
	Disconnect
)

// Pattern is a named collector log event.
type Pattern struct {
	Name  string
	Class EventClass
	re    *regexp.Regexp
}

// Patterns are the collector log events the inferrer recognizes.
var Patterns = []Pattern{
	{"init_plugins", Ignored, regexp.MustCompile(`\[agent\] Initializing plugins`)},
	{"connected_outputs", Ignored, regexp.MustCompile(`\[agent\] Successfully connected to outputs\.mqtt`)},
	{"start_service", Ignored, regexp.MustCompile(`\[agent\] Starting service inputs`)},
	{"successful_connection", Ignored, regexp.MustCompile(`\[inputs\.s7comm\] Connecting to "[\d.]+:\d+"...`)},
	{"data_received", Connect, regexp.MustCompile(`\[inputs\.s7comm\]   got \[\d+\] for field`)},
	{"error_timeout", Disconnect, regexp.MustCompile(`Error in plugin: connecting to .* failed: dial tcp .* i/o timeout`)},
	{"error_reading_failed", Disconnect, regexp.MustCompile(`reading batch \d+ failed: Connection to address .* is null; reconnecting...`)},
	{"error_agent_running", Disconnect, regexp.MustCompile(`Error running agent: starting input inputs\.s7comm: connecting to .* failed: dial tcp .* i/o timeout`)},
	{"agent_stopping", Disconnect, regexp.MustCompile(`I! \[agent\] Stopping running outputs`)},
	{"agent_stopped", Disconnect, regexp.MustCompile(`D! \[agent\] Stopped Successfully`)},
}

// Classify reports whether line carries a connect or disconnect event.
// A line that matches both kinds counts as both.
func Classify(line string) (connect, disconnect bool) {
	for _, p := range Patterns {
		if p.Class == Ignored || !p.re.MatchString(line) {
			continue
		}
		switch p.Class {
		case Connect:
			connect = true
		case Disconnect:
			disconnect = true
		}
	}
	return connect, disconnect
}

// Match returns the names of all patterns matching line.
func Match(line string) []string {
	var names []string
	for _, p := range Patterns {
		if p.re.MatchString(line) {
			names = append(names, p.Name)
		}
	}
	return names
}
