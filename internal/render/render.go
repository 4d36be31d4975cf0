// Package render turns a machine profile into the collector's configuration
// text and manages the per-machine configuration file on disk.
//
// Render is pure. Writer owns the file side effects: replace-on-reconfigure,
// temp-file + rename so a watching collector never sees a partial write,
// and fsync before returning.
package render

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/plc-datalink/rfc1006/internal/models"
)

// DedupInterval is the fixed window of the deduplication processor.
const DedupInterval = "86400s"

// Options carries the environment-dependent parts of the rendered file.
type Options struct {
	// LogDir is the directory the collector writes <machine>.log into.
	LogDir string
}

// Render produces the five-section configuration document for p:
// agent, input, one metric block per tag, dedup processor, output.
func Render(p models.MachineProfile, opts Options) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	sections := []string{
		agentSection(p, opts),
		inputSection(p),
		metricSection(p),
		dedupSection(),
		outputSection(p),
	}
	return strings.Join(sections, "\n"), nil
}

func agentSection(p models.MachineProfile, opts Options) string {
	a := p.Agent
	logFile := filepath.Join(opts.LogDir, p.Name()+".log")
	return lines(
		"# agent Configuration",
		"[agent]",
		"  interval = "+quote(strconv.Itoa(p.Connection.RequestInterval)+"s"),
		"  round_interval = "+boolean(a.RoundInterval),
		"  hostname = "+quote(a.Hostname),
		"  flush_interval = "+quote(a.FlushInterval),
		"  metric_batch_size = 100",
		"  metric_buffer_limit = 1000",
		"  log_with_timezone = "+quote(a.LogTimezone),
		"  quiet = "+boolean(a.Quiet),
		"  debug = true",
		"  logtarget = "+quote("file"),
		"  logfile = "+quote(logFile),
		"  logfile_rotation_max_size = "+quote("25MB"),
		"  logfile_rotation_max_archives = 1",
	)
}

func inputSection(p models.MachineProfile) string {
	c := p.Connection
	return lines(
		"# inputs.s7comm Configuration",
		"[[inputs.s7comm]]",
		"  server = "+quote(serverAddr(c.PLCIP, c.PLCPort)),
		"  rack = "+strconv.Itoa(c.PLCRack),
		"  slot = "+strconv.Itoa(c.PLCSlot),
		"  timeout = "+quote(c.RequestTimeout),
		"  pdu_size = "+strconv.Itoa(c.PDUSize),
		"  debug_connection = false",
	)
}

// metricSection renders the tags in profile order. With no tags the section
// is empty but still occupies its slot in the document.
func metricSection(p models.MachineProfile) string {
	name := p.Name()
	var out []string
	for _, tag := range p.Tags {
		field := name + "." + tag.Name
		out = append(out,
			"  [[inputs.s7comm.metric]]",
			fmt.Sprintf("    fields = [{ name=%s, address=%s }]", quote(field), quote(tag.Address)),
			"    [inputs.s7comm.metric.tags]",
			"      machine = "+quote(name+"_"+field),
			"",
		)
	}
	return strings.Join(out, "\n")
}

func dedupSection() string {
	return lines(
		"# Filter metrics with repeating field values",
		"[[processors.dedup]]",
		"  dedup_interval = "+quote(DedupInterval),
	)
}

func outputSection(p models.MachineProfile) string {
	s := p.Sink
	broker := "tcp://" + s.BrokerIP + ":" + strconv.Itoa(s.BrokerPort)
	return lines(
		"# MQTT Configuration",
		"[[outputs.mqtt]]",
		"  servers = ["+quote(broker)+"]",
		"  topic = "+quote(s.Topic),
		"  data_format = "+quote(s.DataFormat),
		"  layout = "+quote(s.Layout),
		"  json_timestamp_units = "+quote(s.TimestampUnits),
	)
}

// lines joins the section body and terminates it with an empty line.
func lines(l ...string) string {
	return strings.Join(append(l, ""), "\n")
}

func serverAddr(ip string, port int) string {
	if port == 0 {
		return ip
	}
	return ip + ":" + strconv.Itoa(port)
}

var basicStringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// quote renders a TOML basic string.
func quote(s string) string {
	return `"` + basicStringEscaper.Replace(s) + `"`
}

func boolean(b bool) string {
	return strconv.FormatBool(b)
}
