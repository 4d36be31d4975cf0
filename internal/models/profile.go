// Package models defines the machine profile and the transient process and
// connection state structures shared by the lifecycle components.
// Profiles are serialized to JSON using the persisted document layout
// (agent / machineData / mqttData / plcTagData).
package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/plc-datalink/rfc1006/internal/apperr"
)

// MachineProfile is the configuration unit for one machine: a PLC connection,
// the MQTT sink it publishes to and the ordered list of tags to poll.
type MachineProfile struct {
	Agent      AgentSettings    `json:"agent"`
	Connection ConnectionParams `json:"machineData"`
	Sink       SinkParams       `json:"mqttData"`
	Tags       []Tag            `json:"plcTagData"`
}

// AgentSettings holds the collector-wide agent options.
type AgentSettings struct {
	FlushInterval string `json:"flushInterval"`
	Hostname      string `json:"hostname"`
	LogTimezone   string `json:"logTimezone"`
	Quiet         bool   `json:"quiet"`
	RoundInterval bool   `json:"roundInterval"`
}

// ConnectionParams describes the PLC endpoint. MachineName is the primary
// identifier and names the machine's files on disk.
type ConnectionParams struct {
	MachineName     string `json:"machineName"`
	MachineState    string `json:"machineState"`
	PDUSize         int    `json:"pduSize"`
	PLCIP           string `json:"plcIp"`
	PLCPort         int    `json:"plcPort"`
	PLCRack         int    `json:"plcRack"`
	PLCSlot         int    `json:"plcSlot"`
	RequestInterval int    `json:"requestInterval"`
	RequestTimeout  string `json:"requestS7commTimeout"`
}

// SinkParams describes the MQTT output.
type SinkParams struct {
	DataFormat     string `json:"mqttDataFormat"`
	BrokerIP       string `json:"mqttIp"`
	TimestampUnits string `json:"mqttJsonTimestampUnits"`
	Layout         string `json:"mqttLayout"`
	BrokerPort     int    `json:"mqttPort"`
	Topic          string `json:"mqttTopic"`
}

// Tag is a named PLC register address.
type Tag struct {
	Address string `json:"tagAddress"`
	Name    string `json:"tagName"`
}

// Defaults applied to optional document members.
const (
	DefaultFlushInterval  = "1s"
	DefaultHostname       = "PLC Datalink RFC1006"
	DefaultLogTimezone    = "local"
	DefaultMachineState   = "OFF"
	DefaultRequestTimeout = "10s"
	DefaultDataFormat     = "json"
	DefaultTimestampUnits = "1ms"
	DefaultLayout         = "non-batch"
)

// Name returns the machine name.
func (p MachineProfile) Name() string { return p.Connection.MachineName }

// Validate checks the invariants the renderer and the lifecycle controller
// rely on. It returns an apperr validation error naming the first bad field.
func (p MachineProfile) Validate() error {
	if err := ValidateMachineName(p.Connection.MachineName); err != nil {
		return err
	}
	c := p.Connection
	switch {
	case strings.TrimSpace(c.PLCIP) == "":
		return apperr.Validation("machineData.plcIp is required")
	case c.PLCPort < 0 || c.PLCPort > 65535:
		return apperr.Validation("machineData.plcPort %d out of range", c.PLCPort)
	case c.PDUSize <= 0:
		return apperr.Validation("machineData.pduSize must be positive")
	case c.RequestInterval <= 0:
		return apperr.Validation("machineData.requestInterval must be positive")
	case c.PLCRack < 0 || c.PLCSlot < 0:
		return apperr.Validation("machineData.plcRack and plcSlot must not be negative")
	case strings.TrimSpace(c.RequestTimeout) == "":
		return apperr.Validation("machineData.requestS7commTimeout is required")
	}

	s := p.Sink
	switch {
	case strings.TrimSpace(s.BrokerIP) == "":
		return apperr.Validation("mqttData.mqttIp is required")
	case s.BrokerPort <= 0 || s.BrokerPort > 65535:
		return apperr.Validation("mqttData.mqttPort %d out of range", s.BrokerPort)
	case strings.TrimSpace(s.Topic) == "":
		return apperr.Validation("mqttData.mqttTopic is required")
	case s.DataFormat == "" || s.Layout == "" || s.TimestampUnits == "":
		return apperr.Validation("mqttData format, layout and timestamp units are required")
	}

	if p.Agent.FlushInterval == "" || p.Agent.Hostname == "" || p.Agent.LogTimezone == "" {
		return apperr.Validation("agent flushInterval, hostname and logTimezone are required")
	}

	for i, t := range p.Tags {
		if strings.TrimSpace(t.Name) == "" {
			return apperr.Validation("plcTagData[%d].tagName is required", i)
		}
		if strings.TrimSpace(t.Address) == "" {
			return apperr.Validation("plcTagData[%d].tagAddress is required", i)
		}
	}
	return nil
}

// ValidateMachineName checks that name can be used as a single path component.
func ValidateMachineName(name string) error {
	switch {
	case name == "":
		return apperr.Validation("machine name is required")
	case strings.TrimSpace(name) != name:
		return apperr.Validation("machine name %q has surrounding whitespace", name)
	case name == "." || name == "..":
		return apperr.Validation("machine name %q is reserved", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return apperr.Validation("machine name %q must not contain path separators", name)
	}
	return nil
}

// rawProfile mirrors the document layout with pointer members so that
// missing keys can be told apart from zero values.
type rawProfile struct {
	Agent struct {
		FlushInterval *string `json:"flushInterval"`
		Hostname      *string `json:"hostname"`
		LogTimezone   *string `json:"logTimezone"`
		Quiet         *bool   `json:"quiet"`
		RoundInterval *bool   `json:"roundInterval"`
	} `json:"agent"`
	MachineData struct {
		MachineName     *string `json:"machineName"`
		MachineState    *string `json:"machineState"`
		PDUSize         *int    `json:"pduSize"`
		PLCIP           *string `json:"plcIp"`
		PLCPort         *int    `json:"plcPort"`
		PLCRack         *int    `json:"plcRack"`
		PLCSlot         *int    `json:"plcSlot"`
		RequestInterval *int    `json:"requestInterval"`
		RequestTimeout  *string `json:"requestS7commTimeout"`
	} `json:"machineData"`
	MQTTData struct {
		DataFormat     *string `json:"mqttDataFormat"`
		BrokerIP       *string `json:"mqttIp"`
		TimestampUnits *string `json:"mqttJsonTimestampUnits"`
		Layout         *string `json:"mqttLayout"`
		BrokerPort     *int    `json:"mqttPort"`
		Topic          *string `json:"mqttTopic"`
	} `json:"mqttData"`
	PLCTagData []struct {
		Address *string `json:"tagAddress"`
		Name    *string `json:"tagName"`
	} `json:"plcTagData"`
}

// ParseDocument builds a profile from a raw JSON document. Optional members
// take their defaults; a missing required member is a validation error.
// Unknown members (such as _id and _rev) are ignored.
func ParseDocument(data []byte) (MachineProfile, error) {
	var raw rawProfile
	if err := json.Unmarshal(data, &raw); err != nil {
		return MachineProfile{}, apperr.Validation("decode profile document: %v", err)
	}

	var missing []string
	str := func(key string, v *string, def string, required bool) string {
		if v != nil {
			return *v
		}
		if required {
			missing = append(missing, key)
		}
		return def
	}
	num := func(key string, v *int) int {
		if v != nil {
			return *v
		}
		missing = append(missing, key)
		return 0
	}
	flag := func(v *bool, def bool) bool {
		if v != nil {
			return *v
		}
		return def
	}

	a, m, q := raw.Agent, raw.MachineData, raw.MQTTData
	p := MachineProfile{
		Agent: AgentSettings{
			FlushInterval: str("agent.flushInterval", a.FlushInterval, DefaultFlushInterval, false),
			Hostname:      str("agent.hostname", a.Hostname, DefaultHostname, false),
			LogTimezone:   str("agent.logTimezone", a.LogTimezone, DefaultLogTimezone, false),
			Quiet:         flag(a.Quiet, false),
			RoundInterval: flag(a.RoundInterval, true),
		},
		Connection: ConnectionParams{
			MachineName:     str("machineData.machineName", m.MachineName, "", true),
			MachineState:    str("machineData.machineState", m.MachineState, DefaultMachineState, false),
			PDUSize:         num("machineData.pduSize", m.PDUSize),
			PLCIP:           str("machineData.plcIp", m.PLCIP, "", true),
			PLCPort:         num("machineData.plcPort", m.PLCPort),
			PLCRack:         num("machineData.plcRack", m.PLCRack),
			PLCSlot:         num("machineData.plcSlot", m.PLCSlot),
			RequestInterval: num("machineData.requestInterval", m.RequestInterval),
			RequestTimeout:  str("machineData.requestS7commTimeout", m.RequestTimeout, DefaultRequestTimeout, false),
		},
		Sink: SinkParams{
			DataFormat:     str("mqttData.mqttDataFormat", q.DataFormat, DefaultDataFormat, false),
			BrokerIP:       str("mqttData.mqttIp", q.BrokerIP, "", true),
			TimestampUnits: str("mqttData.mqttJsonTimestampUnits", q.TimestampUnits, DefaultTimestampUnits, false),
			Layout:         str("mqttData.mqttLayout", q.Layout, DefaultLayout, false),
			BrokerPort:     num("mqttData.mqttPort", q.BrokerPort),
			Topic:          str("mqttData.mqttTopic", q.Topic, "", true),
		},
		Tags: make([]Tag, 0, len(raw.PLCTagData)),
	}
	for i, t := range raw.PLCTagData {
		p.Tags = append(p.Tags, Tag{
			Address: str(fmt.Sprintf("plcTagData[%d].tagAddress", i), t.Address, "", true),
			Name:    str(fmt.Sprintf("plcTagData[%d].tagName", i), t.Name, "", true),
		})
	}

	if len(missing) > 0 {
		return MachineProfile{}, apperr.Validation("missing required key: %s", strings.Join(missing, ", "))
	}
	if err := p.Validate(); err != nil {
		return MachineProfile{}, err
	}
	return p, nil
}
