package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
)

// Summary is what Inspect recovers from a configuration file on disk.
type Summary struct {
	MachineName   string
	Interval      string
	Server        string
	Tags          []models.Tag
	Brokers       []string
	Topic         string
	DedupInterval string
}

// configFile is the subset of the collector configuration that Inspect reads.
type configFile struct {
	Agent struct {
		Interval string `toml:"interval"`
		Logfile  string `toml:"logfile"`
	} `toml:"agent"`
	Inputs struct {
		S7comm []struct {
			Server string `toml:"server"`
			Metric []struct {
				Fields []struct {
					Name    string `toml:"name"`
					Address string `toml:"address"`
				} `toml:"fields"`
				Tags map[string]string `toml:"tags"`
			} `toml:"metric"`
		} `toml:"s7comm"`
	} `toml:"inputs"`
	Processors struct {
		Dedup []struct {
			DedupInterval string `toml:"dedup_interval"`
		} `toml:"dedup"`
	} `toml:"processors"`
	Outputs struct {
		MQTT []struct {
			Servers []string `toml:"servers"`
			Topic   string   `toml:"topic"`
		} `toml:"mqtt"`
	} `toml:"outputs"`
}

// Inspect parses the configuration file at path.
func Inspect(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, apperr.IO("read configuration", err)
	}
	return InspectText(string(data))
}

// InspectText parses rendered configuration text. The machine name is taken
// from the agent log file name.
func InspectText(text string) (Summary, error) {
	var cf configFile
	if err := toml.Unmarshal([]byte(text), &cf); err != nil {
		return Summary{}, fmt.Errorf("parse configuration: %w", err)
	}
	if len(cf.Inputs.S7comm) != 1 || len(cf.Outputs.MQTT) != 1 {
		return Summary{}, fmt.Errorf("parse configuration: want one input and one output block, got %d and %d",
			len(cf.Inputs.S7comm), len(cf.Outputs.MQTT))
	}

	s := Summary{
		MachineName: strings.TrimSuffix(filepath.Base(cf.Agent.Logfile), ".log"),
		Interval:    cf.Agent.Interval,
		Server:      cf.Inputs.S7comm[0].Server,
		Brokers:     cf.Outputs.MQTT[0].Servers,
		Topic:       cf.Outputs.MQTT[0].Topic,
	}
	if len(cf.Processors.Dedup) > 0 {
		s.DedupInterval = cf.Processors.Dedup[0].DedupInterval
	}
	prefix := s.MachineName + "."
	for _, m := range cf.Inputs.S7comm[0].Metric {
		for _, f := range m.Fields {
			s.Tags = append(s.Tags, models.Tag{
				Name:    strings.TrimPrefix(f.Name, prefix),
				Address: f.Address,
			})
		}
	}
	return s, nil
}
