package pipeline

import (
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Report summarizes one build. It is saved next to the artifacts.
type Report struct {
	ID           string    `yaml:"id"`
	Example      string    `yaml:"example"`
	Mode         string    `yaml:"mode"`
	Started      time.Time `yaml:"started"`
	Elapsed      string    `yaml:"elapsed"`
	Sources      []string  `yaml:"sources"`
	Linked       bool      `yaml:"linked"`
	Instructions int       `yaml:"instructions"`
	DataItems    int       `yaml:"data_items"`
	Labels       int       `yaml:"labels"`
	Tool         string    `yaml:"tool,omitempty"`
	BytecodeSize int       `yaml:"bytecode_size,omitempty"`
	BinarySize   int       `yaml:"binary_size"`
	Dropped      int       `yaml:"dropped_bytes"`
	Artifacts    []string  `yaml:"artifacts"`
	Warnings     []string  `yaml:"warnings,omitempty"`
}

// NewReport starts a report with a fresh build id.
func NewReport(example string) *Report {
	return &Report{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Example: example,
		Started: time.Now().UTC(),
	}
}

// Save writes the report as YAML.
func (report *Report) Save(path string) (err error) {
	data, err := yaml.Marshal(report)
	if err != nil {
		return
	}

	err = os.WriteFile(path, data, 0o644)
	return
}

// LoadReport reads a saved report.
func LoadReport(path string) (report *Report, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	result := &Report{}
	err = yaml.Unmarshal(data, result)
	if err != nil {
		return
	}

	report = result
	return
}
