package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Job is one entry of a job list. Name and Output are optional; the URL is
// not.
type Job struct {
	URL     string `yaml:"url"`
	Name    string `yaml:"name,omitempty"`
	Output  string `yaml:"output,omitempty"`
	WorkDir string `yaml:"workdir,omitempty"`
}

type jobList struct {
	Jobs []Job `yaml:"jobs"`
}

// LoadJobs reads a YAML job list from path.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job list: %w", err)
	}
	jobs, err := ParseJobs(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}

// ParseJobs decodes a job list. Unknown keys are rejected so typos do not
// silently drop settings.
func ParseJobs(data []byte) ([]Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var list jobList
	if err := dec.Decode(&list); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("job list is empty")
		}
		return nil, fmt.Errorf("failed to parse job list: %w", err)
	}
	if len(list.Jobs) == 0 {
		return nil, errors.New("job list is empty")
	}
	for i := range list.Jobs {
		job := &list.Jobs[i]
		job.URL = strings.TrimSpace(job.URL)
		job.Name = strings.TrimSpace(job.Name)
		if job.URL == "" {
			return nil, fmt.Errorf("job %d: url is required", i+1)
		}
	}
	return list.Jobs, nil
}
