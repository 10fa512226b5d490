package playbook

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileSchema is the shape of one playbook YAML file. All sections are
// optional; later files override earlier ones per key.
type fileSchema struct {
	Intents        []Intent          `yaml:"intents,omitempty"`
	HandoffPhrases []string          `yaml:"handoffPhrases,omitempty"`
	Fallbacks      map[string]string `yaml:"fallbacks,omitempty"`
	Responses      map[string]string `yaml:"responses,omitempty"`
}

// LoadFromDirectory loads playbook definitions from YAML files in a
// directory, merged on top of the built-in defaults. A missing directory is
// not an error; unparseable files are skipped with a warning.
func LoadFromDirectory(dir string, logger *slog.Logger) (*Playbook, error) {
	pb := Defaults()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("playbook directory does not exist, using defaults", "dir", dir)
		return pb, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read playbook dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read playbook file", "path", path, "err", err)
			continue
		}

		var file fileSchema
		if err := yaml.Unmarshal(data, &file); err != nil {
			logger.Warn("cannot parse playbook file", "path", path, "err", err)
			continue
		}

		pb.merge(file)
		logger.Info("loaded playbook file", "path", path, "intents", len(file.Intents))
	}

	return pb, nil
}

func (p *Playbook) merge(file fileSchema) {
	for _, in := range file.Intents {
		if in.Name == "" {
			continue
		}
		p.intents[in.Name] = in
	}
	for _, phrase := range file.HandoffPhrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase != "" {
			p.handoffPhrases = append(p.handoffPhrases, phrase)
		}
	}
	for dep, text := range file.Fallbacks {
		p.fallbacks[dep] = text
	}
	for key, text := range file.Responses {
		p.responses[key] = text
	}
}

// SampleYAML is written by `deskbot init` as a starting point.
const SampleYAML = `# deskbot playbook: intents, handoff phrases, and fallback responses.
intents:
  - name: vpn_issue
    description: VPN connection problems
    requiredSlots:
      - name: os
        prompt: Which operating system are you on?
    createsTicket: true
    ticketPriority: medium
    answer: I've filed your VPN issue with the network team.

handoffPhrases:
  - let me talk to support

fallbacks:
  classifier: I'm having trouble understanding right now, please try again shortly.
`
