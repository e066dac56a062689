package manager

import (
	"os"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// YAMLConfigSource implements ConfigSource by reading a model.ConfigGraph
// from a YAML file on disk. It is the simplest concrete ConfigSource:
// cmd/statsbeamd wires it in when no remote configuration collaborator
// is configured.
type YAMLConfigSource struct {
	Path string
}

// NewYAMLConfigSource constructs a ConfigSource reading from path.
func NewYAMLConfigSource(path string) *YAMLConfigSource {
	return &YAMLConfigSource{Path: path}
}

// FetchConfigGraph implements ConfigSource.
func (s *YAMLConfigSource) FetchConfigGraph() (model.ConfigGraph, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return model.ConfigGraph{}, errors.Errorf("config file %s does not exist", s.Path)
	} else if err != nil {
		return model.ConfigGraph{}, errors.Wrapf(err, "reading config graph from %s", s.Path)
	}

	var graph model.ConfigGraph
	if err := yaml.Unmarshal(data, &graph); err != nil {
		return model.ConfigGraph{}, errors.Wrapf(err, "parsing config graph from %s", s.Path)
	}
	return graph, nil
}
