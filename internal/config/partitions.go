package config

import (
	"fmt"
	"os"

	"github.com/Sternrassler/whatsnews-mirror/pkg/feed"
	"gopkg.in/yaml.v3"
)

// PartitionsFile is the YAML layout of a partitions file:
//
//	partitions:
//	  - directory_id: whats-new-v2
//	    tag_id: whats-new-v2#year#2024
type PartitionsFile struct {
	Partitions []feed.Partition `yaml:"partitions"`
}

// LoadPartitions reads and validates a partitions file.
func LoadPartitions(path string) ([]feed.Partition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions file: %w", err)
	}
	return ParsePartitions(data)
}

// ParsePartitions decodes a partitions document. Duplicate entries are
// rejected since they would mirror the same items twice in one run.
func ParsePartitions(data []byte) ([]feed.Partition, error) {
	var file PartitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(file.Partitions) == 0 {
		return nil, fmt.Errorf("no partitions defined")
	}

	seen := make(map[feed.Partition]bool, len(file.Partitions))
	for i, p := range file.Partitions {
		if p.DirectoryID == "" {
			return nil, fmt.Errorf("partition %d: directory_id is required", i)
		}
		if seen[p] {
			return nil, fmt.Errorf("partition %d: duplicate %s", i, p)
		}
		seen[p] = true
	}
	return file.Partitions, nil
}
