// Package file reads work items from a YAML or JSON backlog file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/fsutil"
)

// Source implements core.IssueSource over a backlog file. The file is read
// on every ListItems call so edits between runs are picked up.
//
// Accepted shapes (YAML or JSON):
//
//	items:
//	  - id: issue-1
//	    priority: 10
//	    payload: {title: "crash on start"}
//
// or a bare list of the same entries. A payload that is not a string is
// handed to the fixer unit as JSON.
type Source struct {
	path string
}

// NewSource creates a source reading path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Name implements core.IssueSource.
func (s *Source) Name() string {
	return "file:" + filepath.Base(s.path)
}

type entry struct {
	ID       string    `yaml:"id"`
	Priority int       `yaml:"priority"`
	Payload  yaml.Node `yaml:"payload"`
}

type document struct {
	Items []entry `yaml:"items"`
}

// ListItems implements core.IssueSource.
func (s *Source) ListItems(ctx context.Context) ([]core.WorkItemSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := fsutil.ReadFileScoped(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading backlog %s: %w", s.path, err)
	}
	return Parse(data)
}

// Parse decodes a backlog document.
func Parse(data []byte) ([]core.WorkItemSpec, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, core.ErrValidation("INVALID_BACKLOG", "backlog is not valid YAML or JSON").WithCause(err)
	}

	var entries []entry
	var decodeErr error
	if len(root.Content) > 0 && root.Content[0].Kind == yaml.SequenceNode {
		decodeErr = root.Content[0].Decode(&entries)
	} else {
		var doc document
		decodeErr = root.Decode(&doc)
		entries = doc.Items
	}
	if decodeErr != nil {
		return nil, core.ErrValidation("INVALID_BACKLOG", "unexpected backlog layout").WithCause(decodeErr)
	}

	specs := make([]core.WorkItemSpec, 0, len(entries))
	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, core.ErrValidation(core.CodeEmptyItemID, fmt.Sprintf("backlog entry %d has no id", i+1))
		}
		payload, err := payloadString(&e.Payload)
		if err != nil {
			return nil, core.ErrValidation("INVALID_BACKLOG", fmt.Sprintf("backlog entry %s: bad payload", id)).WithCause(err)
		}
		specs = append(specs, core.WorkItemSpec{ID: id, Payload: payload, Priority: e.Priority})
	}
	return specs, nil
}

func payloadString(n *yaml.Node) (string, error) {
	switch {
	case n.Kind == 0:
		return "", nil
	case n.Kind == yaml.ScalarNode && n.Tag == "!!null":
		return "", nil
	case n.Kind == yaml.ScalarNode && n.Tag == "!!str":
		return n.Value, nil
	}
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
