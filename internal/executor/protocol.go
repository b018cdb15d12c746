package executor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// Environment variables set for every unit.
const (
	EnvItemID  = "SWEEP_ITEM_ID"
	EnvAttempt = "SWEEP_ATTEMPT"

	// EnvUnitID is unique per Run. Processes inheriting it are killed when
	// the unit ends, even after leaving its process group.
	EnvUnitID = "SWEEP_UNIT_ID"
)

// UnitInput is written as JSON to the unit's stdin.
type UnitInput struct {
	ID      string          `json:"id"`
	Attempt int             `json:"attempt"`
	Payload json.RawMessage `json:"payload"`
}

// UnitResult is the terminal line a unit prints on stdout.
type UnitResult struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Unit result statuses.
const (
	UnitSucceeded = "succeeded"
	UnitFailed    = "failed"
)

func encodeInput(item core.WorkItem) ([]byte, error) {
	// JSON payloads pass through as-is; anything else is sent as a string.
	var payload json.RawMessage
	switch {
	case item.Payload == "":
		payload = json.RawMessage("null")
	case json.Valid([]byte(item.Payload)):
		payload = json.RawMessage(item.Payload)
	default:
		quoted, err := json.Marshal(item.Payload)
		if err != nil {
			return nil, err
		}
		payload = quoted
	}
	return json.Marshal(UnitInput{ID: item.ID, Attempt: item.AttemptCount, Payload: payload})
}

// parseResult reads the last non-empty line of stdout as a UnitResult.
func parseResult(stdout []byte) (*UnitResult, error) {
	lines := bytes.Split(bytes.TrimRight(stdout, "\r\n\t "), []byte("\n"))
	var last []byte
	for i := len(lines) - 1; i >= 0; i-- {
		if l := bytes.TrimSpace(lines[i]); len(l) > 0 {
			last = l
			break
		}
	}
	if last == nil {
		return nil, errors.New("no terminal result on stdout")
	}
	var res UnitResult
	if err := json.Unmarshal(last, &res); err != nil {
		return nil, fmt.Errorf("terminal result is not JSON: %w", err)
	}
	switch res.Status {
	case UnitSucceeded, UnitFailed:
		return &res, nil
	default:
		return nil, fmt.Errorf("terminal result has unknown status %q", res.Status)
	}
}
