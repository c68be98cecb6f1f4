package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageDiscoveryDone Stage = "DISCOVERY_DONE"
	StagePreflight     Stage = "PREFLIGHT"
	StageChunkStart    Stage = "CHUNK_START"
	StageChunkDone     Stage = "CHUNK_DONE"
	StageChunkError    Stage = "CHUNK_ERROR"
)

// Event captures a single step of pipeline progress.
type Event struct {
	// RunID is the 16-byte UUID of the pipeline run.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Category and Kind scope discovery and chunk events.
	Category string
	Kind     string
	// Batch is the 1-based chunk index.
	Batch int
	// Items is the URL count for discovery and the item count for chunks.
	Items int
	Dur   time.Duration
	// Note carries low-volume context such as error text or a gate decision.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StagePreflight:
	case StageDiscoveryDone:
		if e.Category == "" {
			return errors.New("discovery event requires category")
		}
	case StageChunkStart, StageChunkDone, StageChunkError:
		if e.Category == "" || e.Kind == "" {
			return errors.New("chunk event requires category and kind")
		}
		if e.Batch <= 0 {
			return errors.New("chunk event requires a positive batch")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// ParseRunID encodes a textual run ID into the Event form. Operator-chosen
// IDs that are not UUIDs map to a stable name-based UUID; the empty string
// maps to the zero value, which Validate rejects.
func ParseRunID(runID string) [16]byte {
	if runID == "" {
		return [16]byte{}
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte("gumgenie-scout/run/"+runID))
	}
	return id
}
