package extract

import (
	"encoding/json"

	"github.com/ternarybob/etlplatform/internal/models"
)

// TaskPayload is the extract queue message body: the step being processed,
// every container that step should pull from a Source Adapter, and the
// cursor an incremental run resumes from. Only one extract message exists
// per (job, step) at a time, so a single message carries the whole
// container list instead of fanning out one message per container.
type TaskPayload struct {
	Step       models.StepName `json:"step"`
	Containers []string        `json:"containers"`
	Cursor     string          `json:"cursor"`
}

func (p TaskPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalTaskPayload(data []byte) (TaskPayload, error) {
	var p TaskPayload
	err := json.Unmarshal(data, &p)
	return p, err
}
