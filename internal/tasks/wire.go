package tasks

import (
	"encoding/json"
	"fmt"
)

// TaskSet is the task-set message published by the provider.
type TaskSet struct {
	Seq   uint64 `json:"seq"`
	Tasks []Task `json:"tasks"`
}

// DecodeTaskSet parses and validates a JSON task set.
func DecodeTaskSet(data []byte) (TaskSet, error) {
	var ts TaskSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return TaskSet{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	for _, t := range ts.Tasks {
		if err := t.Validate(); err != nil {
			return TaskSet{}, err
		}
	}
	if err := ValidateRanks(ts.Tasks); err != nil {
		return TaskSet{}, err
	}
	return ts, nil
}

// EncodeTaskSet serialises a task set.
func EncodeTaskSet(ts TaskSet) ([]byte, error) {
	return json.Marshal(ts)
}
