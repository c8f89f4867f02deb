package scheduler

import (
	"encoding/json"

	"activation_backend/internal/activations/domain"

	"github.com/hibiken/asynq"
)

const TaskActivationsUpdateStates = "activations:update_states"

type ActivationRunPayload struct {
	UserTimezone string            `json:"userTimezone,omitempty"`
	Trigger      domain.RunTrigger `json:"trigger"`
}

func NewActivationRunTask(payload ActivationRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivationsUpdateStates, data), nil
}

func ParseActivationRunPayload(task *asynq.Task) (ActivationRunPayload, error) {
	var payload ActivationRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ActivationRunPayload{}, err
	}
	return payload, nil
}
