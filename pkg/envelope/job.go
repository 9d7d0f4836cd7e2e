package envelope

import (
	"encoding/json"
	"fmt"
)

// Trigger types.
const (
	TriggerManual   = "Manual"
	TriggerSchedule = "Schedule"
	TriggerEvent    = "Event"
)

// Job is a Microsoft.App/jobs resource.
type Job struct {
	ID         string                  `json:"id,omitempty"`
	Name       string                  `json:"name,omitempty"`
	Type       string                  `json:"type,omitempty"`
	Location   string                  `json:"location,omitempty"`
	Tags       map[string]string       `json:"tags,omitzero"`
	Identity   *ManagedServiceIdentity `json:"identity,omitempty"`
	SystemData json.RawMessage         `json:"systemData,omitempty"`
	Properties *JobProperties          `json:"properties,omitempty"`
}

// JobProperties are the job properties.
type JobProperties struct {
	ProvisioningState    string            `json:"provisioningState,omitempty"`
	EnvironmentID        string            `json:"environmentId,omitempty"`
	ManagedEnvironmentID string            `json:"managedEnvironmentId,omitempty"`
	WorkloadProfileName  string            `json:"workloadProfileName,omitempty"`
	Configuration        *JobConfiguration `json:"configuration,omitempty"`
	Template             *JobTemplate      `json:"template,omitempty"`
	OutboundIPAddresses  []string          `json:"outboundIpAddresses,omitzero"`
	EventStreamEndpoint  string            `json:"eventStreamEndpoint,omitempty"`
}

// JobConfiguration carries the trigger and retry policy.
type JobConfiguration struct {
	Secrets               []Secret               `json:"secrets,omitzero"`
	TriggerType           string                 `json:"triggerType,omitempty"`
	ReplicaTimeout        *int32                 `json:"replicaTimeout,omitempty"`
	ReplicaRetryLimit     *int32                 `json:"replicaRetryLimit,omitempty"`
	ManualTriggerConfig   *ManualTriggerConfig   `json:"manualTriggerConfig,omitempty"`
	ScheduleTriggerConfig *ScheduleTriggerConfig `json:"scheduleTriggerConfig,omitempty"`
	EventTriggerConfig    *EventTriggerConfig    `json:"eventTriggerConfig,omitempty"`
	Registries            []RegistryCredentials  `json:"registries,omitzero"`
}

// JobTemplate is the container template of a job.
type JobTemplate struct {
	InitContainers []Container `json:"initContainers,omitzero"`
	Containers     []Container `json:"containers,omitzero"`
	Volumes        []Volume    `json:"volumes,omitzero"`
}

// JobTrigger is the sum type of the three trigger configs.
type JobTrigger interface {
	TriggerType() string
	apply(c *JobConfiguration)
}

// ManualTriggerConfig runs on demand.
type ManualTriggerConfig struct {
	ReplicaCompletionCount *int32 `json:"replicaCompletionCount,omitempty"`
	Parallelism            *int32 `json:"parallelism,omitempty"`
}

// TriggerType implements JobTrigger.
func (*ManualTriggerConfig) TriggerType() string { return TriggerManual }

func (t *ManualTriggerConfig) apply(c *JobConfiguration) { c.ManualTriggerConfig = t }

// ScheduleTriggerConfig runs on a cron schedule.
type ScheduleTriggerConfig struct {
	ReplicaCompletionCount *int32 `json:"replicaCompletionCount,omitempty"`
	Parallelism            *int32 `json:"parallelism,omitempty"`
	CronExpression         string `json:"cronExpression"`
}

// TriggerType implements JobTrigger.
func (*ScheduleTriggerConfig) TriggerType() string { return TriggerSchedule }

func (t *ScheduleTriggerConfig) apply(c *JobConfiguration) { c.ScheduleTriggerConfig = t }

// EventTriggerConfig runs on scaler events.
type EventTriggerConfig struct {
	ReplicaCompletionCount *int32    `json:"replicaCompletionCount,omitempty"`
	Parallelism            *int32    `json:"parallelism,omitempty"`
	Scale                  *JobScale `json:"scale,omitempty"`
}

// TriggerType implements JobTrigger.
func (*EventTriggerConfig) TriggerType() string { return TriggerEvent }

func (t *EventTriggerConfig) apply(c *JobConfiguration) { c.EventTriggerConfig = t }

// JobScale bounds event-driven executions.
type JobScale struct {
	PollingInterval *int32         `json:"pollingInterval,omitempty"`
	MinExecutions   *int32         `json:"minExecutions,omitempty"`
	MaxExecutions   *int32         `json:"maxExecutions,omitempty"`
	Rules           []JobScaleRule `json:"rules,omitzero"`
}

// JobScaleRule is a KEDA scaler for event jobs.
type JobScaleRule struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitzero"`
	Auth     []ScaleRuleAuth   `json:"auth,omitzero"`
}

// SetTrigger installs t as the only trigger config and sets triggerType.
func (c *JobConfiguration) SetTrigger(t JobTrigger) {
	c.ManualTriggerConfig = nil
	c.ScheduleTriggerConfig = nil
	c.EventTriggerConfig = nil
	t.apply(c)
	c.TriggerType = t.TriggerType()
}

// Trigger returns the single trigger config.
func (c *JobConfiguration) Trigger() (JobTrigger, error) {
	var set []JobTrigger
	if c.ManualTriggerConfig != nil {
		set = append(set, c.ManualTriggerConfig)
	}
	if c.ScheduleTriggerConfig != nil {
		set = append(set, c.ScheduleTriggerConfig)
	}
	if c.EventTriggerConfig != nil {
		set = append(set, c.EventTriggerConfig)
	}
	if len(set) != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrJobTriggerVariant, len(set))
	}
	return set[0], nil
}

// EnsureProperties returns the properties, allocating them when absent.
func (j *Job) EnsureProperties() *JobProperties {
	if j.Properties == nil {
		j.Properties = &JobProperties{}
	}
	return j.Properties
}

// EnsureConfiguration returns the configuration, allocating it when absent.
func (j *Job) EnsureConfiguration() *JobConfiguration {
	p := j.EnsureProperties()
	if p.Configuration == nil {
		p.Configuration = &JobConfiguration{}
	}
	return p.Configuration
}

// EnsureTemplate returns the template, allocating it when absent.
func (j *Job) EnsureTemplate() *JobTemplate {
	p := j.EnsureProperties()
	if p.Template == nil {
		p.Template = &JobTemplate{}
	}
	return p.Template
}

// StripReadOnly clears server-computed fields.
func (j *Job) StripReadOnly() {
	j.ID = ""
	j.Name = ""
	j.Type = ""
	j.SystemData = nil
	if p := j.Properties; p != nil {
		p.ProvisioningState = ""
		p.OutboundIPAddresses = nil
		p.EventStreamEndpoint = ""
		if p.EnvironmentID == "" {
			p.EnvironmentID = p.ManagedEnvironmentID
		}
		p.ManagedEnvironmentID = ""
	}
}

// JobExecution is one run of a job.
type JobExecution struct {
	ID         string                  `json:"id,omitempty"`
	Name       string                  `json:"name,omitempty"`
	Type       string                  `json:"type,omitempty"`
	Properties *JobExecutionProperties `json:"properties,omitempty"`
}

// JobExecutionProperties describe a run.
type JobExecutionProperties struct {
	Status    string                `json:"status,omitempty"`
	StartTime string                `json:"startTime,omitempty"`
	EndTime   string                `json:"endTime,omitempty"`
	Template  *JobExecutionTemplate `json:"template,omitempty"`
}

// JobExecutionTemplate overrides containers for one start.
type JobExecutionTemplate struct {
	Containers     []Container `json:"containers,omitzero"`
	InitContainers []Container `json:"initContainers,omitzero"`
}

// JobExecutionBase is returned by start.
type JobExecutionBase struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// JobStopRequest names the executions to stop.
type JobStopRequest struct {
	JobExecutionName []string `json:"jobExecutionName"`
}
