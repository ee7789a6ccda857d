package lifecycle

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"snowbridge/internal/config"
)

// ServiceSpec is the container service specification rendered inline into
// the CREATE SERVICE statement.
type ServiceSpec struct {
	Spec SpecBlock `yaml:"spec"`
}

// SpecBlock is the spec document body.
type SpecBlock struct {
	Containers   []Container   `yaml:"containers"`
	Endpoints    []Endpoint    `yaml:"endpoints"`
	Volumes      []Volume      `yaml:"volumes,omitempty"`
	LogExporters *LogExporters `yaml:"logExporters,omitempty"`
}

// Container describes one container in the service.
type Container struct {
	Name           string            `yaml:"name"`
	Image          string            `yaml:"image"`
	Env            map[string]string `yaml:"env,omitempty"`
	Secrets        []SecretMount     `yaml:"secrets,omitempty"`
	VolumeMounts   []VolumeMount     `yaml:"volumeMounts,omitempty"`
	ReadinessProbe *ReadinessProbe   `yaml:"readinessProbe,omitempty"`
}

// SecretMount mounts a Snowflake secret as a file under DirectoryPath.
type SecretMount struct {
	SnowflakeSecret string `yaml:"snowflakeSecret"`
	DirectoryPath   string `yaml:"directoryPath"`
}

// VolumeMount attaches a declared volume inside the container.
type VolumeMount struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mountPath"`
}

// ReadinessProbe is the HTTP probe the platform polls before routing
// traffic to the container.
type ReadinessProbe struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Endpoint exposes a container port to service functions.
type Endpoint struct {
	Name   string `yaml:"name"`
	Port   int    `yaml:"port"`
	Public bool   `yaml:"public"`
}

// Volume declares a mountable source, here the app's internal stage.
type Volume struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

// LogExporters routes container stdout into the account event table.
type LogExporters struct {
	EventTableConfig EventTableConfig `yaml:"eventTableConfig"`
}

// EventTableConfig sets the minimum level exported to the event table.
type EventTableConfig struct {
	LogLevel string `yaml:"logLevel"`
}

const (
	endpointName    = "agent-endpoint"
	stageVolumeName = "data-store"
	credsMountDir   = "/usr/local/creds"
)

// DefaultServiceSpec builds the agent's service specification from the
// static configuration and the derived object names. The stage volume is
// only declared when results offload to the internal stage; the cloud
// providers authenticate through their own credential chains instead.
func DefaultServiceSpec(cfg *config.Config, names config.Names) ServiceSpec {
	env := map[string]string{
		"APP_DATABASE":        cfg.AppDatabase,
		"AGENT_ID":            cfg.AgentID,
		"BACKEND_SERVICE_URL": cfg.BackendURL,
		"EVENTS_TRANSPORT":    cfg.EventsTransport,
		"STORAGE_PROVIDER":    cfg.StorageProvider,
		"LOG_LEVEL":           cfg.LogLevel,
	}
	if cfg.StorageBucket != "" {
		env["STORAGE_BUCKET"] = cfg.StorageBucket
	}
	if cfg.StorageAccount != "" {
		env["STORAGE_ACCOUNT"] = cfg.StorageAccount
	}

	container := Container{
		Name:  ContainerName,
		Image: imagePath(names),
		Env:   env,
		Secrets: []SecretMount{
			{SnowflakeSecret: names.TokenSecret, DirectoryPath: credsMountDir},
		},
		ReadinessProbe: &ReadinessProbe{Port: cfg.ListenPort, Path: probePath},
	}

	spec := SpecBlock{
		Endpoints: []Endpoint{
			{Name: endpointName, Port: cfg.ListenPort, Public: false},
		},
		LogExporters: &LogExporters{EventTableConfig: EventTableConfig{LogLevel: "INFO"}},
	}

	if cfg.StorageProvider == config.StorageProviderStage {
		env["STAGE_MOUNT_PATH"] = cfg.StageMountPath
		container.VolumeMounts = []VolumeMount{
			{Name: stageVolumeName, MountPath: cfg.StageMountPath},
		}
		spec.Volumes = []Volume{
			{Name: stageVolumeName, Source: "@" + names.Stage},
		}
	}

	spec.Containers = []Container{container}
	return ServiceSpec{Spec: spec}
}

// Render marshals the specification to YAML.
func (s ServiceSpec) Render() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal service spec: %w", err)
	}
	return string(out), nil
}

// imagePath is the repository-qualified image reference, e.g.
// /mcd_agent/core/agent_repository/agent:latest.
func imagePath(names config.Names) string {
	return "/" + strings.ReplaceAll(names.ImageRepository, ".", "/") + "/agent:latest"
}
