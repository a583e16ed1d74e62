// Package config loads process-wide configuration from the environment,
// following the teacher's getEnv/getEnvInt helper pattern in cmd/main.go.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven setting named in spec.md §6 plus
// the ambient settings the ecosystem stack requires (see SPEC_FULL.md).
type Config struct {
	APIPort string

	JWTSecret string

	FreeMaxContainers  int
	DockerNetwork      string
	VNCImage           string
	ContainerEnvDefault map[string]string
	InternalNoVNCPort  int
	AllowedNoVNCPorts  []int
	Workspace          string
	VNCPassword        string
	VenvPath           string
	PythonPath         string

	MetadataBaseURL     string
	MetadataTimeout     time.Duration

	OrchestratorBackend string // "docker" | "kubernetes"
	K8sNamespace        string

	RedisAddr string
	NATSUrl   string

	LogLevel  string
	LogPretty bool
}

// Load reads Config from the environment, applying the same defaults the
// original implementation shipped (see original_source/app/config.py).
func Load() *Config {
	return &Config{
		APIPort: getEnv("API_PORT", "8000"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		FreeMaxContainers: getEnvInt("FREE_MAX_CONTAINERS", 3),
		DockerNetwork:     os.Getenv("DOCKER_NETWORK"),
		VNCImage:          getEnv("VNC_IMAGE", "vnc-webide"),
		ContainerEnvDefault: map[string]string{
			"VNC_PORT":     "5901",
			"NOVNC_PORT":   "6081",
			"VNC_GEOMETRY": "1024x768",
			"VNC_DEPTH":    "24",
		},
		InternalNoVNCPort: getEnvInt("INTERNAL_NOVNC_PORT", 6081),
		AllowedNoVNCPorts: parsePortRange(getEnv("ALLOWED_NOVNC_PORTS", "10000-10100")),
		Workspace:         getEnv("WORKSPACE", "/opt/workspace"),
		VNCPassword:       getEnv("VNC_PASSWORD", "jaewoo"),
		VenvPath:          getEnv("VENV_PATH", "/tmp/user_venv"),
		PythonPath:        getEnv("PYTHON_PATH", "/tmp/user_venv/bin/python"),

		MetadataBaseURL: getEnv("METADATA_BASE_URL", "http://metadata-store:8080"),
		MetadataTimeout: time.Duration(getEnvInt("METADATA_TIMEOUT_SECONDS", 10)) * time.Second,

		OrchestratorBackend: getEnv("ORCHESTRATOR_BACKEND", "kubernetes"),
		K8sNamespace:        getEnv("K8S_NAMESPACE", "webide-net"),

		RedisAddr: os.Getenv("REDIS_ADDR"),
		NATSUrl:   os.Getenv("NATS_URL"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnv("LOG_PRETTY", "false") == "true",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// parsePortRange parses "10000-10100" into an ordered inclusive port list;
// it also accepts a comma-separated explicit list like "10000,10001,10050".
func parsePortRange(spec string) []int {
	if strings.Contains(spec, ",") {
		var ports []int
		for _, part := range strings.Split(spec, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				ports = append(ports, n)
			}
		}
		return ports
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil
	}
	start, err1 := strconv.Atoi(parts[0])
	end, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || end < start {
		return nil
	}
	ports := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		ports = append(ports, p)
	}
	return ports
}
