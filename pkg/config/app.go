package config

import (
	"os"

	"mind/pkg/logging"
)

// App is the typed view of the APP_CFG document used by the services.
type App struct {
	GraphURI      string `yaml:"GRAPH_URI"`
	GraphUser     string `yaml:"GRAPH_USER"`
	GraphPassword string `yaml:"GRAPH_PASSWORD"`
	GraphDatabase string `yaml:"GRAPH_DATABASE"`

	// DataDir is the shared filesystem root method outputs are written under.
	DataDir string `yaml:"MIND_GPFS_DIR"`

	CohortServicePort     int `yaml:"cohort_service_port"`
	ProcessingServicePort int `yaml:"radiology_service_port"`
	ProcessingProcesses   int `yaml:"radiology_service_processes"`
	ImagesServicePort     int `yaml:"images_service_port"`

	JobStorePath string `yaml:"job_store_path"`

	ObjectStore ObjectStore    `yaml:"object_store"`
	Log         logging.Config `yaml:"log"`
}

// ObjectStore holds the S3-compatible endpoint settings.
type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// DefaultApp returns the settings used when a key is absent.
func DefaultApp() App {
	return App{
		GraphURI:              "bolt://localhost:7687",
		GraphUser:             "neo4j",
		CohortServicePort:     5004,
		ProcessingServicePort: 5001,
		ProcessingProcesses:   4,
		ImagesServicePort:     5003,
		JobStorePath:          "jobs.db",
		ObjectStore: ObjectStore{
			Endpoint: "localhost:9000",
			Region:   "us-east-1",
		},
		Log: logging.Config{Level: "info"},
	}
}

// App decodes APP_CFG over DefaultApp. MIND_GPFS_DIR falls back to the
// environment variable of the same name.
func (s *Set) App() (App, error) {
	app := DefaultApp()
	if err := s.Decode(AppConfig, &app); err != nil {
		return App{}, err
	}
	if app.DataDir == "" {
		app.DataDir = os.Getenv("MIND_GPFS_DIR")
	}
	return app, nil
}
