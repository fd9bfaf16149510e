package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appYAML = `
GRAPH_URI: bolt://graph:7687
GRAPH_USER: neo4j
GRAPH_PASSWORD: ${MIND_TEST_GRAPH_PASSWORD}
cohort_service_port: 5090
radiology_service_processes: 8
legacy_port: "5003"
object_store:
  endpoint: minio:9000
  secure: true
spark:
  driver:
    memory: 4g
`

func loadApp(t *testing.T) *Set {
	t.Helper()
	t.Setenv("MIND_TEST_GRAPH_PASSWORD", "s3cret")
	s := NewSet()
	require.NoError(t, s.LoadBytes(AppConfig, []byte(appYAML)))
	return s
}

func TestSet_Get(t *testing.T) {
	s := loadApp(t)

	uri, err := s.GetString("APP_CFG::GRAPH_URI")
	require.NoError(t, err)
	assert.Equal(t, "bolt://graph:7687", uri)

	pwd, err := s.GetString("APP_CFG::GRAPH_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pwd, "environment references are expanded")

	mem, err := s.GetString("APP_CFG::spark::driver::memory")
	require.NoError(t, err)
	assert.Equal(t, "4g", mem)

	port, err := s.GetInt("APP_CFG::cohort_service_port")
	require.NoError(t, err)
	assert.Equal(t, 5090, port)

	legacy, err := s.GetInt("APP_CFG::legacy_port")
	require.NoError(t, err)
	assert.Equal(t, 5003, legacy, "quoted integers parse")
}

func TestSet_GetMissing(t *testing.T) {
	s := loadApp(t)

	_, err := s.Get("APP_CFG::NOPE")
	assert.ErrorIs(t, err, ErrMissingKey)
	_, err = s.Get("DATA_CFG::GRAPH_URI")
	assert.ErrorIs(t, err, ErrMissingKey)
	_, err = s.Get("GRAPH_URI")
	assert.Error(t, err)
	_, err = s.GetString("APP_CFG::spark")
	assert.Error(t, err, "maps are not scalars")

	assert.False(t, s.Has("APP_CFG::spark::executor"))
	assert.True(t, s.Has("APP_CFG::spark::driver"))
	assert.Equal(t, "fallback", s.StringOr("APP_CFG::NOPE", "fallback"))
	assert.Equal(t, 3, s.IntOr("APP_CFG::NOPE", 3))
}

func TestSet_UndefinedEnv(t *testing.T) {
	s := NewSet()
	err := s.LoadBytes(DataConfig, []byte("path: ${MIND_TEST_SURELY_UNDEFINED}/x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIND_TEST_SURELY_UNDEFINED")
}

func TestSet_Validate(t *testing.T) {
	s := loadApp(t)

	ok := Schema{
		"GRAPH_URI":            "string",
		"cohort_service_port":  "int",
		"object_store::secure": "bool",
		"spark":                "map",
	}
	assert.NoError(t, s.Validate(AppConfig, ok))

	bad := Schema{
		"GRAPH_URI":           "int",
		"MISSING_KEY":         "string",
		"cohort_service_port": "int",
	}
	err := s.Validate(AppConfig, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing MISSING_KEY")
	assert.Contains(t, err.Error(), "GRAPH_URI should be int")
}

func TestSet_LoadWithSchemaFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "data_config.yaml")
	schemaPath := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("FILE_TYPE: csv\nDATA_TYPE: diagnosis\n"), 0o644))
	require.NoError(t, os.WriteFile(schemaPath, []byte("FILE_TYPE: string\nDATA_TYPE: string\n"), 0o644))

	s := NewSet()
	require.NoError(t, s.Load(DataConfig, cfgPath, schemaPath))

	require.NoError(t, os.WriteFile(schemaPath, []byte("RAW_DATA_PATH: string\n"), 0o644))
	assert.Error(t, NewSet().Load(DataConfig, cfgPath, schemaPath))
}

func TestSet_App(t *testing.T) {
	s := loadApp(t)
	t.Setenv("MIND_GPFS_DIR", "/gpfs/mind")

	app, err := s.App()
	require.NoError(t, err)
	assert.Equal(t, "bolt://graph:7687", app.GraphURI)
	assert.Equal(t, 5090, app.CohortServicePort)
	assert.Equal(t, 5001, app.ProcessingServicePort, "default kept")
	assert.Equal(t, "minio:9000", app.ObjectStore.Endpoint)
	assert.True(t, app.ObjectStore.Secure)
	assert.Equal(t, "us-east-1", app.ObjectStore.Region, "nested default kept")
	assert.Equal(t, "/gpfs/mind", app.DataDir)
}
