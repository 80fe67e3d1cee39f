package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, "rowgraph.yaml", "mappings:\n  file: defs.yaml\n")

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, "defs.yaml", cfg.Mappings.File)
	assert.Equal(t, "partial", cfg.Engine.AutoMappingBehavior)
	assert.True(t, cfg.Engine.SafeResultHandlerEnabled)
	assert.Equal(t, "session", cfg.Engine.LocalCacheScope)
	assert.Equal(t, OutputSpew, cfg.Run.Output)
	assert.Equal(t, 5*time.Minute, cfg.Database.Pool.MaxLifetime)
	assert.Equal(t, "rowgraph", cfg.Observability.ServiceName)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "rowgraph.yaml", `
database:
  driver: postgres
  host: filehost
  user: fileuser
engine:
  auto_mapping_behavior: none
run:
  limit: 5
`)
	t.Setenv("ROWGRAPH_DATABASE_HOST", "envhost")
	t.Setenv("ROWGRAPH_RUN_LIMIT", "7")

	cfg, err := Load([]string{"--config", path, "--run.limit=9", "--run.params", "id=3,kind=draft", "authorById"})
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver, "file beats default")
	assert.Equal(t, "fileuser", cfg.Database.User)
	assert.Equal(t, "envhost", cfg.Database.Host, "env beats file")
	assert.Equal(t, 9, cfg.Run.Limit, "flag beats env")
	assert.Equal(t, "none", cfg.Engine.AutoMappingBehavior)
	assert.Equal(t, map[string]string{"id": "3", "kind": "draft"}, cfg.Run.Params)
	assert.Equal(t, "authorById", cfg.Run.Statement, "positional argument names the statement")
}

func TestLoad_SecretFiles(t *testing.T) {
	pwd := writeFile(t, "password", "  s3cret\n")
	dsn := writeFile(t, "dsn", "u:p@tcp(h:1)/db\n")

	cfg, err := Load([]string{
		"--config", writeFile(t, "rowgraph.yaml", "{}\n"),
		"--database.password_file", pwd,
		"--database.dsn_file", dsn,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "u:p@tcp(h:1)/db", cfg.Database.ConnectionString)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeFile(t, "rowgraph.yaml", "engine:\n  second_level_cache: true\n")
		_, err := Load([]string{"--config", path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "second_level_cache")
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := Load([]string{"--server.port", "8080"})
		assert.Error(t, err)
	})

	t.Run("two stdin sources", func(t *testing.T) {
		path := writeFile(t, "rowgraph.yaml", "{}\n")
		_, err := Load([]string{"--config", path, "--database.dsn_file", "@-", "--database.password_file", "@-"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only one @- source")
	})
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "/tmp/dsn")
		v.Set("database.password_file", "/tmp/password")
		assert.NoError(t, validateSingleStdinFileSource(v))
	})

	t.Run("one", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "@-")
		v.Set("database.password_file", "/tmp/password")
		assert.NoError(t, validateSingleStdinFileSource(v))
	})

	t.Run("two", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "@-")
		v.Set("database.password_file", " @- ")
		err := validateSingleStdinFileSource(v)
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "database.dsn_file") && strings.Contains(err.Error(), "database.password_file"))
	})
}
