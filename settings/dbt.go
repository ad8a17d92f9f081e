package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const dbtProfilesFile = "profiles.yml"

var supportedDBTTypes = map[string]struct{}{
	"snowflake": {},
	"postgres":  {},
	"duckdb":    {},
}

// DBTTarget is one output of a dbt profile.
type DBTTarget struct {
	Profile string `mapstructure:"-"`
	Name    string `mapstructure:"-"`

	Type                 string `mapstructure:"type"`
	Account              string `mapstructure:"account"`
	User                 string `mapstructure:"user"`
	Password             string `mapstructure:"password"`
	Role                 string `mapstructure:"role"`
	Database             string `mapstructure:"database"`
	DBName               string `mapstructure:"dbname"`
	Warehouse            string `mapstructure:"warehouse"`
	Schema               string `mapstructure:"schema"`
	Authenticator        string `mapstructure:"authenticator"`
	PrivateKeyPath       string `mapstructure:"private_key_path"`
	PrivateKeyPassphrase string `mapstructure:"private_key_passphrase"`
	Host                 string `mapstructure:"host"`
	Port                 string `mapstructure:"port"`
	SSLMode              string `mapstructure:"sslmode"`
	Path                 string `mapstructure:"path"`
}

func (t *DBTTarget) Decode(m map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           t,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(m)
}

// Connection converts the target into a dcx connection. Passwords are not
// imported. Snowflake targets without an authenticator use key pair
// authentication when a key is configured, password authentication when a
// password is configured and the external browser otherwise.
func (t DBTTarget) Connection() Connection {
	c := Connection{
		Type:      t.Type,
		Account:   t.Account,
		User:      t.User,
		Database:  firstNonEmpty(t.Database, t.DBName),
		Schema:    t.Schema,
		Warehouse: t.Warehouse,
		Role:      t.Role,
		Host:      t.Host,
		Port:      t.Port,
		SSLMode:   t.SSLMode,
		Path:      t.Path,
	}
	if t.Type != "snowflake" {
		return c
	}
	switch {
	case t.Authenticator != "":
		c.Authenticator = t.Authenticator
		c.PrivateKeyPath = t.PrivateKeyPath
	case t.PrivateKeyPath != "":
		c.Authenticator = "snowflake_jwt"
		c.PrivateKeyPath = t.PrivateKeyPath
	case t.Password != "":
		c.Authenticator = "snowflake"
	default:
		c.Authenticator = "externalbrowser"
	}
	return c
}

func (t DBTTarget) String() string {
	return t.Profile + "." + t.Name
}

type dbtProfile struct {
	Target  string                    `yaml:"target"`
	Outputs map[string]map[string]any `yaml:"outputs"`
}

// DBTProfilesPath locates profiles.yml in $DBT_PROFILES_DIR or ~/.dbt.
func DBTProfilesPath() (string, error) {
	if dir := os.Getenv("DBT_PROFILES_DIR"); dir != "" {
		path := filepath.Join(dir, dbtProfilesFile)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	path := filepath.Join(home, ".dbt", dbtProfilesFile)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("dbt profiles not found: %w", err)
	}
	return path, nil
}

func readDBTProfiles(path string) (map[string]dbtProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dbt profiles: %w", err)
	}
	// top level keys other than profiles (e.g. config) are not mappings of outputs
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing dbt profiles %s: %w", path, err)
	}
	profiles := make(map[string]dbtProfile, len(doc))
	for name, node := range doc {
		var p dbtProfile
		if err := node.Decode(&p); err != nil || len(p.Outputs) == 0 {
			continue
		}
		profiles[name] = p
	}
	return profiles, nil
}

// DBTTargets returns every supported target of the profiles file, ordered by profile and target name.
func DBTTargets(path string) ([]DBTTarget, error) {
	profiles, err := readDBTProfiles(path)
	if err != nil {
		return nil, err
	}
	var targets []DBTTarget
	for profileName, p := range profiles {
		for targetName, output := range p.Outputs {
			var t DBTTarget
			if err := t.Decode(output); err != nil {
				return nil, fmt.Errorf("decoding dbt target %s.%s: %w", profileName, targetName, err)
			}
			if _, ok := supportedDBTTypes[t.Type]; !ok {
				continue
			}
			t.Profile, t.Name = profileName, targetName
			targets = append(targets, t)
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].String() < targets[j].String()
	})
	return targets, nil
}

// ProjectTarget returns the default target of the profile named by dir/dbt_project.yml.
// It returns nil without error when dir holds no dbt project.
func ProjectTarget(dir, profilesPath string) (*DBTTarget, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "dbt_project.yml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading dbt project: %w", err)
	}
	var project struct {
		Profile string `yaml:"profile"`
	}
	if err := yaml.Unmarshal(raw, &project); err != nil {
		return nil, fmt.Errorf("parsing dbt project: %w", err)
	}
	if project.Profile == "" {
		return nil, nil
	}

	profiles, err := readDBTProfiles(profilesPath)
	if err != nil {
		return nil, err
	}
	p, ok := profiles[project.Profile]
	if !ok {
		return nil, fmt.Errorf("dbt profile %q not found in %s", project.Profile, profilesPath)
	}
	targetName := p.Target
	if targetName == "" {
		targetName = "dev"
	}
	output, ok := p.Outputs[targetName]
	if !ok {
		return nil, fmt.Errorf("dbt target %s.%s not found", project.Profile, targetName)
	}
	t := &DBTTarget{Profile: project.Profile, Name: targetName}
	if err := t.Decode(output); err != nil {
		return nil, fmt.Errorf("decoding dbt target %s: %w", t, err)
	}
	if _, ok := supportedDBTTypes[t.Type]; !ok {
		return nil, fmt.Errorf("dbt target %s has unsupported type %q", t, t.Type)
	}
	return t, nil
}
