// Package settings stores named warehouse connections and load profiles in a TOML file.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"github.com/samber/lo"

	"github.com/datacampus/dcx/loader/model"
)

const (
	dirName  = ".dcx"
	fileName = "config.toml"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrNoConnection       = errors.New("no connection configured")
)

type Connection struct {
	Type                 string `toml:"type,omitempty"`
	Account              string `toml:"account,omitempty"`
	User                 string `toml:"user,omitempty"`
	Password             string `toml:"password,omitempty"`
	Database             string `toml:"database,omitempty"`
	Schema               string `toml:"schema,omitempty"`
	Warehouse            string `toml:"warehouse,omitempty"`
	Role                 string `toml:"role,omitempty"`
	Authenticator        string `toml:"authenticator,omitempty"`
	PrivateKeyPath       string `toml:"private_key_path,omitempty"`
	PrivateKeyPassphrase string `toml:"private_key_passphrase,omitempty"`
	Host                 string `toml:"host,omitempty"`
	Port                 string `toml:"port,omitempty"`
	SSLMode              string `toml:"sslmode,omitempty"`
	// Path of a duckdb database file, empty for an in-memory database.
	Path string `toml:"path,omitempty"`
}

// WarehouseType defaults to snowflake.
func (c Connection) WarehouseType() string {
	if c.Type == "" {
		return "snowflake"
	}
	return c.Type
}

// TableRef parses name and fills the parts it leaves out from the connection.
// Only snowflake sessions span databases, so the database is not defaulted elsewhere.
func (c Connection) TableRef(name string) (model.TableRef, error) {
	ref, err := model.ParseTableRef(name)
	if err != nil {
		return ref, err
	}
	if ref.Schema == "" {
		ref.Schema = c.Schema
	}
	if ref.Database == "" && c.WarehouseType() == "snowflake" {
		ref.Database = c.Database
	}
	return ref, nil
}

type Profile struct {
	Dest         string         `toml:"dest,omitempty"`
	Connection   string         `toml:"connection,omitempty"`
	Strategy     string         `toml:"strategy,omitempty"`
	Format       string         `toml:"format,omitempty"`
	SkipHeader   int            `toml:"skip_header,omitempty"`
	MostRecent   bool           `toml:"most_recent,omitempty"`
	SingleColumn bool           `toml:"single_column,omitempty"`
	Sanitize     bool           `toml:"sanitize,omitempty"`
	Strict       bool           `toml:"strict,omitempty"`
	Recursive    bool           `toml:"recursive,omitempty"`
	Audit        bool           `toml:"audit,omitempty"`
	CreateSchema bool           `toml:"create_schema,omitempty"`
	Include      []string       `toml:"include,omitempty"`
	Grants       []string       `toml:"grants,omitempty"`
	Tags         map[string]any `toml:"tags,omitempty"`
}

type File struct {
	Default     string                `toml:"default,omitempty"`
	Connections map[string]Connection `toml:"connections,omitempty"`
	Profiles    map[string]Profile    `toml:"profiles,omitempty"`
}

// DefaultPath returns ~/.dcx/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}

type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the settings file. A missing file yields empty settings.
func (s *Store) Load() (*File, error) {
	f := &File{
		Connections: map[string]Connection{},
		Profiles:    map[string]Profile{},
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := toml.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", s.path, err)
	}
	if f.Connections == nil {
		f.Connections = map[string]Connection{}
	}
	if f.Profiles == nil {
		f.Profiles = map[string]Profile{}
	}
	return f, nil
}

// Save writes the settings file, creating its directory when needed.
// The file may hold credentials, so it is only readable by the owner.
func (s *Store) Save(f *File) error {
	raw, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// Update loads the settings, applies fn and saves the result when fn succeeds.
func (s *Store) Update(fn func(*File) error) error {
	f, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return s.Save(f)
}

// AddConnection adds or replaces a connection. The first connection becomes the default.
func (f *File) AddConnection(name string, c Connection, setDefault bool) {
	f.Connections[name] = c
	if setDefault || f.Default == "" {
		f.Default = name
	}
}

// RemoveConnection deletes a connection. When it was the default, the first
// remaining connection by name becomes the default.
func (f *File) RemoveConnection(name string) error {
	if _, ok := f.Connections[name]; !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	delete(f.Connections, name)
	if f.Default == name {
		f.Default = ""
		if names := f.ConnectionNames(); len(names) > 0 {
			f.Default = names[0]
		}
	}
	return nil
}

func (f *File) SetDefault(name string) error {
	if _, ok := f.Connections[name]; !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	f.Default = name
	return nil
}

// Connection returns the named connection, or the default one when name is empty.
func (f *File) Connection(name string) (Connection, string, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" {
		return Connection{}, "", ErrNoConnection
	}
	c, ok := f.Connections[name]
	if !ok {
		return Connection{}, "", fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	return c, name, nil
}

func (f *File) ConnectionNames() []string {
	return sortedKeys(f.Connections)
}

func (f *File) AddProfile(name string, p Profile) {
	f.Profiles[name] = p
}

func (f *File) RemoveProfile(name string) error {
	if _, ok := f.Profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	delete(f.Profiles, name)
	return nil
}

func (f *File) Profile(name string) (Profile, error) {
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, nil
}

func (f *File) ProfileNames() []string {
	return sortedKeys(f.Profiles)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
