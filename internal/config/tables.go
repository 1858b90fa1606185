package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"combat-meter/internal/domain"
	"combat-meter/internal/skillmerge"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Tables holds the static lookup data: skill merge groups, the numeric field
// whitelist used while merging, and instance id to map name.
type Tables struct {
	SkillGroups map[string][]string `mapstructure:"skill_groups"`
	MergeFields []string            `mapstructure:"merge_fields"`
	MapNames    map[string]string   `mapstructure:"map_names"`

	table     skillmerge.Table
	whitelist skillmerge.Whitelist
}

func (t *Tables) build() {
	t.table = skillmerge.NewTable(t.SkillGroups)
	t.whitelist = skillmerge.NewWhitelist(t.MergeFields)
}

func EmptyTables() *Tables {
	t := &Tables{}
	t.build()
	return t
}

func NewTables(groups map[string][]string, fields []string, mapNames map[string]string) (*Tables, error) {
	t := &Tables{SkillGroups: groups, MergeFields: fields, MapNames: mapNames}
	if err := t.validate(); err != nil {
		return nil, err
	}
	t.build()
	return t, nil
}

func (t *Tables) validate() error {
	for _, f := range t.MergeFields {
		if !skillmerge.IsField(f) {
			return fmt.Errorf("unknown merge field %q", f)
		}
	}
	return nil
}

func LoadTables(cfg *Config, logger zerolog.Logger) (*Tables, error) {
	return LoadTablesFile(cfg.TablesPath, logger)
}

// LoadTablesFile reads a YAML, TOML or JSON tables file. An empty path yields
// empty tables.
func LoadTablesFile(path string, logger zerolog.Logger) (*Tables, error) {
	if path == "" {
		logger.Debug().Msg("no tables file configured, skill merge disabled")
		return EmptyTables(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read tables file: %w", err)
	}
	t, err := decodeTables(v)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("path", path).
		Int("skill_groups", len(t.SkillGroups)).
		Int("map_names", len(t.MapNames)).
		Strs("merge_fields", t.MergeFields).
		Msg("tables loaded")
	return t, nil
}

// ParseTables reads tables from r in the given format ("yaml", "json", ...).
func ParseTables(r io.Reader, format string) (*Tables, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}
	return decodeTables(v)
}

func decodeTables(v *viper.Viper) (*Tables, error) {
	t := &Tables{}
	if err := v.Unmarshal(t); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	t.build()
	return t, nil
}

func (t *Tables) Table() skillmerge.Table {
	return t.table
}

func (t *Tables) Whitelist() skillmerge.Whitelist {
	return t.whitelist
}

// Merge canonicalizes a raw skill map with the loaded groups.
func (t *Tables) Merge(skills map[string]domain.Skill) map[string]domain.Skill {
	return skillmerge.Merge(skills, t.table, t.whitelist)
}

func (t *Tables) MapName(instanceID int64) (string, bool) {
	name, ok := t.MapNames[strconv.FormatInt(instanceID, 10)]
	name = strings.TrimSpace(name)
	return name, ok && name != ""
}
