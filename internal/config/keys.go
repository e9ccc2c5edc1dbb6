package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Secrets (auth tokens, secret keys) are not listed; set them in the file or
// through the environment.
var allowedKeys = []string{
	"api_url",
	"log_level",
	"api_token_hash",
	"layout.node_collection",
	"layout.file_collection",
	"layout.cover_field",
	"layout.sections_field",
	"layout.section_type_field",
	"layout.file_section_type",
	"layout.section_blob_field",
	"layout.file_blob_field",
	"source.records.backend",
	"source.records.path",
	"source.records.url",
	"source.blobs.backend",
	"source.blobs.root",
	"source.blobs.bucket",
	"source.blobs.prefix",
	"source.blobs.region",
	"source.blobs.endpoint",
	"source.blobs.credentials_file",
	"source.blobs.access_key_id",
	"source.blobs.ref_style",
	"target.records.backend",
	"target.records.path",
	"target.records.url",
	"target.blobs.backend",
	"target.blobs.root",
	"target.blobs.bucket",
	"target.blobs.prefix",
	"target.blobs.region",
	"target.blobs.endpoint",
	"target.blobs.credentials_file",
	"target.blobs.access_key_id",
	"target.blobs.ref_style",
	"transfer.concurrency",
	"transfer.staging_dir",
	"transfer.key_prefix",
	"transfer.retry_steps",
	"transfer.retry_initial",
	"transfer.timeout",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	return slices.Contains(allowedKeys, key)
}

func (c *Config) stringFields() map[string]*string {
	fields := map[string]*string{
		"api_url":                   &c.APIURL,
		"log_level":                 &c.LogLevel,
		"api_token_hash":            &c.APITokenHash,
		"layout.node_collection":    &c.Layout.NodeCollection,
		"layout.file_collection":    &c.Layout.FileCollection,
		"layout.cover_field":        &c.Layout.CoverField,
		"layout.sections_field":     &c.Layout.SectionsField,
		"layout.section_type_field": &c.Layout.SectionTypeField,
		"layout.file_section_type":  &c.Layout.FileSectionType,
		"layout.section_blob_field": &c.Layout.SectionBlobField,
		"layout.file_blob_field":    &c.Layout.FileBlobField,
		"transfer.staging_dir":      &c.Transfer.StagingDir,
		"transfer.key_prefix":       &c.Transfer.KeyPrefix,
		"transfer.retry_initial":    &c.Transfer.RetryInitial,
		"transfer.timeout":          &c.Transfer.Timeout,
	}
	for name, side := range map[string]*SideConfig{"source": &c.Source, "target": &c.Target} {
		fields[name+".records.backend"] = &side.Records.Backend
		fields[name+".records.path"] = &side.Records.Path
		fields[name+".records.url"] = &side.Records.URL
		fields[name+".blobs.backend"] = &side.Blobs.Backend
		fields[name+".blobs.root"] = &side.Blobs.Root
		fields[name+".blobs.bucket"] = &side.Blobs.Bucket
		fields[name+".blobs.prefix"] = &side.Blobs.Prefix
		fields[name+".blobs.region"] = &side.Blobs.Region
		fields[name+".blobs.endpoint"] = &side.Blobs.Endpoint
		fields[name+".blobs.credentials_file"] = &side.Blobs.CredentialsFile
		fields[name+".blobs.access_key_id"] = &side.Blobs.AccessKeyID
		fields[name+".blobs.ref_style"] = &side.Blobs.RefStyle
	}
	return fields
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "transfer.concurrency":
		return strconv.Itoa(c.Transfer.Concurrency), nil
	case "transfer.retry_steps":
		return strconv.Itoa(c.Transfer.RetrySteps), nil
	}
	if field, ok := c.stringFields()[key]; ok && IsAllowedKey(key) {
		return *field, nil
	}
	return "", fmt.Errorf("unknown key: %s", key)
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch {
	case key == "transfer.concurrency" || key == "transfer.retry_steps":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return int64(parsed), nil
	case key == "transfer.retry_initial" || key == "transfer.timeout":
		if _, err := ParseDuration(value); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return value, nil
	case key == "log_level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "warning", "error":
			return value, nil
		}
		return nil, fmt.Errorf("log_level must be one of debug, info, warn, error")
	case strings.HasSuffix(key, ".records.backend"):
		if !slices.Contains(recordsBackends, value) {
			return nil, fmt.Errorf("%s must be one of %s", key, strings.Join(recordsBackends, ", "))
		}
		return value, nil
	case strings.HasSuffix(key, ".blobs.backend"):
		if !slices.Contains(blobsBackends, value) {
			return nil, fmt.Errorf("%s must be one of %s", key, strings.Join(blobsBackends, ", "))
		}
		return value, nil
	case strings.HasSuffix(key, ".blobs.ref_style"):
		if !slices.Contains(refStyles, strings.ToLower(value)) {
			return nil, fmt.Errorf("%s must be one of path, firebase, uri", key)
		}
		return value, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}
