package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const durationPattern = `^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// configSchema constrains the shape of duet.json before it reaches viper
var configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "agent": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string"},
        "peer": {"type": "string"},
        "voice": {"type": "string"},
        "chat_dir": {"type": "string"},
        "character_dir": {"type": "string"},
        "starter": {"type": "boolean"}
      }
    },
    "completion": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "provider": {"enum": ["openai", "anthropic"]},
        "model": {"type": "string", "minLength": 1},
        "base_url": {"type": "string"},
        "api_key": {"type": "string"},
        "temperature": {"type": "number", "minimum": 0, "maximum": 2},
        "max_tokens": {"type": "integer", "minimum": 1},
        "max_retries": {"type": "integer", "minimum": 0}
      }
    },
    "follow": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "backoff": {"type": "string", "pattern": "` + durationPattern + `"},
        "poll_interval": {"type": "string", "pattern": "` + durationPattern + `"},
        "from_start": {"type": "boolean"}
      }
    },
    "playback": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "command": {"type": "string"}
      }
    },
    "journal": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"}
      }
    },
    "transcript": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "history_limit": {"type": "integer", "minimum": 0}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "pretty": {"type": "boolean"},
        "max_size": {"type": "integer", "minimum": 0},
        "max_age": {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"},
        "redaction": {"type": "boolean"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "addr": {"type": "string"}
      }
    },
    "tracing": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "file": {"type": "string"}
      }
    },
    "startup_delay": {"type": "string", "pattern": "` + durationPattern + `"},
    "max_turns": {"type": "integer", "minimum": 0}
  }
}`

var schema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return s, nil
})

// ValidateDocument checks a raw JSON config document against the schema
func ValidateDocument(raw []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("config does not match schema: %s", strings.Join(problems, "; "))
}
