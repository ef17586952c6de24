package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ACERVO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "ACERVO_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "source.base_url", typ: kString, env: "ACERVO_SOURCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Source.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.BaseURL },
	},
	{
		key: "provider.openai_api_key", typ: kString, env: "ACERVO_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.OpenAIAPIKey },
	},
	{
		key: "provider.mistral_api_key", typ: kString, env: "ACERVO_MISTRAL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.MistralAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.MistralAPIKey },
	},
	{
		key: "provider.chat_model", typ: kString, env: "ACERVO_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.ChatModel },
	},
	{
		key: "provider.embed_model", typ: kString, env: "ACERVO_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.EmbedModel },
	},
	{
		key: "search.max_items", typ: kInt, env: "ACERVO_SEARCH_MAX_ITEMS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxItems = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxItems },
	},
	{
		key: "search.system_prompt", typ: kString, env: "ACERVO_SYSTEM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Search.SystemPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.SystemPrompt },
	},
	{
		key: "indexing.chunk_size", typ: kInt, env: "ACERVO_INDEXING_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Indexing.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Indexing.ChunkSize },
	},
	{
		key: "indexing.fields", typ: kString, env: "ACERVO_INDEXING_FIELDS",
		apply:   func(cfg *Config, v any) { cfg.Indexing.Fields = v.(string) },
		extract: func(cfg Config) any { return cfg.Indexing.Fields },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ACERVO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "ACERVO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
