package config

type Config struct {
	Server   ServerConfig
	Source   SourceConfig
	Provider ProviderConfig
	Search   SearchConfig
	Indexing IndexingConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

// SourceConfig points at the Tainacan-compatible REST API that owns the
// collections being indexed.
type SourceConfig struct {
	BaseURL string
}

type ProviderConfig struct {
	OpenAIAPIKey  string
	MistralAPIKey string
	ChatModel     string
	EmbedModel    string
}

type SearchConfig struct {
	MaxItems     int
	SystemPrompt string
}

type IndexingConfig struct {
	ChunkSize int
	Fields    string // comma-separated section names for item formatting
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// DefaultSystemPrompt grounds the generated answer in retrieved documents only.
const DefaultSystemPrompt = "You are a digital curator specialized in museum and archival " +
	"collections. Answer using only the information in the documents below. " +
	"Use clear, confident, educational language. Never invent anything."

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Source: SourceConfig{
			BaseURL: "http://localhost:8080/wp-json/tainacan/v2",
		},
		Provider: ProviderConfig{
			ChatModel:  "gpt-4o",
			EmbedModel: "text-embedding-3-large",
		},
		Search: SearchConfig{
			MaxItems:     10,
			SystemPrompt: DefaultSystemPrompt,
		},
		Indexing: IndexingConfig{
			ChunkSize: 512,
			Fields:    "title,description,metadata",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/acervo/config.json and applies ACERVO_* environment
// variable overrides on top. Missing provider credentials are not an error
// here; the provider clients report them when first used.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
