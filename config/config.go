// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads the application configuration from an optional
// YAML file with environment variable overrides on top.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "REGDEX_CONFIG"
	databasePathEnv   = "REGDEX_DB_PATH"
	downloadDirEnv    = "REGDEX_DOWNLOAD_DIR"
	embeddingHostEnv  = "REGDEX_EMBEDDING_HOST"
	embeddingModelEnv = "REGDEX_EMBEDDING_MODEL"
	embeddingKeyEnv   = "OPENAI_API_KEY"
	qdrantAddrEnv     = "REGDEX_QDRANT_ADDR"
	collectionEnv     = "REGDEX_COLLECTION"
	workersEnv        = "REGDEX_WORKERS"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Download  DownloadConfig  `yaml:"download"`
	OCR       OCRConfig       `yaml:"ocr"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Feeds     []FeedConfig    `yaml:"feeds"`
}

// DatabaseConfig describes the local record store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DownloadConfig describes where and how source PDFs are fetched.
type DownloadConfig struct {
	Dir             string        `yaml:"dir"`
	RequestInterval time.Duration `yaml:"requestInterval"`
	MinSize         int64         `yaml:"minSize"`
}

// OCRConfig describes text recognition settings.
type OCRConfig struct {
	Language string `yaml:"language"`
	DPI      int    `yaml:"dpi"`
}

// EmbeddingConfig describes the embedding service.
type EmbeddingConfig struct {
	Host       string `yaml:"host"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"apiKey"`
	Dimensions int    `yaml:"dimensions"`
}

// IndexConfig describes the vector index.
type IndexConfig struct {
	QdrantAddr string `yaml:"qdrantAddr"`
	Collection string `yaml:"collection"`
}

// PipelineConfig tunes sweep execution.
type PipelineConfig struct {
	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"maxAttempts"`
}

// FeedConfig describes one discovery source. Listing feeds crawl an
// HTML page; file feeds read a JSON manifest.
type FeedConfig struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"` // "listing" or "file"
	URL           string `yaml:"url"`
	Path          string `yaml:"path"`
	RowSelector   string `yaml:"rowSelector"`
	LinkSelector  string `yaml:"linkSelector"`
	TitleSelector string `yaml:"titleSelector"`
	DateSelector  string `yaml:"dateSelector"`
	DateFormat    string `yaml:"dateFormat"`
	Language      string `yaml:"language"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(downloadDirEnv); v != "" {
		c.Download.Dir = v
	}
	if v := os.Getenv(embeddingHostEnv); v != "" {
		c.Embedding.Host = v
	}
	if v := os.Getenv(embeddingModelEnv); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv(embeddingKeyEnv); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv(qdrantAddrEnv); v != "" {
		c.Index.QdrantAddr = v
	}
	if v := os.Getenv(collectionEnv); v != "" {
		c.Index.Collection = v
	}
	if v := os.Getenv(workersEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Workers = n
		}
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Download.Dir != "" {
		base.Download.Dir = override.Download.Dir
	}
	if override.Download.RequestInterval > 0 {
		base.Download.RequestInterval = override.Download.RequestInterval
	}
	if override.Download.MinSize > 0 {
		base.Download.MinSize = override.Download.MinSize
	}

	if override.OCR.Language != "" {
		base.OCR.Language = override.OCR.Language
	}
	if override.OCR.DPI > 0 {
		base.OCR.DPI = override.OCR.DPI
	}

	if override.Embedding.Host != "" {
		base.Embedding.Host = override.Embedding.Host
	}
	if override.Embedding.Model != "" {
		base.Embedding.Model = override.Embedding.Model
	}
	if override.Embedding.APIKey != "" {
		base.Embedding.APIKey = override.Embedding.APIKey
	}
	if override.Embedding.Dimensions > 0 {
		base.Embedding.Dimensions = override.Embedding.Dimensions
	}

	if override.Index.QdrantAddr != "" {
		base.Index.QdrantAddr = override.Index.QdrantAddr
	}
	if override.Index.Collection != "" {
		base.Index.Collection = override.Index.Collection
	}

	if override.Pipeline.Workers > 0 {
		base.Pipeline.Workers = override.Pipeline.Workers
	}
	if override.Pipeline.MaxAttempts > 0 {
		base.Pipeline.MaxAttempts = override.Pipeline.MaxAttempts
	}

	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "regdex.db"},
		Download: DownloadConfig{
			Dir:             "downloads",
			RequestInterval: 2 * time.Second,
			MinSize:         1024,
		},
		OCR: OCRConfig{Language: "ben+eng", DPI: 300},
		Embedding: EmbeddingConfig{
			Host:       "https://api.openai.com/v1",
			Model:      "text-embedding-3-large",
			Dimensions: 3072,
		},
		Index: IndexConfig{
			QdrantAddr: "localhost:6334",
			Collection: "regdex",
		},
		Pipeline: PipelineConfig{Workers: 4, MaxAttempts: 3},
	}
}
