/*
Copyright 2024 Confere Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/wacul/ptr"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"

	DefaultExtractorModel       = "gpt-4o-mini"
	DefaultExtractorTimeoutSec  = 60
	DefaultExtractorConcurrency = 4
	DefaultExtractorMaxRetries  = 3

	DefaultDateDriftDays = 2
	DefaultNameDrift     = 30.0
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"CONFERE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CONFERE_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"CONFERE_SERVER_PORT"`
}

// ExtractorConfig configures the document-understanding boundary. The API key
// is injected here and handed to an explicitly constructed client; nothing in
// the codebase sets it process-wide.
type ExtractorConfig struct {
	ApiKey         string `json:"api_key" envconfig:"CONFERE_EXTRACTOR_API_KEY"`
	BaseUrl        string `json:"base_url" envconfig:"CONFERE_EXTRACTOR_BASE_URL"`
	Model          string `json:"model" envconfig:"CONFERE_EXTRACTOR_MODEL"`
	TimeoutSec     int    `json:"timeout_sec" envconfig:"CONFERE_EXTRACTOR_TIMEOUT_SEC"`
	MaxConcurrency int    `json:"max_concurrency" envconfig:"CONFERE_EXTRACTOR_MAX_CONCURRENCY"`
	MaxRetries     int    `json:"max_retries" envconfig:"CONFERE_EXTRACTOR_MAX_RETRIES"`
}

// MatchingConfig holds the tolerance policy the matching engine runs with.
// Thresholds are policy, not constants: settlement drift and extraction noise
// vary per deployment. Date and name drift are pointers so an explicit zero
// (same-day only, exact names only) is distinguishable from an unset field.
type MatchingConfig struct {
	DateDriftDays *int     `json:"date_drift_days" envconfig:"CONFERE_MATCHING_DATE_DRIFT_DAYS"`
	NameDrift     *float64 `json:"name_drift" envconfig:"CONFERE_MATCHING_NAME_DRIFT"`
	AmountDrift   float64  `json:"amount_drift" envconfig:"CONFERE_MATCHING_AMOUNT_DRIFT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string          `json:"project_name" envconfig:"CONFERE_PROJECT_NAME"`
	DataDir      string          `json:"data_dir" envconfig:"CONFERE_DATA_DIR"`
	Server       ServerConfig    `json:"server"`
	Extractor    ExtractorConfig `json:"extractor"`
	Matching     MatchingConfig  `json:"matching"`
	Notification Notification    `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("confere", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called confere.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Confere Server"
	}

	if cnf.Extractor.ApiKey == "" {
		log.Println("Error: Extractor API key is empty. It's a required field.")
		return errors.New("extractor API key is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Extractor.ApiKey = strings.TrimSpace(cnf.Extractor.ApiKey)
	cnf.Extractor.Model = strings.TrimSpace(cnf.Extractor.Model)
	cnf.DataDir = strings.TrimSpace(cnf.DataDir)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.DataDir == "" {
		cnf.DataDir = "./data"
	}

	if cnf.Extractor.Model == "" {
		cnf.Extractor.Model = DefaultExtractorModel
	}
	if cnf.Extractor.TimeoutSec <= 0 {
		cnf.Extractor.TimeoutSec = DefaultExtractorTimeoutSec
	}
	if cnf.Extractor.MaxConcurrency <= 0 {
		cnf.Extractor.MaxConcurrency = DefaultExtractorConcurrency
	}
	if cnf.Extractor.MaxRetries < 0 {
		cnf.Extractor.MaxRetries = DefaultExtractorMaxRetries
	}

	if cnf.Matching.DateDriftDays == nil {
		cnf.Matching.DateDriftDays = ptr.Int(DefaultDateDriftDays)
	}
	if *cnf.Matching.DateDriftDays < 0 {
		log.Println("Error: Matching date drift must be non-negative (days).")
		return errors.New("matching date drift must be non-negative")
	}
	if cnf.Matching.NameDrift == nil {
		cnf.Matching.NameDrift = ptr.Float64(DefaultNameDrift)
	}
	if *cnf.Matching.NameDrift < 0 || *cnf.Matching.NameDrift > 100 {
		log.Println("Error: Matching name drift must be between 0 and 100 (percentage).")
		return errors.New("matching name drift must be between 0 and 100")
	}
	if cnf.Matching.AmountDrift < 0 {
		log.Println("Error: Matching amount drift must be non-negative.")
		return errors.New("matching amount drift must be non-negative")
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
