// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads user settings from a YAML file and the environment.
package config

import (
	"path/filepath"

	"hpc-submit/pkg/run/accelerate"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// DefaultFileName is looked up in the home directory when no file is given.
const DefaultFileName = ".jzsub.yaml"

// EnvPrefix prefixes the environment variables of keys without a dedicated one.
const EnvPrefix = "JZSUB"

const (
	KeyHome            = "home"
	KeyStoreRoot       = "store_root"
	KeyWorkRoot        = "work_root"
	KeySubmissionsRoot = "submissions_root"
	KeyCondaPath       = "conda_path"
	KeyAccount         = "account"
	KeyEmail           = "email"
	KeyModules         = "modules"
	KeyMasterPort      = "master_port"
)

// Settings is the resolved configuration.
type Settings struct {
	HomeDir         string
	StoreRoot       string
	WorkRoot        string
	SubmissionsRoot string
	CondaPath       string
	Account         string
	Email           string
	Modules         []string
	MasterPort      int
	// File is the config file that was read, empty when none was found.
	File string
}

// New returns a viper instance reading from fs. Cluster variables keep
// their usual names: $HOME, $STORE, $WORK and $SUB.
func New(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	_ = v.BindEnv(KeyHome, "HOME")
	_ = v.BindEnv(KeyStoreRoot, "STORE")
	_ = v.BindEnv(KeyWorkRoot, "WORK")
	_ = v.BindEnv(KeySubmissionsRoot, "SUB")

	v.SetDefault(KeyMasterPort, accelerate.DefaultMasterPort)
	v.SetDefault(KeyModules, []string{})
	return v
}

// Load reads cfgFile, or the default file in the home directory when
// cfgFile is empty. A missing default file is not an error.
func Load(v *viper.Viper, fs afero.Fs, cfgFile string) (Settings, error) {
	path := cfgFile
	if path == "" {
		if home := v.GetString(KeyHome); home != "" {
			path = filepath.Join(home, DefaultFileName)
		}
	}

	var read string
	if path != "" {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "failed to check config file %s", path)
		}
		switch {
		case exists:
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, errors.Wrapf(err, "failed to read config file %s", path)
			}
			read = path
		case cfgFile != "":
			return Settings{}, errors.Errorf("config file %s does not exist", cfgFile)
		}
	}

	s := Settings{
		HomeDir:         v.GetString(KeyHome),
		StoreRoot:       v.GetString(KeyStoreRoot),
		WorkRoot:        v.GetString(KeyWorkRoot),
		SubmissionsRoot: v.GetString(KeySubmissionsRoot),
		CondaPath:       v.GetString(KeyCondaPath),
		Account:         v.GetString(KeyAccount),
		Email:           v.GetString(KeyEmail),
		Modules:         v.GetStringSlice(KeyModules),
		MasterPort:      v.GetInt(KeyMasterPort),
		File:            read,
	}
	if s.SubmissionsRoot == "" && s.StoreRoot != "" {
		s.SubmissionsRoot = filepath.Join(s.StoreRoot, "submissions")
	}
	if s.MasterPort <= 0 || s.MasterPort > 65535 {
		return Settings{}, errors.Errorf("invalid %s %d", KeyMasterPort, s.MasterPort)
	}
	return s, nil
}
