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

// Package accelerate manages the per-rank configuration generator used by
// multi-node `accelerate launch` jobs.
package accelerate

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"

	"hpc-submit/pkg/logging"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Paths relative to the shared store ($STORE).
const (
	GeneratorRelPath  = "idris/accelerate.py"
	RankConfigRelDir  = "idris/config_accelerate_rank"
	DefaultMasterPort = 12346
)

// Paths as referenced from inside a batch script, where $STORE is set.
const (
	GeneratorScriptRef = "${STORE}/" + GeneratorRelPath
	RankConfigRef      = "${STORE}/" + RankConfigRelDir + "/${SLURM_PROCID}.yaml"
)

// GeneratorTemplate writes one accelerate config per machine rank. It runs on
// the first node of the allocation and reads the Slurm environment there.
const GeneratorTemplate = `import os
import yaml
from os.path import join

STORE = os.environ['STORE']

master_port = {{.MasterPort}}
master_addr = os.environ['SLURMD_NODENAME']
num_machines = int(os.environ['SLURM_NNODES'])

nb_gpus = len(os.environ['SLURM_JOB_GPUS'].split(','))
num_processes = num_machines * nb_gpus

for machine_rank in range(num_machines):
    config_accelerate = {
        'compute_environment': 'LOCAL_MACHINE',
        'deepspeed_config': {},
        'distributed_type': 'MULTI_GPU',
        'downcast_bf16': 'no',
        'dynamo_backend': 'NO',
        'fsdp_config': {},
        'gpu_ids': 'all',
        'machine_rank': machine_rank,
        'main_process_ip': master_addr,
        'main_process_port': master_port,
        'main_training_function': 'main',
        'megatron_lm_config': {},
        'mixed_precision': 'no',
        'num_machines': num_machines,
        'num_processes': num_processes,
        'rdzv_backend': 'static',
        'same_network': True,
        'tpu_env': [],
        'tpu_use_cluster': False,
        'tpu_use_sudo': False,
        'use_cpu': False,
    }

    head_path = join(STORE, '{{.RankConfigDir}}')
    os.makedirs(head_path, exist_ok=True)
    with open(join(head_path, str(machine_rank) + ".yaml"), "w") as file:
        yaml.dump(config_accelerate, file)
`

// GeneratorOptions parameterises the generator script.
type GeneratorOptions struct {
	MasterPort int
}

// GenerateScript renders the generator script.
func GenerateScript(opts GeneratorOptions) (string, error) {
	port := opts.MasterPort
	if port == 0 {
		port = DefaultMasterPort
	}

	tmpl, err := template.New("accelerate").Parse(GeneratorTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse generator template: %w", err)
	}

	data := struct {
		MasterPort    int
		RankConfigDir string
	}{
		MasterPort:    port,
		RankConfigDir: RankConfigRelDir,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute generator template: %w", err)
	}
	return buf.String(), nil
}

// Install writes the generator below storeRoot unless a file already exists
// there. The existing file is never compared or refreshed, so a generator
// written by an older version stays in place.
// TODO: version the generator so content changes are picked up.
func Install(fs afero.Fs, storeRoot string, opts GeneratorOptions) (string, bool, error) {
	if storeRoot == "" {
		return "", false, errors.New("the shared store root is unknown, set $STORE or store_root in the config")
	}
	path := filepath.Join(storeRoot, GeneratorRelPath)

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to check for generator %s", path)
	}
	if exists {
		logging.Debug("Rank config generator already installed at %s", path)
		return path, false, nil
	}

	content, err := GenerateScript(opts)
	if err != nil {
		return "", false, err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		return "", false, errors.Wrapf(err, "failed to write generator %s", path)
	}
	logging.Info("Installed rank config generator at %s", path)
	return path, true, nil
}
