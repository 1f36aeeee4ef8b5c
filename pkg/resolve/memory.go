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

package resolve

import (
	"fmt"

	"hpc-submit/pkg/orchestrator"
)

// Hardware selectors of the cluster.
//
//	Quad-GPU V100 16 GB          --constraint v100-16g
//	Quad-GPU V100 32 GB          --constraint v100-32g
//	Octo-GPU V100 + 384 GB RAM   --partition=gpu_p2s
//	Octo-GPU V100 + 768 GB RAM   --partition=gpu_p2l
//	Octo-GPU A100 40 GB          --partition=gpu_p4
//	Octo-GPU A100 80 GB          --partition=gpu_p5 -C a100
const (
	PrePostPartition = "prepost"

	ConstraintV100Low  = "v100-16g"
	ConstraintV100High = "v100-32g"

	PartitionOctoSmall = "gpu_p2s"
	PartitionOctoLarge = "gpu_p2l"
	PartitionA100      = "gpu_p4"
	PartitionA100Dense = "gpu_p5"

	FeatureA100 = "a100"

	// DenseModule must be loaded before anything else on gpu_p5 nodes.
	DenseModule = "cpuarch/amd"
)

// Node-level CPU counts of each node family.
const (
	quadNodeCPUs      = 40
	octoV100NodeCPUs  = 24
	a100NodeCPUs      = 48
	a100DenseNodeCPUs = 64
)

const (
	quadNodeGPUs = 4
	octoNodeGPUs = 8
)

// resolveMemoryTier selects at most one of a hardware constraint or a
// partition from the GPU memory class and the RAM tier.
//
// reads:  req.GPUMemoryGB, req.RAMTier, plan.PrePost
// writes: plan.Partition, plan.Constraint, plan.Feature, plan.Accelerator,
// plan.Dense, plan.Octo, plan.RAMTier, plan.CPUCeiling
func resolveMemoryTier(r *resolver) error {
	p := r.plan
	if p.PrePost {
		return nil
	}

	gb, ram := r.req.GPUMemoryGB, r.req.RAMTier
	var partition, constraint string
	ceiling := 0

	switch gb {
	case 16:
		constraint = ConstraintV100Low
		ceiling = quadNodeCPUs
	case 32:
		if ram == orchestrator.RAMUnset {
			constraint = ConstraintV100High
			ceiling = quadNodeCPUs
		}
	case 40:
		p.Accelerator = true
	case 80:
		p.Accelerator = true
		p.Dense = true
		if ram == orchestrator.RAMUnset {
			ram = orchestrator.RAMMedium
		}
	}

	if ram == orchestrator.RAMMedium {
		switch {
		case gb == 0:
			p.Accelerator = true
			p.Dense = true
		case !p.Dense:
			return policyError(stepMemoryTier, ErrIllegalMemoryTier,
				"ram tier %q is only available on 80GB A100 nodes, got %dGB", ram, gb)
		}
	}

	switch {
	case p.Accelerator:
		if ram == orchestrator.RAMLow || ram == orchestrator.RAMHigh {
			r.warn("ignoring ram tier %q in A100 mode", ram)
		}
		if p.Dense {
			partition = PartitionA100Dense
			ceiling = a100DenseNodeCPUs
			ram = orchestrator.RAMMedium
			p.Feature = FeatureA100
		} else {
			partition = PartitionA100
			ceiling = a100NodeCPUs
			ram = orchestrator.RAMUnset
		}
		p.Octo = true
	case ram == orchestrator.RAMLow:
		partition = PartitionOctoSmall
		ceiling = octoV100NodeCPUs
		p.Octo = true
	case ram == orchestrator.RAMHigh:
		partition = PartitionOctoLarge
		ceiling = octoV100NodeCPUs
		p.Octo = true
	}

	if partition != "" && constraint != "" {
		return policyError(stepMemoryTier, ErrIllegalMemoryTier,
			"%dGB gpus (%s) cannot be combined with ram tier %q (%s)", gb, constraint, ram, partition)
	}

	p.RAMTier = ram
	if ceiling > 0 {
		p.CPUCeiling = &ceiling
	}
	if partition != "" {
		p.Partition = partition
		r.emit("--partition", partition)
	}
	if constraint != "" {
		p.Constraint = constraint
		r.emit("--constraint", constraint)
	}
	if p.Feature != "" {
		r.emit("-C", p.Feature)
	}
	return nil
}

// nodeCapacity is the number of GPUs one node of the selected family holds.
func nodeCapacity(octo bool) int {
	if octo {
		return octoNodeGPUs
	}
	return quadNodeGPUs
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func (p *Plan) hardwareSummary() string {
	switch {
	case p.Partition != "":
		return "partition " + p.Partition
	case p.Constraint != "":
		return "constraint " + p.Constraint
	default:
		return fmt.Sprintf("default %d-gpu partition", quadNodeGPUs)
	}
}
