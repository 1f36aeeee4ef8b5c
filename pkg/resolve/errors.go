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
	"errors"
	"fmt"
)

// PolicyGuideURL documents the QoS limits enforced by the cluster.
const PolicyGuideURL = "http://www.idris.fr/media/eng/ia/guide_nouvel_utilisateur_ia-eng.pdf"

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrIllegalMemoryTier = errors.New("illegal gpu memory and ram tier combination")
	ErrNoCPUCeiling      = errors.New("maximum cpu count requested without a known cpu ceiling")
	ErrDebugGPUCap       = errors.New("too many gpus for the debug qos")
	ErrTimeCap           = errors.New("requested time exceeds the qos limit")
)

// PolicyError reports an illegal request. No part of the plan is usable
// when resolution returns one.
type PolicyError struct {
	Step   string
	Err    error
	Detail string
}

func (e *PolicyError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Step, e.Err, e.Detail)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

func policyError(step string, err error, format string, a ...any) *PolicyError {
	return &PolicyError{Step: step, Err: err, Detail: fmt.Sprintf(format, a...)}
}
