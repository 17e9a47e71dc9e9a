package models

import (
	"fmt"
	"sort"
	"strings"
)

// Scheduler names a denoising schedule supported by the diffusion worker.
type Scheduler string

const (
	SchedulerDDIM               Scheduler = "DDIM"
	SchedulerDPMSolverMultistep Scheduler = "DPMSolverMultistep"
	SchedulerHeunDiscrete       Scheduler = "HeunDiscrete"
	SchedulerKarrasDPM          Scheduler = "KarrasDPM"
	SchedulerKEulerAncestral    Scheduler = "K_EULER_ANCESTRAL"
	SchedulerKEuler             Scheduler = "K_EULER"
	SchedulerPNDM               Scheduler = "PNDM"
)

// SchedulerSpec carries the worker-side configuration a scheduler name maps to.
// KarrasDPM is DPMSolverMultistep with karras sigmas switched on.
type SchedulerSpec struct {
	Class           string `json:"class"`
	UseKarrasSigmas bool   `json:"use_karras_sigmas,omitempty"`
}

var schedulerSpecs = map[Scheduler]SchedulerSpec{
	SchedulerDDIM:               {Class: "DDIMScheduler"},
	SchedulerDPMSolverMultistep: {Class: "DPMSolverMultistepScheduler"},
	SchedulerHeunDiscrete:       {Class: "HeunDiscreteScheduler"},
	SchedulerKarrasDPM:          {Class: "DPMSolverMultistepScheduler", UseKarrasSigmas: true},
	SchedulerKEulerAncestral:    {Class: "EulerAncestralDiscreteScheduler"},
	SchedulerKEuler:             {Class: "EulerDiscreteScheduler"},
	SchedulerPNDM:               {Class: "PNDMScheduler"},
}

// Spec resolves the worker configuration for the scheduler
func (s Scheduler) Spec() (SchedulerSpec, bool) {
	spec, ok := schedulerSpecs[s]
	return spec, ok
}

// Valid reports whether the scheduler name is one of the supported choices
func (s Scheduler) Valid() bool {
	_, ok := schedulerSpecs[s]
	return ok
}

// SchedulerNames lists the supported scheduler names in stable order
func SchedulerNames() []string {
	names := make([]string, 0, len(schedulerSpecs))
	for name := range schedulerSpecs {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// ErrUnknownScheduler builds the validation error for an unsupported name
func ErrUnknownScheduler(name string) error {
	return fmt.Errorf("unknown scheduler %q, valid choices: %s", name, strings.Join(SchedulerNames(), ", "))
}

// RefineMode selects the optional second-stage refinement pass.
type RefineMode string

const (
	RefineNone           RefineMode = "no_refiner"
	RefineExpertEnsemble RefineMode = "expert_ensemble_refiner"
	RefineBaseImage      RefineMode = "base_image_refiner"
)

// Valid reports whether the refine mode is one of the supported choices
func (r RefineMode) Valid() bool {
	switch r {
	case RefineNone, RefineExpertEnsemble, RefineBaseImage:
		return true
	}
	return false
}
