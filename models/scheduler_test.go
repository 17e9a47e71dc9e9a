package models

import "testing"

func TestSchedulerSpecs(t *testing.T) {
	spec, ok := SchedulerKarrasDPM.Spec()
	if !ok {
		t.Fatal("KarrasDPM should resolve")
	}
	if spec.Class != "DPMSolverMultistepScheduler" || !spec.UseKarrasSigmas {
		t.Errorf("KarrasDPM resolved to %+v, want DPMSolverMultistep with karras sigmas", spec)
	}

	spec, ok = SchedulerDPMSolverMultistep.Spec()
	if !ok || spec.UseKarrasSigmas {
		t.Errorf("DPMSolverMultistep should resolve without karras sigmas, got %+v", spec)
	}

	if _, ok := Scheduler("Euler").Spec(); ok {
		t.Error("unsupported scheduler name should not resolve")
	}
}

func TestSchedulerValid(t *testing.T) {
	for _, name := range SchedulerNames() {
		if !Scheduler(name).Valid() {
			t.Errorf("listed scheduler %q reported invalid", name)
		}
	}
	if Scheduler("").Valid() {
		t.Error("empty scheduler name should be invalid")
	}
}

func TestSchedulerNamesCount(t *testing.T) {
	names := SchedulerNames()
	if len(names) != 7 {
		t.Fatalf("expected 7 supported schedulers, got %d: %v", len(names), names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("scheduler names not sorted: %v", names)
		}
	}
}

func TestRefineModeValid(t *testing.T) {
	for _, mode := range []RefineMode{RefineNone, RefineExpertEnsemble, RefineBaseImage} {
		if !mode.Valid() {
			t.Errorf("refine mode %q reported invalid", mode)
		}
	}
	if RefineMode("double_refiner").Valid() {
		t.Error("unknown refine mode should be invalid")
	}
}
