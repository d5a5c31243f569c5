// Package planner derives the set of Jobs and their intra-source dependency
// edges for a Source, per spec.md §4.2. Grounded on
// original_source/debile/master/orm.py's Source.create_jobs, generalized
// from a flat per-check loop into the indep/affinity/build/binary graph the
// spec describes.
package planner

import (
	"github.com/coreos/debile/internal/model"
)

// existingBinary looks up an already-uploaded Binary for (source, arch), so
// re-planning a source (e.g. after its suite gains an architecture) never
// creates a duplicate build job for work that already produced output.
func existingBinary(source *model.Source, archName string) *model.Binary {
	for _, job := range source.Jobs {
		if job.Binary != nil && job.Arch.Name == archName {
			return job.Binary
		}
	}
	return nil
}

// hasJob reports whether source already has a job for (check, arch), used
// both by the idempotent re-plan supplement and internally to avoid
// re-deriving jobs Plan already created in an earlier call.
func hasJob(source *model.Source, checkName, archName string) bool {
	for _, job := range source.Jobs {
		if job.Check.Name == checkName && job.Arch.Name == archName {
			return true
		}
	}
	return false
}

func declaresArch(source *model.Source, name string) bool {
	for _, a := range source.Arches {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Plan appends the Jobs and dependency edges a fresh (or re-planned) Source
// needs to source.Jobs. checks and the suite's architecture handling must
// already be resolved onto source (GroupSuite, Component, Arches, Affinity).
func Plan(source *model.Source) {
	checks := source.GroupSuite.Checks

	// Step 1: one job per source check, on arch "source", no dependencies.
	for _, check := range checks {
		if !check.Source {
			continue
		}
		if hasJob(source, check.Name, model.ArchSource) {
			continue
		}
		source.Jobs = append(source.Jobs, &model.Job{
			Source: source,
			Check:  check,
			Arch:   &model.Architecture{Name: model.ArchSource},
			State:  model.StatePending,
		})
	}

	// Step 2: decide the indep-build arch.
	archIndep, archIndepArch := decideArchIndep(source)

	// Step 3: one build job per (build check, target arch) with no
	// pre-existing binary, skipping "all" unless a dedicated indep build is
	// required. Track the per-arch build job so binary jobs and the indep
	// fan-out (step 4) can find it.
	buildJobs := map[string]*model.Job{}
	for _, check := range checks {
		if !check.Build {
			continue
		}
		for _, arch := range source.Arches {
			if arch.Name == model.ArchAll && archIndep != archIndepAll {
				continue
			}
			if existingBinary(source, arch.Name) != nil {
				continue
			}
			if hasJob(source, check.Name, arch.Name) {
				buildJobs[arch.Name] = findJob(source, check.Name, arch.Name)
				continue
			}
			job := &model.Job{
				Source: source,
				Check:  check,
				Arch:   arch,
				State:  model.StatePending,
			}
			source.Jobs = append(source.Jobs, job)
			buildJobs[arch.Name] = job
		}
	}

	// Step 4: when indep rides the affinity build, every other arch build
	// depends on it (indep output must exist before per-arch binaries use
	// it).
	if archIndep == archIndepAffinity {
		if indepJob, ok := buildJobs[archIndepArch.Name]; ok {
			for archName, job := range buildJobs {
				if archName == archIndepArch.Name {
					continue
				}
				addDependency(job, indepJob)
			}
		}
	}

	var archIndepBuildJob *model.Job
	if archIndep != archIndepNone {
		archIndepBuildJob = buildJobs[archIndepArch.Name]
	}

	// Step 5: one binary-check job per (binary check, target arch),
	// attaching any existing Binary and depending on the matching build job
	// plus, if distinct, the indep build job.
	for _, check := range checks {
		if !check.Binary {
			continue
		}
		for _, arch := range source.Arches {
			if hasJob(source, check.Name, arch.Name) {
				continue
			}
			job := &model.Job{
				Source: source,
				Check:  check,
				Arch:   arch,
				Binary: existingBinary(source, arch.Name),
				State:  model.StatePending,
			}
			if buildJob, ok := buildJobs[arch.Name]; ok {
				addDependency(job, buildJob)
			}
			if archIndepBuildJob != nil && buildJobs[arch.Name] != archIndepBuildJob {
				addDependency(job, archIndepBuildJob)
			}
			source.Jobs = append(source.Jobs, job)
		}
	}
}

type archIndepMode int

const (
	archIndepNone archIndepMode = iota
	archIndepAffinity
	archIndepAll
)

// decideArchIndep implements spec.md §4.2 step 2.
func decideArchIndep(source *model.Source) (archIndepMode, *model.Architecture) {
	if !declaresArch(source, model.ArchAll) {
		return archIndepNone, nil
	}
	if existingBinary(source, model.ArchAll) != nil {
		return archIndepNone, nil
	}
	if source.Affinity != nil && declaresArch(source, source.Affinity.Name) &&
		existingBinary(source, source.Affinity.Name) == nil {
		return archIndepAffinity, source.Affinity
	}
	return archIndepAll, &model.Architecture{Name: model.ArchAll}
}

func findJob(source *model.Source, checkName, archName string) *model.Job {
	for _, job := range source.Jobs {
		if job.Check.Name == checkName && job.Arch.Name == archName {
			return job
		}
	}
	return nil
}

func addDependency(job, dependsOn *model.Job) {
	for _, existing := range job.DependsOn {
		if existing == dependsOn {
			return
		}
	}
	job.DependsOn = append(job.DependsOn, dependsOn)
}
