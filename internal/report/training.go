// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package report

import "context"

const (
	defaultTrainingModules = 5
	pointsPerModule        = 50
)

// TrainingProgress is an owner's security awareness training state.
type TrainingProgress struct {
	TotalModules      int `json:"total_modules"`
	CompletedModules  int `json:"completed_modules"`
	InProgressModules int `json:"in_progress_modules"`
	TotalPoints       int `json:"total_points"`
}

// TrainingProgressSource supplies training progress. The training catalog
// lives outside this service.
type TrainingProgressSource interface {
	Progress(ctx context.Context, owner string) (TrainingProgress, error)
}

// StaticTraining serves fixed progress per owner. Owners without an entry
// have completed nothing.
type StaticTraining struct {
	Modules    int
	Completed  map[string]int
	InProgress map[string]int
}

// Progress implements TrainingProgressSource.
func (s StaticTraining) Progress(ctx context.Context, owner string) (TrainingProgress, error) {
	if err := ctx.Err(); err != nil {
		return TrainingProgress{}, err
	}
	modules := s.Modules
	if modules <= 0 {
		modules = defaultTrainingModules
	}
	completed := min(s.Completed[owner], modules)
	return TrainingProgress{
		TotalModules:      modules,
		CompletedModules:  completed,
		InProgressModules: s.InProgress[owner],
		TotalPoints:       completed * pointsPerModule,
	}, nil
}
