// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package testbed

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownLocation is matched by every UnknownLocationError.
var ErrUnknownLocation = errors.New("unknown location")

// UnknownLocationError is returned when a location name has no work cell.
type UnknownLocationError struct {
	// Name is the location name received from the executor
	Name string
}

// Error implements the error interface.
func (e *UnknownLocationError) Error() string {
	return fmt.Sprintf("unknown location %q (known: %s)", e.Name, strings.Join(LocationNames(), ", "))
}

// Is lets errors.Is match ErrUnknownLocation.
func (e *UnknownLocationError) Is(target error) bool {
	return target == ErrUnknownLocation
}

type amrResource struct {
	name string
	amr  AMR
}

// amrResources maps executor resource names to robots. Its order is the
// scan order of MatchAMRResource.
var amrResources = []amrResource{
	{name: "amr1", amr: AMR1},
	{name: "amr2", amr: AMR2},
}

var locations = map[string]WorkCell{
	"Robot-Arm-1": RobotArm1,
	"Robot-Arm-2": RobotArm2,
	"Inspect":     Inspection,
	"Depot":       Depot,
}

// ParseAMRResource resolves a single executor resource name. Unknown names
// are not an error: a task may list resources that are not robots.
func ParseAMRResource(name string) (AMR, bool) {
	for _, r := range amrResources {
		if r.name == name {
			return r.amr, true
		}
	}
	return 0, false
}

// MatchAMRResource returns the first known robot whose resource name appears
// in resources.
//
// The scan walks the registry table, not the incoming list, so when a task
// names several robots the one registered first wins. This tie-break is an
// artifact of the lookup order and carries no priority meaning.
func MatchAMRResource(resources []string) (AMR, bool) {
	for _, r := range amrResources {
		if slices.Contains(resources, r.name) {
			return r.amr, true
		}
	}
	return 0, false
}

// ParseLocation resolves an executor location name to its work cell.
// There is no fallback: unknown names fail with *UnknownLocationError.
func ParseLocation(name string) (WorkCell, error) {
	cell, ok := locations[name]
	if !ok {
		return Undefined, &UnknownLocationError{Name: name}
	}
	return cell, nil
}

// LocationNames returns the accepted location names in sorted order.
func LocationNames() []string {
	names := make([]string, 0, len(locations))
	for name := range locations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
