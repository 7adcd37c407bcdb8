package model

import (
	"strings"
)

// VehicleType identifies the kind of vehicle a slot pool accepts.
type VehicleType string

const (
	VehicleCar        VehicleType = "Car"
	VehicleMotorcycle VehicleType = "Motorcycle"
	VehicleBus        VehicleType = "Bus"
	VehicleTruck      VehicleType = "Truck"
	VehicleBicycle    VehicleType = "Bicycle"
	VehicleVan        VehicleType = "Van"
)

// VehicleTypes lists every supported vehicle type.
var VehicleTypes = []VehicleType{VehicleCar, VehicleMotorcycle, VehicleBus, VehicleTruck, VehicleBicycle, VehicleVan}

// ParseVehicleType matches raw case-insensitively against the supported vehicle types.
func ParseVehicleType(raw string) (VehicleType, bool) {
	raw = strings.TrimSpace(raw)
	for _, vt := range VehicleTypes {
		if strings.EqualFold(raw, string(vt)) {
			return vt, true
		}
	}
	return "", false
}

// SpaceType is the physical category of a parking space.
type SpaceType string

const (
	SpaceOpen        SpaceType = "Open"
	SpaceCovered     SpaceType = "Covered"
	SpaceUnderground SpaceType = "Underground"
	SpaceMultilevel  SpaceType = "Multilevel"
	SpaceIndoor      SpaceType = "Indoor"
	SpaceOutdoor     SpaceType = "Outdoor"
)

var spaceTypes = []SpaceType{SpaceOpen, SpaceCovered, SpaceUnderground, SpaceMultilevel, SpaceIndoor, SpaceOutdoor}

// ParseSpaceType normalises capitalisation ("covered" -> "Covered") and validates the value.
func ParseSpaceType(raw string) (SpaceType, bool) {
	raw = strings.TrimSpace(raw)
	for _, st := range spaceTypes {
		if strings.EqualFold(raw, string(st)) {
			return st, true
		}
	}
	return "", false
}
