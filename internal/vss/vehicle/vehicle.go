// Package vehicle holds a typed subset of the standard VSS vehicle tree.
package vehicle

import (
	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/vss"
)

// Vehicle is the root of the tree.
type Vehicle struct {
	Speed            *vss.Leaf[float32]
	TraveledDistance *vss.Leaf[float64]
	Body             *Body
	Driver           *Driver
}

// New returns a vehicle tree with zero values.
func New() *Vehicle {
	return &Vehicle{
		Speed: &vss.Leaf[float32]{
			Path:        "Vehicle.Speed",
			Description: "Vehicle speed.",
			Type:        broker.EntryTypeSensor,
		},
		TraveledDistance: &vss.Leaf[float64]{
			Path:        "Vehicle.TraveledDistance",
			Description: "Odometer reading, total distance traveled during the lifetime of the vehicle.",
			Type:        broker.EntryTypeSensor,
		},
		Body:   NewBody(),
		Driver: NewDriver(),
	}
}

func (v *Vehicle) VSSPath() string { return "Vehicle" }

func (v *Vehicle) Children() []vss.Node {
	return []vss.Node{v.Speed, v.TraveledDistance, v.Body, v.Driver}
}

// Body is Vehicle.Body.
type Body struct {
	Horn *Horn
}

func NewBody() *Body { return &Body{Horn: NewHorn()} }

func (b *Body) VSSPath() string      { return "Vehicle.Body" }
func (b *Body) Children() []vss.Node { return []vss.Node{b.Horn} }

// Horn is Vehicle.Body.Horn.
type Horn struct {
	IsActive *vss.Leaf[bool]
}

func NewHorn() *Horn {
	return &Horn{
		IsActive: &vss.Leaf[bool]{
			Path:        "Vehicle.Body.Horn.IsActive",
			Description: "Horn active or inactive. True = Active. False = Inactive.",
			Type:        broker.EntryTypeActuator,
		},
	}
}

func (h *Horn) VSSPath() string      { return "Vehicle.Body.Horn" }
func (h *Horn) Children() []vss.Node { return []vss.Node{h.IsActive} }

// Driver is Vehicle.Driver.
type Driver struct {
	HeartRate            *vss.Leaf[uint32]
	IsEyesOnRoad         *vss.Leaf[bool]
	AttentiveProbability *vss.Leaf[float32]
}

func NewDriver() *Driver {
	return &Driver{
		HeartRate: &vss.Leaf[uint32]{
			Path:        "Vehicle.Driver.HeartRate",
			Description: "Heart rate of the driver.",
			Type:        broker.EntryTypeSensor,
		},
		IsEyesOnRoad: &vss.Leaf[bool]{
			Path:        "Vehicle.Driver.IsEyesOnRoad",
			Description: "Has driver the eyes on road or not?",
			Type:        broker.EntryTypeSensor,
		},
		AttentiveProbability: &vss.Leaf[float32]{
			Path:        "Vehicle.Driver.AttentiveProbability",
			Description: "Probability of attentiveness of the driver.",
			Type:        broker.EntryTypeSensor,
		},
	}
}

func (d *Driver) VSSPath() string { return "Vehicle.Driver" }

func (d *Driver) Children() []vss.Node {
	return []vss.Node{d.HeartRate, d.IsEyesOnRoad, d.AttentiveProbability}
}

// Metadata returns the broker metadata of every leaf in the tree, keyed by path.
func Metadata() map[string]broker.Metadata {
	return map[string]broker.Metadata{
		"Vehicle.Speed":                       {DataType: broker.DataTypeFloat, EntryType: broker.EntryTypeSensor, Unit: "km/h"},
		"Vehicle.TraveledDistance":            {DataType: broker.DataTypeDouble, EntryType: broker.EntryTypeSensor, Unit: "km"},
		"Vehicle.Body.Horn.IsActive":          {DataType: broker.DataTypeBoolean, EntryType: broker.EntryTypeActuator},
		"Vehicle.Driver.HeartRate":            {DataType: broker.DataTypeUint16, EntryType: broker.EntryTypeSensor, Unit: "bpm"},
		"Vehicle.Driver.IsEyesOnRoad":         {DataType: broker.DataTypeBoolean, EntryType: broker.EntryTypeSensor},
		"Vehicle.Driver.AttentiveProbability": {DataType: broker.DataTypeFloat, EntryType: broker.EntryTypeSensor, Unit: "percent"},
	}
}
