package yaesu

import "github.com/dougsko/rigd/pkg/rig"

// Model ids
const (
	ModelFT991 = 1035
	ModelFTX1  = 1051
)

var ft991 = &dialect{
	model: ModelFT991,
	name:  "FT-991",
	id:    "0570",
	rx:    []rig.FreqRange{{Min: 30000, Max: 56000000}, {Min: 118000000, Max: 164000000}, {Min: 420000000, Max: 470000000}},
	tx:    []rig.FreqRange{{Min: 1800000, Max: 54000000}, {Min: 144000000, Max: 148000000}, {Min: 430000000, Max: 450000000}},
	// PC005..PC100 in watts of a 100 W rig
	power:     level{get: "PC", set: "PC", digits: 3, scale: 100, bounds: unit(0.05, 0.01, rig.Clamp)},
	clarifier: separateClarifier,
	baudRate:  38400,
	bandCodes: 17,
}

// The FTX-1 reports and sets power as PC<amp><percent>; amp 2 is the
// field head with the optimized amplifier attached.
var ftx1 = &dialect{
	model:     ModelFTX1,
	name:      "FTX-1",
	id:        "0840",
	rx:        []rig.FreqRange{{Min: 30000, Max: 56000000}, {Min: 118000000, Max: 164000000}, {Min: 420000000, Max: 470000000}},
	tx:        []rig.FreqRange{{Min: 1800000, Max: 54000000}, {Min: 144000000, Max: 148000000}, {Min: 430000000, Max: 450000000}},
	power:     level{get: "PC", set: "PC2", skip: 1, digits: 3, scale: 100, bounds: unit(0.05, 0.01, rig.Clamp)},
	clarifier: signedClarifier,
	baudRate:  38400,
	bandCodes: 17,
}

func init() {
	rig.Register(ft991.caps())
	rig.Register(ftx1.caps())
}
