package icom

import "github.com/dougsko/rigd/pkg/rig"

// Model ids
const (
	ModelIC7300 = 3073
	ModelIC705  = 3085
)

var ic7300 = model{
	id:   ModelIC7300,
	name: "IC-7300",
	addr: 0x94,
	rx:   []rig.FreqRange{{Min: 30000, Max: 74800000}},
	tx: []rig.FreqRange{
		{Min: 1800000, Max: 2000000}, {Min: 3500000, Max: 4000000}, {Min: 5255000, Max: 5405000},
		{Min: 7000000, Max: 7300000}, {Min: 10100000, Max: 10150000}, {Min: 14000000, Max: 14350000},
		{Min: 18068000, Max: 18168000}, {Min: 21000000, Max: 21450000}, {Min: 24890000, Max: 24990000},
		{Min: 28000000, Max: 29700000}, {Min: 50000000, Max: 54000000}, {Min: 70000000, Max: 70500000},
	},
}

var ic705 = model{
	id:   ModelIC705,
	name: "IC-705",
	addr: 0xa4,
	rx:   []rig.FreqRange{{Min: 30000, Max: 199999999}, {Min: 400000000, Max: 470000000}},
	tx: []rig.FreqRange{
		{Min: 1800000, Max: 54000000}, {Min: 144000000, Max: 148000000}, {Min: 430000000, Max: 450000000},
	},
}

func init() {
	rig.Register(ic7300.caps())
	rig.Register(ic705.caps())
}
