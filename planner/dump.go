package planner

import (
	"github.com/fxamacker/cbor/v2"
)

// blockRecord is the wire shape of a Block for dry-run inspection,
// using compact integer keys the way seedhammer.com/bc/urtypes encodes
// its CBOR records.
type blockRecord struct {
	Seq             int     `cbor:"1,keyasint"`
	DX              float64 `cbor:"2,keyasint"`
	DY              float64 `cbor:"3,keyasint"`
	LengthMM        float64 `cbor:"4,keyasint"`
	StartSpeedMMS   float64 `cbor:"5,keyasint"`
	CruiseSpeedMMS  float64 `cbor:"6,keyasint"`
	EndSpeedMMS     float64 `cbor:"7,keyasint"`
	NominalSpeedMMS float64 `cbor:"8,keyasint"`
	AccelMMS2       float64 `cbor:"9,keyasint"`
	AccelDistMM     float64 `cbor:"10,keyasint"`
	CruiseDistMM    float64 `cbor:"11,keyasint"`
	DecelDistMM     float64 `cbor:"12,keyasint"`
	PenDown         bool    `cbor:"13,keyasint,omitempty"`
}

var dumpEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Dump serializes a plan's block sequence into a compact, deterministic
// CBOR encoding, suitable for a dry-run collaborator to inspect or diff
// without ever opening the device.
func Dump(blocks []Block) ([]byte, error) {
	records := make([]blockRecord, len(blocks))
	for i, b := range blocks {
		records[i] = blockRecord{
			Seq:             b.Seq,
			DX:              b.DX,
			DY:              b.DY,
			LengthMM:        b.LengthMM,
			StartSpeedMMS:   b.StartSpeedMMS,
			CruiseSpeedMMS:  b.CruiseSpeedMMS,
			EndSpeedMMS:     b.EndSpeedMMS,
			NominalSpeedMMS: b.NominalSpeedMMS,
			AccelMMS2:       b.AccelMMS2,
			AccelDistMM:     b.AccelDistMM,
			CruiseDistMM:    b.CruiseDistMM,
			DecelDistMM:     b.DecelDistMM,
			PenDown:         b.PenDown,
		}
	}
	return dumpEncMode.Marshal(records)
}

// LoadDump decodes a dump produced by Dump back into a block sequence,
// reconstructing the unit direction vector from DX/DY/LengthMM.
func LoadDump(data []byte) ([]Block, error) {
	var records []blockRecord
	if err := cbor.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	blocks := make([]Block, len(records))
	for i, r := range records {
		ux, uy := 0.0, 0.0
		if r.LengthMM > 0 {
			ux, uy = r.DX/r.LengthMM, r.DY/r.LengthMM
		}
		blocks[i] = Block{
			Seq:             r.Seq,
			DX:              r.DX,
			DY:              r.DY,
			LengthMM:        r.LengthMM,
			UnitX:           ux,
			UnitY:           uy,
			StartSpeedMMS:   r.StartSpeedMMS,
			CruiseSpeedMMS:  r.CruiseSpeedMMS,
			EndSpeedMMS:     r.EndSpeedMMS,
			NominalSpeedMMS: r.NominalSpeedMMS,
			AccelMMS2:       r.AccelMMS2,
			AccelDistMM:     r.AccelDistMM,
			CruiseDistMM:    r.CruiseDistMM,
			DecelDistMM:     r.DecelDistMM,
			PenDown:         r.PenDown,
		}
	}
	return blocks, nil
}
