// Package fusebypass selects the SKU a pre-production chip is bypassed to.
//
// A pre-production chip has no SKU fuse burned yet. Bypass supplies the fuse
// values for a SKU over the wire instead, provided the board's speedo and
// IDDQ measurements fall inside that SKU's limits. The limits, the fuses and
// the SKUs each board supports come from a policy file parsed with cfgparse.
//
// # Selection
//
// A request names a SKU, by name or number, or asks for AutoSku:
//
//	d, err := fusebypass.Select(fusebypass.Request{Target: "auto"}, board)
//	if err != nil {
//	    return err
//	}
//	if d.Applied {
//	    payload, _ := d.Info.MarshalBinary()
//	    // download payload to the fuse_bypass partition
//	}
//
// A Decision that is not Applied is a successful no-op: no target was given,
// or the board is not a pre-production part.
package fusebypass
