// Package cfgparse parses the sectioned key/value language used by flashing
// configuration files, fuse policies, NCT tables and BDK test plans.
//
// # Format
//
// A document is a sequence of sections. Each section is enclosed in angle
// brackets and holds key:value pairs separated by semicolons:
//
//	<device:emmc; instance:3>
//	<name:BCT; id:2; type:bct; size:3145728>
//
// Text outside sections is ignored, and '#' starts a comment that runs to the
// end of the line. Keys and values are trimmed, and folded to lowercase
// unless WithCaseSensitive is given.
//
// # Callbacks
//
// The parser does not interpret sections. It hands every section to a
// Callback as a Record, and the callback steers parsing by returning
// Continue, Stop or Error. Callers keep their state in an accumulator the
// callback closes over:
//
//	var names []string
//	_, err := cfgparse.ParseReader(r, func(rec cfgparse.Record) cfgparse.Status {
//	    if v, ok := rec.Get("name"); ok {
//	        names = append(names, v)
//	    }
//	    return cfgparse.Continue
//	})
package cfgparse
