// Package wire implements the line-delimited JSON protocol spoken between
// the driver and the worker process.
//
// Each request is one JSON object on a single line of the worker's standard
// input, and each response is one JSON object on a single line of its
// standard output. The Framer reassembles complete lines from the raw byte
// stream, and the codec functions translate between Go values and wire
// payloads.
//
// # Requests
//
// A request carries a command tag plus the fields that command needs:
//
//	{"command":"prepare","query":"SELECT * FROM users WHERE id = ?"}
//	{"command":"execute","stmt":3,"params":[42]}
//	{"command":"close","stmt":3}
//
// # Responses
//
// A response is either a result or a failure:
//
//	{"status":"ok","columns":[["id","Int32"],["name","Utf8"]],"rows":[[1,"Alice"]],"num_rows":1}
//	{"status":"error","message":"Parser Error: syntax error at or near \"FORM\""}
//
// Column descriptors are [name, type] pairs; the type string is the engine's
// declared type name (for example "Utf8", "Int32" or
// "Timestamp(Microsecond, None)").
package wire
