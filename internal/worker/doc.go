// Package worker runs the external capture and analysis programs.
//
// Each Run owns its own process and buffers; concurrent runs never share
// state and resolve independently. Output is captured, not streamed.
package worker
