// Package drivers hosts the local output panels: annunciator hardware wired
// straight to the host (GPIO header pins, MCP23017 expanders) that accepts
// the same pin actions as serial boards, addressed by a configured serial id.
package drivers

import "context"

// OutputPanel is a local, output-only display target. Panels are configured
// by filling the exported struct fields and become usable after Setup.
type OutputPanel interface {
	Setup(ctx context.Context) error
	SetPin(pin uint16, state bool) error

	// Serial returns the board id output rules address the panel by.
	Serial() string
	String() string
	IsReady() bool
	Close() error
}
