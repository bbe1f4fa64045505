// Package resonance holds build metadata shared by the resonance binaries.
package resonance

// Version is the current release of resonance.
const Version = "0.1.0"
