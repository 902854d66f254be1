// Package audio handles raw PCM for the mailbox engine.
//
// It provides:
//   - Broadcaster: fan-out of one capture stream to every recording station
//   - Capture: a supervised capture command feeding a Broadcaster
//   - Players that block for the length of a clip
//   - Peak normalisation, zstd blob compression and WAV export
//
// All audio is signed 16-bit little-endian mono at a configured rate.
package audio
